package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_ListIssues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/issues" {
			t.Errorf("Expected path /api/v1/issues, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		if got := r.URL.Query().Get("status"); got != "open" {
			t.Errorf("Expected status=open, got %q", got)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 3, "status": "Open", "trackerUrl": "https://github.com/acme/widgets/issues/3"},
			},
			"total": 1,
		})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.ListIssues(context.Background(), IssueFilter{Status: "open"})
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}

	if len(resp.Data) != 1 {
		t.Fatalf("ListIssues() returned %d issues, want 1", len(resp.Data))
	}
	if resp.Data[0].ID != 3 {
		t.Errorf("ListIssues()[0].ID = %d, want 3", resp.Data[0].ID)
	}
}

func TestClient_GetIssue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/issues/42" {
			t.Errorf("Expected path /api/v1/issues/42, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":     42,
			"bounty": "100000000000000000",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	issue, err := client.GetIssue(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if issue.Bounty != "100000000000000000" {
		t.Errorf("GetIssue().Bounty = %s", issue.Bounty)
	}
}

func TestClient_LatestProof(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/verify" {
			t.Errorf("Expected path /api/verify, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user"); got != "0xabc" {
			t.Errorf("Expected user=0xabc, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"nullifier": "123", "userIdentifier": "0xabc"})
	}))
	defer server.Close()

	proof, err := New(server.URL).LatestProof(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("LatestProof() error = %v", err)
	}
	if proof.Nullifier != "123" {
		t.Errorf("LatestProof().Nullifier = %s, want 123", proof.Nullifier)
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "NOT_FOUND",
				"message": "Issue not found",
			},
		})
	}))
	defer server.Close()

	_, err := New(server.URL).GetIssue(context.Background(), 9)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.Status != http.StatusNotFound {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL).Version(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("Expected 502 APIError, got %v", err)
	}
}

func TestClient_UserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "bounty/1.0.0" {
			t.Errorf("User-Agent = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"version": "1.0.0"})
	}))
	defer server.Close()

	info, err := New(server.URL, WithUserAgent("bounty/1.0.0")).Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if info.Version != "1.0.0" {
		t.Errorf("Version() = %s", info.Version)
	}
}

func TestClient_IsVerified(t *testing.T) {
	const addr = "0x00000000000000000000000000000000000a11ce"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/addresses/"+addr+"/verified" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"address": addr, "verified": true})
	}))
	defer server.Close()

	v, err := New(server.URL).IsVerified(context.Background(), addr)
	if err != nil {
		t.Fatalf("IsVerified() error = %v", err)
	}
	if !v.Verified || v.Address != addr {
		t.Errorf("IsVerified() = %+v", v)
	}
}
