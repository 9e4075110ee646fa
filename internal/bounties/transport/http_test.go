package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
)

var (
	testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alice   = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
)

// mockChain implements chains.Reader for testing
type mockChain struct {
	issues   []chains.Issue
	verified map[common.Address]bool
	err      error
}

func (m *mockChain) ReadIssues(ctx context.Context) ([]chains.Issue, error) {
	return m.issues, m.err
}

func (m *mockChain) IsVerified(ctx context.Context, addr common.Address) (bool, error) {
	return m.verified[addr], m.err
}

func newTestRouter(chain *mockChain) http.Handler {
	h := NewHandler(chain, VersionResponse{Version: "1.2.0", MinClientVersion: "1.0.0", ChainID: 44787}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return testNow }
	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterRoutes)
	return r
}

func testIssues() []chains.Issue {
	eth, _ := new(big.Int).SetString("1500000000000000000", 10)
	return []chains.Issue{
		{ID: 1, Creator: alice, TrackerURL: "https://github.com/celution/demo/issues/1", Description: "Fix login", Bounty: eth, Difficulty: chains.Easy, CreatedAt: testNow.Unix() - 120, MinCompletionForStakeReturn: 80},
		{ID: 2, Creator: alice, TrackerURL: "https://github.com/celution/demo/issues/2", Description: "Add search", Bounty: big.NewInt(1), Difficulty: chains.Hard, AssignedTo: alice, Deadline: testNow.Unix() - 1, CreatedAt: testNow.Unix() - 3*86400},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_ListIssues(t *testing.T) {
	router := newTestRouter(&mockChain{issues: testIssues()})

	w := get(t, router, "/api/v1/issues")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListIssuesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 2, resp.Total)

	first := resp.Data[0]
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, "celution/demo", first.Repo)
	assert.Equal(t, "1500000000000000000", first.Bounty)
	assert.Equal(t, "1.5", first.BountyEther)
	assert.Equal(t, "Open", first.Status)
	assert.Equal(t, "Easy", first.Difficulty)
	assert.Equal(t, "2m ago", first.Age)
	assert.Empty(t, first.AssignedTo)
	assert.Equal(t, "0x00000000000000000000000000000000000a11ce", first.Creator)

	second := resp.Data[1]
	assert.Equal(t, "Expired", second.Status)
	assert.Equal(t, "3d ago", second.Age)
	assert.Equal(t, "0x00000000000000000000000000000000000a11ce", second.AssignedTo)
}

func TestHandler_ListIssues_Filters(t *testing.T) {
	router := newTestRouter(&mockChain{issues: testIssues()})

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []uint64
	}{
		{"open", "?status=open", http.StatusOK, []uint64{1}},
		{"assigned includes expired", "?status=assigned", http.StatusOK, []uint64{2}},
		{"difficulty", "?difficulty=hard", http.StatusOK, []uint64{2}},
		{"search", "?search=LOGIN", http.StatusOK, []uint64{1}},
		{"bad status", "?status=expired", http.StatusBadRequest, nil},
		{"bad difficulty", "?difficulty=insane", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/api/v1/issues"+tt.query)
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp ListIssuesResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			var ids []uint64
			for _, issue := range resp.Data {
				ids = append(ids, issue.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandler_GetIssue(t *testing.T) {
	router := newTestRouter(&mockChain{issues: testIssues()})

	w := get(t, router, "/api/v1/issues/2")
	require.Equal(t, http.StatusOK, w.Code)
	var issue IssueResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&issue))
	assert.Equal(t, uint64(2), issue.ID)
	assert.Equal(t, "Hard", issue.Difficulty)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/issues/99").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/issues/abc").Code)
}

func TestHandler_ChainErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"transient", failures.New(failures.Transient, "chain.read_issues", "", nil), http.StatusBadGateway},
		{"other", errors.New("abi mismatch"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockChain{err: tt.err})
			assert.Equal(t, tt.wantCode, get(t, router, "/api/v1/issues").Code)
		})
	}
}

func TestHandler_Verified(t *testing.T) {
	router := newTestRouter(&mockChain{verified: map[common.Address]bool{alice: true}})

	w := get(t, router, "/api/v1/addresses/0x00000000000000000000000000000000000a11ce/verified")
	require.Equal(t, http.StatusOK, w.Code)
	var resp VerificationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Verified)
	assert.Equal(t, "0x00000000000000000000000000000000000a11ce", resp.Address)

	w = get(t, router, "/api/v1/addresses/0x0000000000000000000000000000000000000b0b/verified")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Verified)

	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/addresses/alice/verified").Code)
}

func TestHandler_Version(t *testing.T) {
	w := get(t, newTestRouter(&mockChain{}), "/api/v1/version")
	require.Equal(t, http.StatusOK, w.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "1.2.0", resp.Version)
	assert.Equal(t, "1.0.0", resp.MinClientVersion)
	assert.Equal(t, int64(44787), resp.ChainID)
}

func TestHandler_NoChain(t *testing.T) {
	h := NewHandler(nil, VersionResponse{Version: "1.2.0"}, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", h.RegisterRoutes)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/api/v1/issues").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/api/v1/issues/1").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/api/v1/version").Code)
}
