package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
)

type fakeGitHub struct {
	mu          sync.Mutex
	scopes      *string
	push        bool
	repoMissing bool
	created     []map[string]any
	labels      map[string]bool
	labelStatus int
}

func newFakeGitHub(t *testing.T, f *fakeGitHub) *GitHub {
	t.Helper()
	if f.labels == nil {
		f.labels = make(map[string]bool)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if f.scopes != nil {
			w.Header().Set("X-OAuth-Scopes", *f.scopes)
		}
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat"})
	})
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/user/repos?page=2>; rel="next"`, r.Host))
			writeJSON(w, http.StatusOK, []map[string]any{
				{"name": "widgets", "owner": map[string]any{"login": "acme"}, "stargazers_count": 5},
			})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"name": "gadgets", "owner": map[string]any{"login": "acme"}, "private": true},
		})
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		if f.repoMissing {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":        r.PathValue("repo"),
			"permissions": map[string]any{"push": f.push, "pull": true},
		})
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"number": 1, "title": "Bug", "labels": []map[string]any{{"name": "difficulty:hard"}}},
			{"number": 2, "title": "PR", "pull_request": map[string]any{"url": "x"}},
		})
	})
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = append(f.created, body)
		n := len(f.created)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   n,
			"title":    body["title"],
			"html_url": fmt.Sprintf("https://github.com/%s/%s/issues/%d", r.PathValue("owner"), r.PathValue("repo"), n),
		})
	})
	mux.HandleFunc("POST /repos/{owner}/{repo}/labels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		name, _ := body["name"].(string)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.labelStatus != 0 {
			writeJSON(w, f.labelStatus, map[string]any{"message": "boom"})
			return
		}
		if f.labels[name] {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "Validation Failed",
				"errors":  []map[string]any{{"resource": "Label", "code": "already_exists", "field": "name"}},
			})
			return
		}
		f.labels[name] = true
		writeJSON(w, http.StatusCreated, body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g, err := NewGitHub("test-token", slog.New(slog.NewTextHandler(io.Discard, nil)), WithBaseURL(srv.URL))
	require.NoError(t, err)
	return g
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func scopes(s string) *string { return &s }

var widgets = RepoRef{Owner: "acme", Name: "widgets"}

func TestCreateIssue(t *testing.T) {
	f := &fakeGitHub{scopes: scopes("read:user, repo"), push: true}
	g := newFakeGitHub(t, f)

	issue, err := g.CreateIssue(context.Background(), widgets, NewIssue{
		Title:  "Fix it",
		Body:   "details",
		Labels: IssueLabels(chains.Medium),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, issue.Number)
	assert.Equal(t, "https://github.com/acme/widgets/issues/1", issue.HTMLURL)

	require.Len(t, f.created, 1)
	assert.ElementsMatch(t, []any{"difficulty:medium", "bounty", "celution"}, f.created[0]["labels"])
}

func TestCreateIssue_PermissionChecks(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeGitHub
		want failures.Class
	}{
		{"missing repo scope", &fakeGitHub{scopes: scopes("read:user, user:email"), push: true}, failures.PermissionDenied},
		{"scope prefix is not a match", &fakeGitHub{scopes: scopes("repo:status, repo_deployment"), push: true}, failures.PermissionDenied},
		{"no push permission", &fakeGitHub{scopes: scopes("repo"), push: false}, failures.PermissionDenied},
		{"public_repo without push", &fakeGitHub{scopes: scopes("public_repo"), push: false}, failures.PermissionDenied},
		{"repository not found", &fakeGitHub{scopes: scopes("repo"), repoMissing: true}, failures.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGitHub(t, tt.fake)
			_, err := g.CreateIssue(context.Background(), widgets, NewIssue{Title: "x"})
			assert.Equal(t, tt.want, failures.ClassOf(err))
			assert.Empty(t, tt.fake.created)
		})
	}
}

func TestCheckWriteAccess_PublicRepoScope(t *testing.T) {
	f := &fakeGitHub{scopes: scopes("read:user, public_repo"), push: true}
	g := newFakeGitHub(t, f)
	assert.NoError(t, g.CheckWriteAccess(context.Background(), widgets))

	_, err := g.CreateIssue(context.Background(), widgets, NewIssue{Title: "Fix the flaky test"})
	require.NoError(t, err)
	assert.Len(t, f.created, 1)
}

func TestHasScope(t *testing.T) {
	assert.True(t, hasScope("repo", repoScope, publicScope))
	assert.True(t, hasScope("read:user, public_repo", repoScope, publicScope))
	assert.False(t, hasScope("repo:status", repoScope, publicScope))
	assert.False(t, hasScope("", repoScope, publicScope))
}

func TestCheckWriteAccess_NoScopeHeader(t *testing.T) {
	// Fine-grained tokens do not report scopes; only the push permission counts.
	g := newFakeGitHub(t, &fakeGitHub{push: true})
	assert.NoError(t, g.CheckWriteAccess(context.Background(), widgets))
}

func TestEnsureLabels(t *testing.T) {
	f := &fakeGitHub{labels: map[string]bool{"bounty": true}}
	g := newFakeGitHub(t, f)

	require.NoError(t, g.EnsureLabels(context.Background(), widgets, BountyLabels()))
	assert.Len(t, f.labels, len(BountyLabels()))

	f.labelStatus = http.StatusForbidden
	err := g.EnsureLabels(context.Background(), widgets, BountyLabels()[:1])
	assert.Equal(t, failures.PermissionDenied, failures.ClassOf(err))
}

func TestListRepositories_Paginates(t *testing.T) {
	g := newFakeGitHub(t, &fakeGitHub{})

	repos, err := g.ListRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "acme/widgets", repos[0].Ref.String())
	assert.Equal(t, 5, repos[0].Stars)
	assert.True(t, repos[1].Private)
}

func TestListIssues_SkipsPullRequests(t *testing.T) {
	g := newFakeGitHub(t, &fakeGitHub{})

	issues, err := g.ListIssues(context.Background(), widgets)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	d, ok := DifficultyFromLabels(issues[0].Labels)
	assert.True(t, ok)
	assert.Equal(t, chains.Hard, d)
}

func TestParseIssueURL(t *testing.T) {
	ref, n, ok := ParseIssueURL("https://github.com/acme/widgets/issues/42")
	require.True(t, ok)
	assert.Equal(t, widgets, ref)
	assert.Equal(t, 42, n)

	_, _, ok = ParseIssueURL("https://example.com/nothing")
	assert.False(t, ok)
}

func TestParseRepo(t *testing.T) {
	ref, err := ParseRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, widgets, ref)

	for _, bad := range []string{"", "acme", "acme/", "/widgets", "a/b/c"} {
		_, err := ParseRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestCurrentUser(t *testing.T) {
	g := newFakeGitHub(t, &fakeGitHub{})
	login, err := g.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
}
