// Package tracker provides the issue tracker gateway used to list
// repositories and to open bounty issues before they are funded on-chain.
package tracker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/celution/bountyd/internal/chains"
)

// RepoRef identifies a repository as owner/name.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (RepoRef, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}

var issueURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)(?:/issues/(\d+))?`)

// ParseIssueURL extracts the repository and, when present, the issue number
// from a tracker URL.
func ParseIssueURL(raw string) (RepoRef, int, bool) {
	m := issueURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return RepoRef{}, 0, false
	}
	ref := RepoRef{Owner: m[1], Name: m[2]}
	if m[3] == "" {
		return ref, 0, true
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return ref, 0, true
	}
	return ref, n, true
}

// Repo is a repository visible to the signed-in user.
type Repo struct {
	Ref         RepoRef
	Description string
	Private     bool
	HTMLURL     string
	Language    string
	Stars       int
	OpenIssues  int
	UpdatedAt   time.Time
}

// Issue is a tracker issue.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	HTMLURL   string
	Labels    []string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewIssue is the payload for creating an issue.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// Label is a repository label.
type Label struct {
	Name        string
	Color       string
	Description string
}

// Gateway is the issue tracker facade. The credential is bound when the
// gateway is constructed.
type Gateway interface {
	ListRepositories(ctx context.Context) ([]Repo, error)
	ListIssues(ctx context.Context, repo RepoRef) ([]Issue, error)
	CreateIssue(ctx context.Context, repo RepoRef, issue NewIssue) (*Issue, error)
	EnsureLabels(ctx context.Context, repo RepoRef, labels []Label) error
	CheckWriteAccess(ctx context.Context, repo RepoRef) error
}

const (
	LabelBounty   = "bounty"
	LabelCelution = "celution"
)

// DifficultyLabel returns the label name for d, e.g. "difficulty:medium".
func DifficultyLabel(d chains.Difficulty) string {
	return "difficulty:" + strings.ToLower(d.String())
}

// BountyLabels is the full label set created on a repository before the
// first bounty issue is opened there.
func BountyLabels() []Label {
	return []Label{
		{Name: DifficultyLabel(chains.Easy), Color: "56DF7C", Description: "Easy bounty"},
		{Name: DifficultyLabel(chains.Medium), Color: "FF9A51", Description: "Medium bounty"},
		{Name: DifficultyLabel(chains.Hard), Color: "B490FF", Description: "Hard bounty"},
		{Name: LabelBounty, Color: "7CC0FF", Description: "Funded on-chain bounty"},
		{Name: LabelCelution, Color: "FCFF52", Description: "Created through Celution"},
	}
}

// IssueLabels returns the labels attached to a new bounty issue.
func IssueLabels(d chains.Difficulty, extra ...string) []string {
	labels := append([]string{}, extra...)
	return append(labels, DifficultyLabel(d), LabelBounty, LabelCelution)
}

// DifficultyFromLabels returns the difficulty encoded in a label set.
func DifficultyFromLabels(labels []string) (chains.Difficulty, bool) {
	for _, l := range labels {
		if !strings.HasPrefix(l, "difficulty:") {
			continue
		}
		d, err := chains.ParseDifficulty(strings.TrimPrefix(l, "difficulty:"))
		if err == nil {
			return d, true
		}
	}
	return 0, false
}
