package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/celution/bountyd/internal/failures"
)

const (
	scopesHeader = "X-OAuth-Scopes"
	repoScope    = "repo"
	publicScope  = "public_repo"
	pageSize     = 100
)

// GitHub implements Gateway against the GitHub REST API.
type GitHub struct {
	client *github.Client
	logger *slog.Logger
}

var _ Gateway = (*GitHub)(nil)

type options struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures the GitHub gateway.
type Option func(*options)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBaseURL points the gateway at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// NewGitHub creates a gateway authenticated with token.
func NewGitHub(token string, logger *slog.Logger, opts ...Option) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client := github.NewClient(o.httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHub{client: client, logger: logger.With("component", "tracker")}, nil
}

// ListRepositories returns the repositories of the signed-in user, most
// recently updated first.
func (g *GitHub) ListRepositories(ctx context.Context) ([]Repo, error) {
	const op = "tracker.list_repositories"
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}

	var repos []Repo
	for {
		page, resp, err := g.client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, mapError(op, err)
		}
		for _, r := range page {
			repos = append(repos, Repo{
				Ref:         RepoRef{Owner: r.GetOwner().GetLogin(), Name: r.GetName()},
				Description: r.GetDescription(),
				Private:     r.GetPrivate(),
				HTMLURL:     r.GetHTMLURL(),
				Language:    r.GetLanguage(),
				Stars:       r.GetStargazersCount(),
				OpenIssues:  r.GetOpenIssuesCount(),
				UpdatedAt:   r.GetUpdatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			return repos, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListIssues returns the open issues of repo, excluding pull requests.
func (g *GitHub) ListIssues(ctx context.Context, repo RepoRef) ([]Issue, error) {
	const op = "tracker.list_issues"
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}

	var issues []Issue
	for {
		page, resp, err := g.client.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, mapError(op, err)
		}
		for _, i := range page {
			if i.IsPullRequest() {
				continue
			}
			issues = append(issues, toIssue(i))
		}
		if resp.NextPage == 0 {
			return issues, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateIssue opens an issue after confirming write access.
func (g *GitHub) CreateIssue(ctx context.Context, repo RepoRef, issue NewIssue) (*Issue, error) {
	const op = "tracker.create_issue"
	if err := g.CheckWriteAccess(ctx, repo); err != nil {
		return nil, err
	}

	req := &github.IssueRequest{
		Title: github.String(issue.Title),
		Body:  github.String(issue.Body),
	}
	if len(issue.Labels) > 0 {
		labels := append([]string{}, issue.Labels...)
		req.Labels = &labels
	}

	created, _, err := g.client.Issues.Create(ctx, repo.Owner, repo.Name, req)
	if err != nil {
		return nil, mapError(op, err)
	}
	out := toIssue(created)
	g.logger.Info("issue created", "repo", repo.String(), "number", out.Number, "url", out.HTMLURL)
	return &out, nil
}

// EnsureLabels creates any missing labels. Labels that already exist are
// skipped; other failures are joined and returned.
func (g *GitHub) EnsureLabels(ctx context.Context, repo RepoRef, labels []Label) error {
	const op = "tracker.ensure_labels"
	var errs []error
	for _, l := range labels {
		_, _, err := g.client.Issues.CreateLabel(ctx, repo.Owner, repo.Name, &github.Label{
			Name:        github.String(l.Name),
			Color:       github.String(l.Color),
			Description: github.String(l.Description),
		})
		if err == nil || isAlreadyExists(err) {
			continue
		}
		errs = append(errs, mapError(op, fmt.Errorf("label %s: %w", l.Name, err)))
	}
	return errors.Join(errs...)
}

type repoPermissions struct {
	Permissions struct {
		Admin bool `json:"admin"`
		Push  bool `json:"push"`
		Pull  bool `json:"pull"`
	} `json:"permissions"`
}

// CurrentUser returns the login the token belongs to.
func (g *GitHub) CurrentUser(ctx context.Context) (string, error) {
	const op = "tracker.current_user"
	user, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return "", mapError(op, err)
	}
	return user.GetLogin(), nil
}

// CheckWriteAccess verifies the token carries the repo or public_repo scope
// (when the server reports scopes) and the user can push to repo. Whether a
// public_repo token reaches a private repository is left to the push check.
func (g *GitHub) CheckWriteAccess(ctx context.Context, repo RepoRef) error {
	const op = "tracker.check_write_access"

	_, resp, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return mapError(op, err)
	}
	if resp != nil && len(resp.Header.Values(scopesHeader)) > 0 && !hasScope(resp.Header.Get(scopesHeader), repoScope, publicScope) {
		return failures.New(failures.PermissionDenied, op, "token is missing the repo scope, sign in again", nil)
	}

	req, err := g.client.NewRequest(http.MethodGet, fmt.Sprintf("repos/%s/%s", repo.Owner, repo.Name), nil)
	if err != nil {
		return failures.New(failures.Unknown, op, "", err)
	}
	var perms repoPermissions
	if _, err := g.client.Do(ctx, req, &perms); err != nil {
		return mapError(op, err)
	}
	if !perms.Permissions.Push {
		return failures.New(failures.PermissionDenied, op, "no write access to "+repo.String(), nil)
	}
	return nil
}

// hasScope reports whether the scopes header grants any of want.
func hasScope(header string, want ...string) bool {
	for _, s := range strings.Split(header, ",") {
		if slices.Contains(want, strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

func toIssue(i *github.Issue) Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		HTMLURL:   i.GetHTMLURL(),
		Labels:    labels,
		Author:    i.GetUser().GetLogin(),
		CreatedAt: i.GetCreatedAt().Time,
		UpdatedAt: i.GetUpdatedAt().Time,
	}
}

func isAlreadyExists(err error) bool {
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil || er.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range er.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return len(er.Errors) == 0
}

// mapError classifies GitHub API errors.
func mapError(op string, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return failures.New(failures.Transient, op, "rate limited", err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return failures.New(failures.Transient, op, "secondary rate limit", err)
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch code := er.Response.StatusCode; {
		case code == http.StatusUnauthorized:
			return failures.New(failures.PermissionDenied, op, "credential rejected, sign in again", err)
		case code == http.StatusForbidden:
			return failures.New(failures.PermissionDenied, op, "access forbidden", err)
		case code == http.StatusNotFound:
			return failures.New(failures.NotFound, op, "repository not found or not accessible", err)
		case code >= 500:
			return failures.New(failures.Transient, op, er.Response.Status, err)
		}
	}

	if failures.IsNetworkError(err) {
		return failures.New(failures.Transient, op, "", err)
	}
	return failures.New(failures.Unknown, op, "", err)
}
