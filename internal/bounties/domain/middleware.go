package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/tracker"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	CreateAndFund(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
	Refresh(ctx context.Context) ([]chains.Issue, error)
	LoadIssues(ctx context.Context, repo tracker.RepoRef) ([]tracker.Issue, error)
}

// LoggingMiddleware returns a coordinator middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) CreateAndFund(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	start := time.Now()
	res, err := m.next.CreateAndFund(ctx, req)
	attrs := []any{
		"repo", req.Repo.String(),
		"difficulty", req.Difficulty,
		"bounty", req.Bounty,
	}
	if res != nil {
		if res.Issue != nil {
			attrs = append(attrs, "issue", res.Issue.HTMLURL)
		}
		attrs = append(attrs, "pending", res.Pending)
	}
	attrs = append(attrs, "duration", time.Since(start), "error", err)
	m.logger.Info("CreateAndFund", attrs...)
	return res, err
}

func (m *loggingMiddleware) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	start := time.Now()
	res, err := m.next.Claim(ctx, req)
	m.logger.Info("Claim",
		"issue", req.IssueID,
		"duration", time.Since(start),
		"error", err,
	)
	return res, err
}

func (m *loggingMiddleware) Refresh(ctx context.Context) ([]chains.Issue, error) {
	start := time.Now()
	issues, err := m.next.Refresh(ctx)
	m.logger.Debug("Refresh",
		"count", len(issues),
		"duration", time.Since(start),
		"error", err,
	)
	return issues, err
}

func (m *loggingMiddleware) LoadIssues(ctx context.Context, repo tracker.RepoRef) ([]tracker.Issue, error) {
	start := time.Now()
	issues, err := m.next.LoadIssues(ctx, repo)
	m.logger.Debug("LoadIssues",
		"repo", repo.String(),
		"count", len(issues),
		"duration", time.Since(start),
		"error", err,
	)
	return issues, err
}
