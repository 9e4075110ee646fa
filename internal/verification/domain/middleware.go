package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	RecordProof(ctx context.Context, sub ProofSubmission) (*ProofRecord, error)
	Latest(ctx context.Context, userIdentifier string) (*ProofRecord, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
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

func (m *loggingMiddleware) RecordProof(ctx context.Context, sub ProofSubmission) (*ProofRecord, error) {
	start := time.Now()
	rec, err := m.next.RecordProof(ctx, sub)
	duplicate := rec != nil && rec.Duplicate
	m.logger.Info("RecordProof",
		"user", sub.UserIdentifier,
		"attestation", sub.AttestationID,
		"duplicate", duplicate,
		"duration", time.Since(start),
		"error", err,
	)
	return rec, err
}

func (m *loggingMiddleware) Latest(ctx context.Context, userIdentifier string) (*ProofRecord, error) {
	start := time.Now()
	rec, err := m.next.Latest(ctx, userIdentifier)
	m.logger.Debug("Latest",
		"user", userIdentifier,
		"duration", time.Since(start),
		"error", err,
	)
	return rec, err
}
