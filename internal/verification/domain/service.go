package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celution/bountyd/internal/identity"
	"github.com/celution/bountyd/internal/observability/metrics"
	"github.com/celution/bountyd/internal/proofbus"
	"github.com/celution/bountyd/internal/storage"
)

// Common errors returned by the proof service.
var (
	ErrNotFound       = errors.New("no proof recorded")
	ErrInvalidProof   = errors.New("invalid proof")
	ErrInvalidAddress = errors.New("invalid user identifier")
)

// ProofStore defines the storage operations needed by the proof service.
type ProofStore interface {
	SaveProof(ctx context.Context, p *storage.Proof) error
	LatestProof(ctx context.Context, userIdentifier string) (*storage.Proof, error)
}

// Publisher pushes recorded proofs to stream subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev proofbus.Event) error
}

type service struct {
	proofs ProofStore
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the verification backend service.
func NewService(proofs ProofStore, bus Publisher, logger *slog.Logger) *service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		proofs: proofs,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// RecordProof stores a proof relayed by the identity provider and pushes it
// to stream subscribers. A re-delivered proof is acknowledged but not pushed
// again.
func (s *service) RecordProof(ctx context.Context, sub ProofSubmission) (*ProofRecord, error) {
	nullifier, err := identity.ParseNullifier(sub.Nullifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	user, err := NormalizeUser(sub.UserIdentifier)
	if err != nil {
		return nil, err
	}

	p := &storage.Proof{
		Nullifier:      nullifier.String(),
		UserIdentifier: user,
		AttestationID:  sub.AttestationID,
		ReceivedAt:     s.now().UTC(),
	}
	err = s.proofs.SaveProof(ctx, p)
	if errors.Is(err, storage.ErrDuplicateProof) {
		rec := toRecord(p)
		rec.Duplicate = true
		metrics.ProofRecorded("duplicate")
		return rec, nil
	}
	if err != nil {
		metrics.ProofRecorded("error")
		return nil, fmt.Errorf("saving proof: %w", err)
	}
	metrics.ProofRecorded("stored")

	ev := proofbus.Event{Nullifier: p.Nullifier, UserIdentifier: p.UserIdentifier, ReceivedAt: p.ReceivedAt}
	if err := s.bus.Publish(ctx, ev); err != nil {
		// Stored proofs stay reachable through Latest.
		s.logger.Warn("publishing proof failed", "user", user, "error", err)
	}
	return toRecord(p), nil
}

// Latest returns the most recent proof, optionally for one user.
func (s *service) Latest(ctx context.Context, userIdentifier string) (*ProofRecord, error) {
	if userIdentifier != "" {
		user, err := NormalizeUser(userIdentifier)
		if err != nil {
			return nil, err
		}
		userIdentifier = user
	}
	p, err := s.proofs.LatestProof(ctx, userIdentifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting latest proof: %w", err)
	}
	return toRecord(p), nil
}

// NormalizeUser turns a user identifier into a lowercase 0x-prefixed address.
func NormalizeUser(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id != "" && !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	if !common.IsHexAddress(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, id)
	}
	return id, nil
}

func toRecord(p *storage.Proof) *ProofRecord {
	return &ProofRecord{
		ID:             p.ID,
		Nullifier:      p.Nullifier,
		UserIdentifier: p.UserIdentifier,
		AttestationID:  p.AttestationID,
		ReceivedAt:     p.ReceivedAt,
	}
}
