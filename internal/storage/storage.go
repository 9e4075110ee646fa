package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/celution/bountyd/internal/config"
)

// ProofStore records identity proofs relayed by the provider callback
type ProofStore interface {
	SaveProof(ctx context.Context, p *Proof) error
	// LatestProof returns the newest proof, restricted to userIdentifier when
	// it is non-empty.
	LatestProof(ctx context.Context, userIdentifier string) (*Proof, error)
}

// OrphanStore records tracker issues whose on-chain funding failed
type OrphanStore interface {
	RecordOrphan(ctx context.Context, o *Orphan) error
	ListOrphans(ctx context.Context, filter OrphanFilter) ([]Orphan, error)
	ResolveOrphan(ctx context.Context, id, note string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	ProofStore
	OrphanStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Proof is a stored verification result
type Proof struct {
	ID             string
	Nullifier      string
	UserIdentifier string
	AttestationID  string
	ReceivedAt     time.Time
}

// Orphan is a tracker issue created without its bounty being funded
type Orphan struct {
	ID             string
	TrackerURL     string
	Repo           string
	Creator        string
	Bounty         string // wei
	Difficulty     string
	TxHash         string
	FailureClass   string
	Reason         string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	ResolutionNote string
}

// OrphanFilter contains filter options for listing orphans
type OrphanFilter struct {
	Creator         string
	IncludeResolved bool
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
