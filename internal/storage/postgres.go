package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Identity proofs received from the provider callback
	CREATE TABLE IF NOT EXISTS proofs (
		id UUID PRIMARY KEY,
		nullifier TEXT NOT NULL,
		user_identifier TEXT NOT NULL,
		attestation_id TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(nullifier, user_identifier)
	);

	-- Tracker issues whose funding transaction failed
	CREATE TABLE IF NOT EXISTS orphans (
		id UUID PRIMARY KEY,
		tracker_url TEXT NOT NULL,
		repo TEXT,
		creator TEXT,
		bounty NUMERIC(78, 0),
		difficulty TEXT,
		tx_hash TEXT,
		failure_class TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMPTZ,
		resolution_note TEXT
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_proofs_user ON proofs(user_identifier, received_at DESC);
	CREATE INDEX IF NOT EXISTS idx_proofs_received ON proofs(received_at DESC);
	CREATE INDEX IF NOT EXISTS idx_orphans_creator ON orphans(creator);
	CREATE INDEX IF NOT EXISTS idx_orphans_open ON orphans(created_at DESC) WHERE resolved_at IS NULL;
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// SaveProof stores a proof. Re-delivery of the same nullifier for the same
// user returns ErrDuplicateProof.
func (s *PostgresStore) SaveProof(ctx context.Context, p *Proof) error {
	if p.ID == "" {
		p.ID = generateID()
	}
	p.ReceivedAt = nowOr(p.ReceivedAt)

	query := `
		INSERT INTO proofs (id, nullifier, user_identifier, attestation_id, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (nullifier, user_identifier) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, p.ID, p.Nullifier, p.UserIdentifier, p.AttestationID, p.ReceivedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateProof
	}
	return nil
}

// LatestProof retrieves the most recent proof
func (s *PostgresStore) LatestProof(ctx context.Context, userIdentifier string) (*Proof, error) {
	query := `
		SELECT id, nullifier, user_identifier, COALESCE(attestation_id, ''), received_at
		FROM proofs
	`
	var args []any
	if userIdentifier != "" {
		query += ` WHERE user_identifier = $1`
		args = append(args, userIdentifier)
	}
	query += ` ORDER BY received_at DESC LIMIT 1`

	var p Proof
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Nullifier, &p.UserIdentifier, &p.AttestationID, &p.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordOrphan stores an unfunded tracker issue
func (s *PostgresStore) RecordOrphan(ctx context.Context, o *Orphan) error {
	if o.ID == "" {
		o.ID = generateID()
	}
	o.CreatedAt = nowOr(o.CreatedAt)

	var bounty any
	if o.Bounty != "" {
		bounty = o.Bounty
	}

	query := `
		INSERT INTO orphans (id, tracker_url, repo, creator, bounty, difficulty, tx_hash, failure_class, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.TrackerURL, o.Repo, o.Creator, bounty, o.Difficulty, o.TxHash, o.FailureClass, o.Reason, o.CreatedAt,
	)
	return err
}

// ListOrphans lists orphans, newest first
func (s *PostgresStore) ListOrphans(ctx context.Context, filter OrphanFilter) ([]Orphan, error) {
	query := `
		SELECT id, tracker_url, COALESCE(repo, ''), COALESCE(creator, ''), COALESCE(bounty::TEXT, ''),
			COALESCE(difficulty, ''), COALESCE(tx_hash, ''), failure_class, COALESCE(reason, ''),
			created_at, resolved_at, COALESCE(resolution_note, '')
		FROM orphans
		WHERE 1=1
	`
	var args []any
	if !filter.IncludeResolved {
		query += ` AND resolved_at IS NULL`
	}
	if filter.Creator != "" {
		args = append(args, filter.Creator)
		query += fmt.Sprintf(` AND creator = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []Orphan
	for rows.Next() {
		var o Orphan
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&o.ID, &o.TrackerURL, &o.Repo, &o.Creator, &o.Bounty, &o.Difficulty, &o.TxHash,
			&o.FailureClass, &o.Reason, &o.CreatedAt, &resolvedAt, &o.ResolutionNote,
		); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			o.ResolvedAt = &t
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// ResolveOrphan marks an orphan as handled
func (s *PostgresStore) ResolveOrphan(ctx context.Context, id, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orphans SET resolved_at = NOW(), resolution_note = $1 WHERE id = $2 AND resolved_at IS NULL`,
		note, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM orphans WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyResolved
}
