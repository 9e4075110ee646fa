package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Identity proofs received from the provider callback
	CREATE TABLE IF NOT EXISTS proofs (
		id TEXT PRIMARY KEY,
		nullifier TEXT NOT NULL,
		user_identifier TEXT NOT NULL,
		attestation_id TEXT,
		received_at TEXT NOT NULL,
		UNIQUE(nullifier, user_identifier)
	);

	-- Tracker issues whose funding transaction failed
	CREATE TABLE IF NOT EXISTS orphans (
		id TEXT PRIMARY KEY,
		tracker_url TEXT NOT NULL,
		repo TEXT,
		creator TEXT,
		bounty TEXT,
		difficulty TEXT,
		tx_hash TEXT,
		failure_class TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolution_note TEXT
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_proofs_user ON proofs(user_identifier, received_at);
	CREATE INDEX IF NOT EXISTS idx_proofs_received ON proofs(received_at);
	CREATE INDEX IF NOT EXISTS idx_orphans_creator ON orphans(creator);
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
func (s *SQLiteStore) SaveProof(ctx context.Context, p *Proof) error {
	if p.ID == "" {
		p.ID = generateID()
	}
	p.ReceivedAt = nowOr(p.ReceivedAt)

	query := `
		INSERT INTO proofs (id, nullifier, user_identifier, attestation_id, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(nullifier, user_identifier) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, p.ID, p.Nullifier, p.UserIdentifier, p.AttestationID, formatTime(p.ReceivedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateProof
	}
	return nil
}

// LatestProof retrieves the most recent proof
func (s *SQLiteStore) LatestProof(ctx context.Context, userIdentifier string) (*Proof, error) {
	query := `
		SELECT id, nullifier, user_identifier, COALESCE(attestation_id, ''), received_at
		FROM proofs
	`
	var args []any
	if userIdentifier != "" {
		query += ` WHERE user_identifier = ?`
		args = append(args, userIdentifier)
	}
	query += ` ORDER BY received_at DESC LIMIT 1`

	var p Proof
	var receivedAt string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Nullifier, &p.UserIdentifier, &p.AttestationID, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, fmt.Errorf("parsing received_at: %w", err)
	}
	return &p, nil
}

// RecordOrphan stores an unfunded tracker issue
func (s *SQLiteStore) RecordOrphan(ctx context.Context, o *Orphan) error {
	if o.ID == "" {
		o.ID = generateID()
	}
	o.CreatedAt = nowOr(o.CreatedAt)

	query := `
		INSERT INTO orphans (id, tracker_url, repo, creator, bounty, difficulty, tx_hash, failure_class, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.TrackerURL, o.Repo, o.Creator, o.Bounty, o.Difficulty, o.TxHash, o.FailureClass, o.Reason, formatTime(o.CreatedAt),
	)
	return err
}

// ListOrphans lists orphans, newest first
func (s *SQLiteStore) ListOrphans(ctx context.Context, filter OrphanFilter) ([]Orphan, error) {
	query := `
		SELECT id, tracker_url, COALESCE(repo, ''), COALESCE(creator, ''), COALESCE(bounty, ''),
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
		query += ` AND creator = ?`
		args = append(args, filter.Creator)
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
		var createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(
			&o.ID, &o.TrackerURL, &o.Repo, &o.Creator, &o.Bounty, &o.Difficulty, &o.TxHash,
			&o.FailureClass, &o.Reason, &createdAt, &resolvedAt, &o.ResolutionNote,
		); err != nil {
			return nil, err
		}
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if resolvedAt.Valid {
			t, err := parseTime(resolvedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing resolved_at: %w", err)
			}
			o.ResolvedAt = &t
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// ResolveOrphan marks an orphan as handled
func (s *SQLiteStore) ResolveOrphan(ctx context.Context, id, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orphans SET resolved_at = ?, resolution_note = ? WHERE id = ? AND resolved_at IS NULL`,
		formatTime(time.Now()), note, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM orphans WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyResolved
}
