package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements AttemptStore on a Postgres attempts table.
// This is the default store: attempts survive restarts, and the limiter's
// fail-closed handling covers database outages.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed attempt store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CountInWindow counts attempts after cutoff for one (action, identity) key
func (s *PostgresStore) CountInWindow(ctx context.Context, action, identity string, cutoff time.Time) (int, time.Time, error) {
	query := `
		SELECT COUNT(*), MIN(attempted_at)
		FROM auth_attempts
		WHERE action = $1 AND identity = $2 AND attempted_at > $3
	`

	var count int
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, query, action, identity, cutoff).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count attempts: %w", err)
	}

	if !oldest.Valid {
		return count, time.Time{}, nil
	}
	return count, oldest.Time, nil
}

// Record stores one attempt row
func (s *PostgresStore) Record(ctx context.Context, action, identity string, at time.Time) error {
	query := `
		INSERT INTO auth_attempts (action, identity, attempted_at)
		VALUES ($1, $2, $3)
	`

	if _, err := s.db.ExecContext(ctx, query, action, identity, at); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// PruneBefore deletes attempt rows older than cutoff. Run by the sweeper;
// correctness does not depend on it because reads filter by window.
func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) error {
	query := `DELETE FROM auth_attempts WHERE attempted_at <= $1`

	if _, err := s.db.ExecContext(ctx, query, cutoff); err != nil {
		return fmt.Errorf("failed to prune attempts: %w", err)
	}
	return nil
}
