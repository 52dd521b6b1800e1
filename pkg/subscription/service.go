package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ErrNotFound is returned when an account has no subscription record
var ErrNotFound = fmt.Errorf("subscription not found")

// PostgresService persists subscription records in PostgreSQL
type PostgresService struct {
	db              *sql.DB
	trialLengthDays int
}

// NewPostgresService creates a new PostgresService. trialLengthDays sets the
// trial period for new accounts; zero or negative falls back to
// DefaultTrialLengthDays. Existing rows keep the length they were created
// with.
func NewPostgresService(db *sql.DB, trialLengthDays int) *PostgresService {
	if trialLengthDays <= 0 {
		trialLengthDays = DefaultTrialLengthDays
	}
	return &PostgresService{db: db, trialLengthDays: trialLengthDays}
}

const subscriptionColumns = `
	id, account_id, trial_started_at, trial_length_days, expires_at,
	canceled_at, state, last_checked_at, created_at, updated_at
`

func scanSubscription(row *sql.Row) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.TrialStartedAt, &sub.TrialLengthDays,
		&sub.ExpiresAt, &sub.CanceledAt, &sub.CachedState, &sub.LastCheckedAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return sub, nil
}

// CreateTrial starts a trial subscription for a new account
func (s *PostgresService) CreateTrial(ctx context.Context, accountID int64, now time.Time) (*Subscription, error) {
	query := `
		INSERT INTO subscriptions (account_id, trial_started_at, trial_length_days, state)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + subscriptionColumns

	row := s.db.QueryRowContext(ctx, query, accountID, now, s.trialLengthDays, StateTrial)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create trial: %w", err)
	}
	return sub, nil
}

// GetByAccount retrieves the subscription for an account
func (s *PostgresService) GetByAccount(ctx context.Context, accountID int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE account_id = $1`
	return scanSubscription(s.db.QueryRowContext(ctx, query, accountID))
}

// Activate records a confirmed payment from the billing collaborator,
// extending access until expiresAt. Activation clears any cancellation.
func (s *PostgresService) Activate(ctx context.Context, accountID int64, expiresAt time.Time) (*Subscription, error) {
	query := `
		UPDATE subscriptions
		SET expires_at = $1, canceled_at = NULL, state = $2, updated_at = NOW()
		WHERE account_id = $3
		RETURNING ` + subscriptionColumns

	row := s.db.QueryRowContext(ctx, query, expiresAt, StateActive, accountID)
	sub, err := scanSubscription(row)
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate subscription: %w", err)
	}
	return sub, nil
}

// Cancel records an explicit user cancellation. Canceled accounts lose
// mutating access immediately but keep the distinct status for display and
// reactivation.
func (s *PostgresService) Cancel(ctx context.Context, accountID int64, now time.Time) (*Subscription, error) {
	query := `
		UPDATE subscriptions
		SET canceled_at = $1, state = $2, updated_at = NOW()
		WHERE account_id = $3
		RETURNING ` + subscriptionColumns

	row := s.db.QueryRowContext(ctx, query, now, StateCanceled, accountID)
	sub, err := scanSubscription(row)
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return sub, nil
}

// Reactivate clears a cancellation. The derived state after reactivation
// depends on the remaining timestamps (paid-up, in-trial, or expired).
func (s *PostgresService) Reactivate(ctx context.Context, accountID int64, now time.Time) (*Subscription, error) {
	query := `
		UPDATE subscriptions
		SET canceled_at = NULL, updated_at = NOW()
		WHERE account_id = $1
		RETURNING ` + subscriptionColumns

	row := s.db.QueryRowContext(ctx, query, accountID)
	sub, err := scanSubscription(row)
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}

	// Refresh the cached state so reads after reactivation are coherent
	state := Evaluate(sub, now)
	if state != sub.CachedState {
		if refreshed, rerr := s.RefreshState(ctx, sub, now); rerr == nil {
			sub = refreshed
		}
	}
	return sub, nil
}

// RefreshState recomputes the derived state and persists it with
// last_checked_at. This only updates the cache columns; access decisions
// never trust them over Evaluate.
func (s *PostgresService) RefreshState(ctx context.Context, sub *Subscription, now time.Time) (*Subscription, error) {
	state := Evaluate(sub, now)

	query := `
		UPDATE subscriptions
		SET state = $1, last_checked_at = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING ` + subscriptionColumns

	row := s.db.QueryRowContext(ctx, query, state, now, sub.ID)
	refreshed, err := scanSubscription(row)
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh subscription state: %w", err)
	}
	return refreshed, nil
}

// ListStale returns subscriptions whose cached state disagrees with the
// state derivable at now. Used by the sweeper to keep the cache columns
// honest for reporting queries.
func (s *PostgresService) ListStale(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	// The WHERE clause mirrors Evaluate: a cached state is stale when the
	// timestamps already imply a different one.
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE state != CASE
			WHEN canceled_at IS NOT NULL THEN 'canceled'
			WHEN expires_at IS NOT NULL AND expires_at > $1 THEN 'active'
			WHEN expires_at IS NOT NULL THEN 'expired'
			WHEN trial_started_at + make_interval(days => trial_length_days) > $1 THEN 'trial'
			ELSE 'expired'
		END
		ORDER BY updated_at
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		if err := rows.Scan(
			&sub.ID, &sub.AccountID, &sub.TrialStartedAt, &sub.TrialLengthDays,
			&sub.ExpiresAt, &sub.CanceledAt, &sub.CachedState, &sub.LastCheckedAt,
			&sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
