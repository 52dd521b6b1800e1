package items

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// CounterService mutates usage counters with server-side clamping.
//
// Every mutation is a single atomic UPDATE: the database computes
// GREATEST(0, ...) and bumps the version in the same statement, so two
// concurrent decrements at count=1 can never both observe 1 and write 0
// twice, and the count can never go negative.
//
// Callers that tracked a prior version pass it as expectedVersion and get
// ErrConflict on a lost update. Callers that only display the latest value
// pass nil and always win (last write wins), matching the optimistic client
// protocol: the client renders its prediction immediately and reconciles
// with the returned authoritative value, reverting on any failure.
type CounterService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewCounterService creates a counter service. metrics may be nil.
func NewCounterService(db *sql.DB, metrics *observability.Metrics) *CounterService {
	return &CounterService{db: db, metrics: metrics}
}

// Get returns the current counter for an item owned by the account
func (s *CounterService) Get(ctx context.Context, accountID, itemID int64) (*UsageCounter, error) {
	query := `
		SELECT uc.item_id, uc.count, uc.version, uc.updated_at
		FROM usage_counters uc
		JOIN items i ON i.id = uc.item_id
		WHERE uc.item_id = $1 AND i.owner_id = $2
	`

	counter := &UsageCounter{}
	err := s.db.QueryRowContext(ctx, query, itemID, accountID).
		Scan(&counter.ItemID, &counter.Count, &counter.Version, &counter.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	return counter, nil
}

// ApplyDelta adds delta to the counter, clamping at zero. Decrementing below
// zero is not an error; the result is simply zero.
func (s *CounterService) ApplyDelta(ctx context.Context, accountID, itemID int64, delta int, expectedVersion *int64) (*CounterResult, error) {
	result, err := s.mutate(ctx, accountID, itemID, expectedVersion,
		`GREATEST(0, uc.count + $3)`, delta)
	s.observe("delta", err)
	return result, err
}

// SetAbsolute replaces the count with the given value, clamped at zero
func (s *CounterService) SetAbsolute(ctx context.Context, accountID, itemID int64, value int, expectedVersion *int64) (*CounterResult, error) {
	result, err := s.mutate(ctx, accountID, itemID, expectedVersion,
		`GREATEST(0, $3)`, value)
	s.observe("absolute", err)
	return result, err
}

// mutate runs the shared atomic update. countExpr references $3 for the
// delta or absolute value; ownership is enforced by joining items.
func (s *CounterService) mutate(ctx context.Context, accountID, itemID int64, expectedVersion *int64, countExpr string, arg int) (*CounterResult, error) {
	query := `
		UPDATE usage_counters uc
		SET count = ` + countExpr + `, version = uc.version + 1, updated_at = NOW()
		FROM items i
		WHERE uc.item_id = i.id AND uc.item_id = $1 AND i.owner_id = $2
	`
	args := []interface{}{itemID, accountID, arg}
	if expectedVersion != nil {
		query += ` AND uc.version = $4`
		args = append(args, *expectedVersion)
	}
	query += ` RETURNING uc.count, uc.version`

	result := &CounterResult{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&result.NewCount, &result.Version)
	if err == sql.ErrNoRows {
		// No row matched: either the item is gone or the version check
		// failed. Distinguish so the client knows whether to re-fetch.
		if expectedVersion == nil {
			return nil, ErrNotFound
		}
		return nil, s.classifyMiss(ctx, accountID, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update counter: %w", err)
	}
	return result, nil
}

// classifyMiss decides between ErrNotFound and ErrConflict after a versioned
// update matched nothing
func (s *CounterService) classifyMiss(ctx context.Context, accountID, itemID int64) error {
	query := `
		SELECT 1
		FROM usage_counters uc
		JOIN items i ON i.id = uc.item_id
		WHERE uc.item_id = $1 AND i.owner_id = $2
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, itemID, accountID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update counter: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CounterConflictsTotal.Inc()
	}
	return ErrConflict
}

func (s *CounterService) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == ErrConflict:
		status = "conflict"
	case err == ErrNotFound:
		status = "not_found"
	case err != nil:
		status = "error"
	}
	s.metrics.CounterMutationsTotal.WithLabelValues(operation, status).Inc()
}
