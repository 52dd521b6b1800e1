package subscription

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// Store is the read surface the gate needs
type Store interface {
	GetByAccount(ctx context.Context, accountID int64) (*Subscription, error)
}

// Gate decides whether an account may perform mutating operations.
//
// Every check re-derives the state with Evaluate; a small TTL cache of
// derived states absorbs repeated checks from bursts of requests. Storage
// failures fail closed: an account whose subscription cannot be read is
// treated as expired for mutation purposes.
type Gate struct {
	store   Store
	cache   *lru.LRU[int64, State]
	metrics *observability.Metrics

	// now is replaceable in tests
	now func() time.Time
}

// NewGate creates a subscription gate. cacheTTL bounds how stale a derived
// state may be served; zero disables caching. metrics may be nil.
func NewGate(store Store, cacheTTL time.Duration, metrics *observability.Metrics) *Gate {
	g := &Gate{
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
	if cacheTTL > 0 {
		g.cache = lru.NewLRU[int64, State](1024, nil, cacheTTL)
	}
	return g
}

// Check returns the account's derived state. When the state blocks mutation
// it returns an ExpiredError; any storage failure is also a denial.
func (g *Gate) Check(ctx context.Context, accountID int64) (State, error) {
	if g.cache != nil {
		if state, ok := g.cache.Get(accountID); ok {
			return state, g.denialFor(state)
		}
	}

	sub, err := g.store.GetByAccount(ctx, accountID)
	if err != nil {
		if g.metrics != nil {
			g.metrics.SubscriptionGateDenialsTotal.WithLabelValues("unknown").Inc()
		}
		return "", fmt.Errorf("subscription check failed: %w", err)
	}

	state := Evaluate(sub, g.now())
	if g.metrics != nil {
		g.metrics.SubscriptionEvaluationsTotal.WithLabelValues(string(state)).Inc()
	}
	if g.cache != nil {
		g.cache.Add(accountID, state)
	}

	return state, g.denialFor(state)
}

// Invalidate drops the cached state for an account, used after lifecycle
// mutations (activate, cancel, reactivate) so the next check re-reads.
func (g *Gate) Invalidate(accountID int64) {
	if g.cache != nil {
		g.cache.Remove(accountID)
	}
}

func (g *Gate) denialFor(state State) error {
	if AllowsMutation(state) {
		return nil
	}
	if g.metrics != nil {
		g.metrics.SubscriptionGateDenialsTotal.WithLabelValues(string(state)).Inc()
	}
	return &ExpiredError{State: state}
}
