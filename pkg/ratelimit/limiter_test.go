package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock steps time manually in limiter tests
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(NewMemoryStore(), nil)
	limiter.now = clock.now
	return limiter, clock
}

func TestCheckAndRecordAllowsUnderLimit(t *testing.T) {
	limiter, _ := newTestLimiter()
	policy := DefaultLoginPolicy()

	for i := 0; i < policy.Limit; i++ {
		decision, err := limiter.CheckAndRecord(context.Background(), "1.2.3.4|user@example.com", policy)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, policy.Limit-i-1, decision.Remaining)
	}
}

func TestCheckAndRecordRejectsOverLimit(t *testing.T) {
	limiter, clock := newTestLimiter()
	policy := Policy{Action: "login", Limit: 5, Window: 900 * time.Second}

	for i := 0; i < 5; i++ {
		_, err := limiter.CheckAndRecord(context.Background(), "attacker", policy)
		require.NoError(t, err)
		clock.advance(10 * time.Second)
	}

	// 6th attempt within 900s of the 1st must be rejected
	decision, err := limiter.CheckAndRecord(context.Background(), "attacker", policy)
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.False(t, decision.Allowed)

	// 50s have elapsed since the first attempt, so it leaves the window in 850s
	assert.Equal(t, 850*time.Second, decision.RetryAfter)
}

func TestWindowRolls(t *testing.T) {
	limiter, clock := newTestLimiter()
	policy := Policy{Action: "login", Limit: 5, Window: 900 * time.Second}

	for i := 0; i < 5; i++ {
		_, err := limiter.CheckAndRecord(context.Background(), "x", policy)
		require.NoError(t, err)
	}

	_, err := limiter.CheckAndRecord(context.Background(), "x", policy)
	assert.True(t, IsThrottled(err))

	// Once 900s pass from the batch, all five fall out of the window together
	clock.advance(901 * time.Second)

	decision, err := limiter.CheckAndRecord(context.Background(), "x", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 4, decision.Remaining)
}

func TestRejectedAttemptsAreNotRecorded(t *testing.T) {
	limiter, clock := newTestLimiter()
	policy := Policy{Action: "login", Limit: 2, Window: time.Minute}

	_, err := limiter.CheckAndRecord(context.Background(), "x", policy)
	require.NoError(t, err)
	clock.advance(10 * time.Second)
	_, err = limiter.CheckAndRecord(context.Background(), "x", policy)
	require.NoError(t, err)

	// Hammer while blocked; none of these may extend the lockout
	for i := 0; i < 20; i++ {
		clock.advance(time.Second)
		_, err = limiter.CheckAndRecord(context.Background(), "x", policy)
		assert.True(t, IsThrottled(err))
	}

	// First attempt expires 60s after it was made; only 30s elapsed so far
	clock.advance(31 * time.Second)
	decision, err := limiter.CheckAndRecord(context.Background(), "x", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestActionKeyspacesAreIsolated(t *testing.T) {
	limiter, _ := newTestLimiter()
	login := DefaultLoginPolicy()
	reset := DefaultPasswordResetPolicy()

	// Exhaust login for this identity
	for i := 0; i < login.Limit; i++ {
		_, err := limiter.CheckAndRecord(context.Background(), "user@example.com", login)
		require.NoError(t, err)
	}
	_, err := limiter.CheckAndRecord(context.Background(), "user@example.com", login)
	assert.True(t, IsThrottled(err))

	// The same identity can still request a password reset
	decision, err := limiter.CheckAndRecord(context.Background(), "user@example.com", reset)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, reset.Limit-1, decision.Remaining)
}

func TestIdentitiesAreIsolated(t *testing.T) {
	limiter, _ := newTestLimiter()
	policy := Policy{Action: "login", Limit: 1, Window: time.Minute}

	_, err := limiter.CheckAndRecord(context.Background(), "a", policy)
	require.NoError(t, err)
	_, err = limiter.CheckAndRecord(context.Background(), "a", policy)
	assert.True(t, IsThrottled(err))

	decision, err := limiter.CheckAndRecord(context.Background(), "b", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// brokenStore fails every operation
type brokenStore struct{}

func (brokenStore) CountInWindow(context.Context, string, string, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store unavailable")
}

func (brokenStore) Record(context.Context, string, string, time.Time) error {
	return errors.New("store unavailable")
}

func (brokenStore) PruneBefore(context.Context, time.Time) error {
	return errors.New("store unavailable")
}

func TestStoreErrorFailsClosed(t *testing.T) {
	limiter := NewLimiter(brokenStore{}, nil)
	policy := DefaultLoginPolicy()

	decision, err := limiter.CheckAndRecord(context.Background(), "anyone", policy)
	require.Error(t, err)
	assert.True(t, IsThrottled(err), "storage failure must look like a throttle to the client")
	assert.False(t, decision.Allowed)
	assert.Equal(t, policy.Window, decision.RetryAfter)
}

func TestMemoryStorePruneBefore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	require.NoError(t, store.Record(context.Background(), "login", "x", now.Add(-2*time.Hour)))
	require.NoError(t, store.Record(context.Background(), "login", "x", now))
	require.NoError(t, store.Record(context.Background(), "login", "y", now.Add(-2*time.Hour)))

	require.NoError(t, store.PruneBefore(context.Background(), now.Add(-time.Hour)))

	count, oldest, err := store.CountInWindow(context.Background(), "login", "x", now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, now, oldest)

	count, _, err = store.CountInWindow(context.Background(), "login", "y", now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
