package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements AttemptStore on Redis sorted sets, one set per
// (action, identity) key scored by attempt time. Useful when several
// processes share limiter state.
type RedisStore struct {
	client *redis.Client

	// keyTTL bounds how long an idle key survives; it must be at least the
	// largest configured policy window.
	keyTTL time.Duration
}

// NewRedisStore creates a Redis-backed attempt store
func NewRedisStore(client *redis.Client, keyTTL time.Duration) *RedisStore {
	if keyTTL <= 0 {
		keyTTL = 2 * time.Hour
	}
	return &RedisStore{
		client: client,
		keyTTL: keyTTL,
	}
}

func (s *RedisStore) key(action, identity string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, identity)
}

// CountInWindow prunes expired members then returns the in-window count and
// the oldest remaining attempt
func (s *RedisStore) CountInWindow(ctx context.Context, action, identity string, cutoff time.Time) (int, time.Time, error) {
	key := s.key(action, identity)

	// Prune lazily on read, then inspect what's left.
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10)).Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis prune failed: %w", err)
	}

	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis count failed: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	oldest, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis range failed: %w", err)
	}
	if len(oldest) == 0 {
		return int(count), time.Time{}, nil
	}

	return int(count), time.Unix(0, int64(oldest[0].Score)), nil
}

// Record adds an attempt member and refreshes the key TTL
func (s *RedisStore) Record(ctx context.Context, action, identity string, at time.Time) error {
	key := s.key(action, identity)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(at.UnixNano()),
		Member: strconv.FormatInt(at.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.keyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record failed: %w", err)
	}
	return nil
}

// PruneBefore is a no-op for Redis; keys expire via TTL and reads prune lazily
func (s *RedisStore) PruneBefore(_ context.Context, _ time.Time) error {
	return nil
}
