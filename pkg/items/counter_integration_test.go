//go:build integration

package items

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jtbnz/razor-library-sub001/pkg/storage"
)

func setupCounterTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("razorlib_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, storage.RunMigrations(ctx, db))

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// seedItemWithCount creates an account, an item it owns, and a counter at
// the given count, returning the account and item IDs
func seedItemWithCount(t *testing.T, db *sql.DB, count int) (int64, int64) {
	t.Helper()

	var accountID int64
	err := db.QueryRow(
		`INSERT INTO accounts (email, password_hash) VALUES ($1, $2) RETURNING id`,
		time.Now().Format("150405.000000")+"@example.com", "x",
	).Scan(&accountID)
	require.NoError(t, err)

	var itemID int64
	err = db.QueryRow(
		`INSERT INTO items (owner_id, kind, name, attributes) VALUES ($1, 'blade', 'Feather', '{}') RETURNING id`,
		accountID,
	).Scan(&itemID)
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO usage_counters (item_id, count, version) VALUES ($1, $2, 0)`,
		itemID, count,
	)
	require.NoError(t, err)

	return accountID, itemID
}

func TestConcurrentDecrementNeverGoesNegative(t *testing.T) {
	db, cleanup := setupCounterTestDB(t)
	defer cleanup()

	service := NewCounterService(db, nil)
	accountID, itemID := seedItemWithCount(t, db, 1)

	// Two unversioned decrements racing at count=1: the in-database clamp
	// must hold for both, whatever the interleaving
	var wg sync.WaitGroup
	results := make([]*CounterResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.ApplyDelta(context.Background(), accountID, itemID, -1, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.GreaterOrEqual(t, results[i].NewCount, 0)
	}

	counter, err := service.Get(context.Background(), accountID, itemID)
	require.NoError(t, err)
	assert.Equal(t, 0, counter.Count)
	// Both writes happened; neither version bump was lost
	assert.Equal(t, int64(2), counter.Version)
}

func TestConcurrentVersionedDecrementHasOneWinner(t *testing.T) {
	db, cleanup := setupCounterTestDB(t)
	defer cleanup()

	service := NewCounterService(db, nil)
	accountID, itemID := seedItemWithCount(t, db, 1)

	counter, err := service.Get(context.Background(), accountID, itemID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			expected := counter.Version
			_, errs[i] = service.ApplyDelta(context.Background(), accountID, itemID, -1, &expected)
		}(i)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for i := 0; i < 2; i++ {
		switch {
		case errs[i] == nil:
			winners++
		case errors.Is(errs[i], ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, conflicts)

	after, err := service.Get(context.Background(), accountID, itemID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Count)
	assert.Equal(t, counter.Version+1, after.Version)
}

func TestConcurrentIncrementsLoseNoUpdates(t *testing.T) {
	db, cleanup := setupCounterTestDB(t)
	defer cleanup()

	service := NewCounterService(db, nil)
	accountID, itemID := seedItemWithCount(t, db, 0)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ApplyDelta(context.Background(), accountID, itemID, 1, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counter, err := service.Get(context.Background(), accountID, itemID)
	require.NoError(t, err)
	assert.Equal(t, workers, counter.Count)
	assert.Equal(t, int64(workers), counter.Version)
}
