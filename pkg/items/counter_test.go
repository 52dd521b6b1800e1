package items

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var counterResultCols = []string{"count", "version"}

func TestGetCounter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewCounterService(db, nil)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"item_id", "count", "version", "updated_at"}).
			AddRow(int64(7), 12, int64(3), time.Now())
		mock.ExpectQuery("SELECT(.+)FROM usage_counters uc(.+)JOIN items").
			WithArgs(int64(7), int64(42)).
			WillReturnRows(rows)

		counter, err := service.Get(context.Background(), 42, 7)
		require.NoError(t, err)
		assert.Equal(t, 12, counter.Count)
		assert.Equal(t, int64(3), counter.Version)
	})

	t.Run("not owned", func(t *testing.T) {
		mock.ExpectQuery("SELECT(.+)FROM usage_counters uc(.+)JOIN items").
			WithArgs(int64(7), int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"item_id", "count", "version", "updated_at"}))

		_, err := service.Get(context.Background(), 99, 7)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDelta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewCounterService(db, nil)

	t.Run("increment", func(t *testing.T) {
		mock.ExpectQuery("UPDATE usage_counters uc").
			WithArgs(int64(7), int64(42), 1).
			WillReturnRows(sqlmock.NewRows(counterResultCols).AddRow(5, int64(4)))

		result, err := service.ApplyDelta(context.Background(), 42, 7, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, result.NewCount)
		assert.Equal(t, int64(4), result.Version)
	})

	t.Run("decrement below zero clamps, not errors", func(t *testing.T) {
		// The database computes GREATEST(0, 0 + -3) = 0 and still bumps
		// the version: the mutation counts as a write.
		mock.ExpectQuery("GREATEST\\(0, uc.count \\+ \\$3\\)").
			WithArgs(int64(7), int64(42), -3).
			WillReturnRows(sqlmock.NewRows(counterResultCols).AddRow(0, int64(5)))

		result, err := service.ApplyDelta(context.Background(), 42, 7, -3, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, result.NewCount)
	})

	t.Run("missing item", func(t *testing.T) {
		mock.ExpectQuery("UPDATE usage_counters uc").
			WithArgs(int64(404), int64(42), 1).
			WillReturnRows(sqlmock.NewRows(counterResultCols))

		_, err := service.ApplyDelta(context.Background(), 42, 404, 1, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDeltaVersioned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewCounterService(db, nil)
	expected := int64(3)

	t.Run("matching version succeeds", func(t *testing.T) {
		mock.ExpectQuery("AND uc.version = \\$4").
			WithArgs(int64(7), int64(42), 1, int64(3)).
			WillReturnRows(sqlmock.NewRows(counterResultCols).AddRow(6, int64(4)))

		result, err := service.ApplyDelta(context.Background(), 42, 7, 1, &expected)
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.Version)
	})

	t.Run("stale version is a conflict, not not-found", func(t *testing.T) {
		mock.ExpectQuery("AND uc.version = \\$4").
			WithArgs(int64(7), int64(42), 1, int64(3)).
			WillReturnRows(sqlmock.NewRows(counterResultCols))
		// Existence check distinguishes the two miss causes
		mock.ExpectQuery("SELECT 1(.+)FROM usage_counters uc").
			WithArgs(int64(7), int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		_, err := service.ApplyDelta(context.Background(), 42, 7, 1, &expected)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("missing item with version is not-found", func(t *testing.T) {
		mock.ExpectQuery("AND uc.version = \\$4").
			WithArgs(int64(404), int64(42), 1, int64(3)).
			WillReturnRows(sqlmock.NewRows(counterResultCols))
		mock.ExpectQuery("SELECT 1(.+)FROM usage_counters uc").
			WithArgs(int64(404), int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

		_, err := service.ApplyDelta(context.Background(), 42, 404, 1, &expected)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAbsolute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewCounterService(db, nil)

	t.Run("sets value", func(t *testing.T) {
		mock.ExpectQuery("GREATEST\\(0, \\$3\\)").
			WithArgs(int64(7), int64(42), 20).
			WillReturnRows(sqlmock.NewRows(counterResultCols).AddRow(20, int64(6)))

		result, err := service.SetAbsolute(context.Background(), 42, 7, 20, nil)
		require.NoError(t, err)
		assert.Equal(t, 20, result.NewCount)
	})

	t.Run("negative value clamps to zero", func(t *testing.T) {
		mock.ExpectQuery("GREATEST\\(0, \\$3\\)").
			WithArgs(int64(7), int64(42), -5).
			WillReturnRows(sqlmock.NewRows(counterResultCols).AddRow(0, int64(7)))

		result, err := service.SetAbsolute(context.Background(), 42, 7, -5, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, result.NewCount)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutationStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewCounterService(db, nil)

	mock.ExpectQuery("UPDATE usage_counters uc").
		WithArgs(int64(7), int64(42), 1).
		WillReturnError(errors.New("connection reset"))

	_, err = service.ApplyDelta(context.Background(), 42, 7, 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update counter")
	assert.NoError(t, mock.ExpectationsWereMet())
}
