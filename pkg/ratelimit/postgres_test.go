package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreCountInWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	cutoff := time.Now().Add(-15 * time.Minute)
	oldest := time.Now().Add(-10 * time.Minute)

	t.Run("attempts present", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"count", "min"}).AddRow(3, oldest)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\), MIN\\(attempted_at\\)").
			WithArgs("login", "1.2.3.4|user@example.com", cutoff).
			WillReturnRows(rows)

		count, got, err := store.CountInWindow(context.Background(), "login", "1.2.3.4|user@example.com", cutoff)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.Equal(t, oldest, got)
	})

	t.Run("no attempts yields zero time", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"count", "min"}).AddRow(0, nil)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\), MIN\\(attempted_at\\)").
			WithArgs("login", "nobody", cutoff).
			WillReturnRows(rows)

		count, got, err := store.CountInWindow(context.Background(), "login", "nobody", cutoff)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		assert.True(t, got.IsZero())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\), MIN\\(attempted_at\\)").
			WillReturnError(errors.New("connection refused"))

		_, _, err := store.CountInWindow(context.Background(), "login", "x", cutoff)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count attempts")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	at := time.Now()

	mock.ExpectExec("INSERT INTO auth_attempts").
		WithArgs("password_reset", "user@example.com", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Record(context.Background(), "password_reset", "user@example.com", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePruneBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	cutoff := time.Now().Add(-time.Hour)

	mock.ExpectExec("DELETE FROM auth_attempts").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	require.NoError(t, store.PruneBefore(context.Background(), cutoff))
	assert.NoError(t, mock.ExpectationsWereMet())
}
