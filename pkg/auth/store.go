package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks
const uniqueViolation = "23505"

// PostgresStore persists accounts, sessions, and password reset tokens
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateAccount inserts a new account, returning ErrEmailTaken on duplicate
func (s *PostgresStore) CreateAccount(ctx context.Context, email, passwordHash string) (*Account, error) {
	query := `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, created_at, updated_at
	`

	account := &Account{}
	err := s.db.QueryRowContext(ctx, query, email, passwordHash).
		Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

const accountColumns = `id, email, password_hash, created_at, updated_at, last_login_at`

func scanAccount(row *sql.Row) (*Account, error) {
	account := &Account{}
	var lastLogin sql.NullTime
	err := row.Scan(&account.ID, &account.Email, &account.PasswordHash,
		&account.CreatedAt, &account.UpdatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	if lastLogin.Valid {
		account.LastLoginAt = &lastLogin.Time
	}
	return account, nil
}

// GetAccountByEmail looks up an account by email
func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(s.db.QueryRowContext(ctx, query, email))
}

// GetAccountByID looks up an account by id
func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// TouchLastLogin records a successful login
func (s *PostgresStore) TouchLastLogin(ctx context.Context, accountID int64) error {
	query := `UPDATE accounts SET last_login_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("failed to touch last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash
func (s *PostgresStore) UpdatePassword(ctx context.Context, accountID int64, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, passwordHash, accountID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession inserts a session row
func (s *PostgresStore) CreateSession(ctx context.Context, accountID int64, tokenHash, csrfToken string, expiresAt time.Time) (*Session, error) {
	query := `
		INSERT INTO sessions (account_id, token_hash, csrf_token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	session := &Session{
		AccountID: accountID,
		TokenHash: tokenHash,
		CSRFToken: csrfToken,
		ExpiresAt: expiresAt,
	}
	err := s.db.QueryRowContext(ctx, query, accountID, tokenHash, csrfToken, expiresAt).
		Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSessionByTokenHash finds a session by the hash of its bearer token
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT id, account_id, token_hash, csrf_token, expires_at, created_at
		FROM sessions WHERE token_hash = $1
	`

	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, tokenHash).
		Scan(&session.ID, &session.AccountID, &session.TokenHash,
			&session.CSRFToken, &session.ExpiresAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// DeleteSession removes one session by token hash. Deleting a session that
// is already gone is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteSessionsForAccount removes every session for an account, used after
// a password reset
func (s *PostgresStore) DeleteSessionsForAccount(ctx context.Context, accountID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions prunes sessions past their expiry, returning the
// number removed
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// CreatePasswordReset inserts a single-use reset token hash
func (s *PostgresStore) CreatePasswordReset(ctx context.Context, accountID int64, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO password_resets (account_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.ExecContext(ctx, query, accountID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("failed to create password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks a reset token used and returns its account.
// Unknown, already-used, and expired tokens all fail the same way.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (int64, error) {
	query := `
		UPDATE password_resets
		SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING account_id
	`

	var accountID int64
	err := s.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&accountID)
	if err == sql.ErrNoRows {
		return 0, ErrResetInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume password reset: %w", err)
	}
	return accountID, nil
}
