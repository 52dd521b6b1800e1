package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ResetTokenTTL is how long a password reset link stays valid
const ResetTokenTTL = time.Hour

// Store is the persistence surface the auth service needs
type Store interface {
	CreateAccount(ctx context.Context, email, passwordHash string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, id int64) (*Account, error)
	TouchLastLogin(ctx context.Context, accountID int64) error
	UpdatePassword(ctx context.Context, accountID int64, passwordHash string) error
	CreateSession(ctx context.Context, accountID int64, tokenHash, csrfToken string, expiresAt time.Time) (*Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteSessionsForAccount(ctx context.Context, accountID int64) error
	CreatePasswordReset(ctx context.Context, accountID int64, tokenHash string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time) (int64, error)
}

// dummyHash is compared against when the email is unknown, so login takes
// the same time whether the account exists or not
var dummyHash, _ = HashPassword("correct-horse-battery")

// Service implements login, logout, and password reset on top of a Store
type Service struct {
	store      Store
	tokens     *TokenGenerator
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService creates an auth service with the default session TTL
func NewService(store Store) *Service {
	return &Service{
		store:      store,
		tokens:     NewTokenGenerator(),
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
}

// Register creates an account with a bcrypt-hashed password
func (s *Service) Register(ctx context.Context, email, password string) (*Account, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.store.CreateAccount(ctx, email, hash)
}

// Login verifies credentials and opens a session. The returned token is the
// only plaintext copy; callers must hand it to the client immediately.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, string, error) {
	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		// Burn the same bcrypt cost as a real check
		CheckPassword(dummyHash, password)
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !CheckPassword(account.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, tokenHash, err := s.tokens.Generate()
	if err != nil {
		return nil, "", err
	}
	csrfToken, err := randomToken()
	if err != nil {
		return nil, "", err
	}

	session, err := s.store.CreateSession(ctx, account.ID, tokenHash, csrfToken, s.now().Add(s.sessionTTL))
	if err != nil {
		return nil, "", err
	}
	if err := s.store.TouchLastLogin(ctx, account.ID); err != nil {
		return nil, "", err
	}
	return session, token, nil
}

// Authenticate resolves a bearer token to its session and account
func (s *Service) Authenticate(ctx context.Context, token string) (*Account, *Session, error) {
	if err := s.tokens.ValidateFormat(token); err != nil {
		return nil, nil, ErrNotFound
	}

	session, err := s.store.GetSessionByTokenHash(ctx, s.tokens.Hash(token))
	if err != nil {
		return nil, nil, err
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, nil, ErrSessionExpired
	}

	account, err := s.store.GetAccountByID(ctx, session.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return account, session, nil
}

// Logout deletes the session for a token. Always succeeds for well-formed
// tokens, even when the session is already gone.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.tokens.ValidateFormat(token); err != nil {
		return nil
	}
	return s.store.DeleteSession(ctx, s.tokens.Hash(token))
}

// StartPasswordReset issues a single-use reset token. When the email has no
// account it returns an empty token and no error, so the endpoint cannot be
// used to probe which emails are registered.
func (s *Service) StartPasswordReset(ctx context.Context, email string) (string, error) {
	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	token, tokenHash, err := s.tokens.Generate()
	if err != nil {
		return "", err
	}
	if err := s.store.CreatePasswordReset(ctx, account.ID, tokenHash, s.now().Add(ResetTokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// CompletePasswordReset consumes a reset token, sets the new password, and
// revokes every session for the account
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if err := s.tokens.ValidateFormat(token); err != nil {
		return ErrResetInvalid
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	accountID, err := s.store.ConsumePasswordReset(ctx, s.tokens.Hash(token), s.now())
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}
	return s.store.DeleteSessionsForAccount(ctx, accountID)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
