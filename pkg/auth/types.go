package auth

import (
	"errors"
	"time"
)

// Account is a registered user of the collection tracker
type Account struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose the hash
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Session is a logged-in browser session. Only the SHA256 hash of the
// bearer token is stored; the plaintext is returned once at login.
type Session struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	TokenHash string    `json:"-"`
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultSessionTTL is how long a session stays valid without re-login
const DefaultSessionTTL = 30 * 24 * time.Hour

var (
	// ErrNotFound is returned when an account or session does not exist
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned when registering an email that already has
	// an account
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned for a wrong email or password.
	// The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrSessionExpired is returned when a session token is known but past
	// its expiry
	ErrSessionExpired = errors.New("session expired")

	// ErrResetInvalid is returned for unknown, used, or expired password
	// reset tokens
	ErrResetInvalid = errors.New("invalid or expired reset token")
)
