package ratelimit

import (
	"fmt"
	"time"
)

// Policy defines a time-windowed attempt limit for one action.
// Each action is an independent keyspace: exhausting one never blocks another.
type Policy struct {
	// Action names the keyspace, e.g. "login" or "password_reset"
	Action string
	// Limit is the max attempts allowed inside the window
	Limit int
	// Window is the trailing time span attempts are counted over
	Window time.Duration
}

// DefaultLoginPolicy returns the login attempt policy
func DefaultLoginPolicy() Policy {
	return Policy{
		Action: "login",
		Limit:  5,
		Window: 15 * time.Minute,
	}
}

// DefaultPasswordResetPolicy returns the password-reset request policy
func DefaultPasswordResetPolicy() Policy {
	return Policy{
		Action: "password_reset",
		Limit:  3,
		Window: time.Hour,
	}
}

// Decision is the outcome of a rate limit check
type Decision struct {
	// Allowed reports whether the attempt may proceed
	Allowed bool
	// RetryAfter is how long until the oldest in-window attempt expires.
	// Zero when Allowed.
	RetryAfter time.Duration
	// Remaining is the number of attempts left in the window after this one
	Remaining int
}

// ThrottledError indicates the limit was exceeded or the check could not be
// completed safely. The message never reveals whether the identity exists or
// why the attempt was blocked.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// IsThrottled reports whether err is a ThrottledError
func IsThrottled(err error) bool {
	_, ok := err.(*ThrottledError)
	return ok
}
