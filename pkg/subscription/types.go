package subscription

import (
	"fmt"
	"time"
)

// State represents the derived access state of a subscription
type State string

const (
	StateTrial    State = "trial"
	StateActive   State = "active"
	StateExpired  State = "expired"
	StateCanceled State = "canceled"
)

// DefaultTrialLengthDays is the trial period granted to new accounts
const DefaultTrialLengthDays = 7

// Subscription holds the stored subscription metadata for one account.
// CachedState is a persistence optimization only: the authoritative state is
// always Evaluate(sub, now), recomputed from the timestamps, so a stale or
// corrupted column can never grant access.
type Subscription struct {
	ID              int64      `json:"id"`
	AccountID       int64      `json:"account_id"`
	TrialStartedAt  time.Time  `json:"trial_started_at"`
	TrialLengthDays int        `json:"trial_length_days"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CanceledAt      *time.Time `json:"canceled_at,omitempty"`
	CachedState     State      `json:"state"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TrialEndsAt returns the instant the trial period lapses
func (s *Subscription) TrialEndsAt() time.Time {
	days := s.TrialLengthDays
	if days <= 0 {
		days = DefaultTrialLengthDays
	}
	return s.TrialStartedAt.AddDate(0, 0, days)
}

// ExpiredError indicates the subscription gate denied access. Expired and
// canceled accounts get the expired view with export/logout affordances, not
// a bare 403.
type ExpiredError struct {
	State State
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("subscription is %s", e.State)
}

// IsExpired reports whether err is an ExpiredError
func IsExpired(err error) bool {
	_, ok := err.(*ExpiredError)
	return ok
}
