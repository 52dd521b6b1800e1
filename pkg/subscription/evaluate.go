package subscription

import "time"

// Evaluate derives the access state from stored timestamps. It is pure and
// idempotent: the same (sub, now) always yields the same state and nothing
// is written. Persisting the result is a caching optimization handled
// elsewhere.
//
// Transitions encoded here:
//   - explicit cancellation wins over everything until reactivation clears it
//   - a recorded payment (ExpiresAt set) makes the account active until that
//     instant, expired after
//   - otherwise the account is on trial until TrialStartedAt + TrialLengthDays
func Evaluate(sub *Subscription, now time.Time) State {
	if sub.CanceledAt != nil {
		return StateCanceled
	}

	if sub.ExpiresAt != nil {
		if now.Before(*sub.ExpiresAt) {
			return StateActive
		}
		return StateExpired
	}

	if now.Before(sub.TrialEndsAt()) {
		return StateTrial
	}
	return StateExpired
}

// AllowsMutation reports whether item-mutating operations are permitted in
// the given state. Export and logout are permitted in every state; that
// policy lives at the routing layer, not here.
func AllowsMutation(state State) bool {
	return state == StateTrial || state == StateActive
}
