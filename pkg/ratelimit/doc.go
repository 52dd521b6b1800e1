// Package ratelimit implements time-windowed attempt limiting for
// authentication-sensitive actions.
//
// A Policy names an action keyspace and carries its limit and trailing
// window; the shipped policies are login (5 attempts / 15 minutes) and
// password reset (3 attempts / 60 minutes). Policies are configuration, not
// mechanism: callers can run any action with any limit.
//
// Attempts are stored as timestamp logs keyed by (action, identity) and
// pruned lazily on read. Three stores are provided: Postgres (default),
// Redis sorted sets, and in-memory.
//
// Over-limit attempts are not recorded, so a sustained brute-force run
// cannot grow the stored window or push the unlock time further out.
//
// Storage failures fail closed: the check is denied and surfaced as a
// ThrottledError indistinguishable from a genuine throttle.
package ratelimit
