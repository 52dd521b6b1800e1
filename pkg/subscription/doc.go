// Package subscription drives the account access lifecycle:
// trial -> active -> expired, with explicit cancellation as a distinct
// access-terminal state.
//
// The stored record holds timestamps only as the source of truth.
// Evaluate(sub, now) derives the state as a pure function; the persisted
// state column is a cache refreshed opportunistically and by the sweeper,
// never trusted for access decisions.
//
// Gate wraps the evaluation for request handling: expired and canceled
// accounts get an ExpiredError (the expired view with export/logout
// affordances), and storage failures deny access rather than letting an
// unverifiable account mutate data.
package subscription
