// Package items manages the trackable equipment catalog (razors, blades,
// brushes) and the authoritative usage counters attached to every item.
//
// Counters are mutated server-side in single atomic UPDATE statements that
// clamp at zero and bump a version number. Clients may mutate optimistically
// and reconcile with the returned count, or pass an expected version to
// detect concurrent writes.
package items
