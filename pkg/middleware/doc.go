// Package middleware provides the HTTP middleware chain: request IDs,
// request logging, session authentication, CSRF verification, and the
// subscription gate that blocks collection writes for lapsed accounts.
package middleware
