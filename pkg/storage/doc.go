// Package storage holds connection configuration and open helpers for
// PostgreSQL, Redis, and blob storage backends.
package storage
