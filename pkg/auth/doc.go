// Package auth provides accounts, bcrypt password storage, bearer-token
// sessions, and single-use password reset tokens. Tokens are stored only as
// SHA256 hashes.
package auth
