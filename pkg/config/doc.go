// Package config loads application configuration from RAZORLIB_-prefixed
// environment variables and validates it at startup.
package config
