// Package api exposes the HTTP surface: auth and password reset (attempt
// limited), item CRUD and usage counters, photo uploads, data export, and
// subscription lifecycle including the billing webhook.
package api
