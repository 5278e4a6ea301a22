// Package testutil contains helpers used across tests to reduce boilerplate
// when seeding a conversation store and recording observer updates. They are
// not intended for production usage.
package testutil
