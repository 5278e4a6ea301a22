// Package session houses the in-memory conversation store, the concrete
// implementation of core.Store. It owns the whole core.State behind a single
// RWMutex and hands out MessageRef handles for messages that are still
// streaming.
//
// Persistence is not its concern: callers take a Snapshot and pass it to a
// core.Persister (see package blobstore), and Restore a previously loaded
// state at startup.
package session
