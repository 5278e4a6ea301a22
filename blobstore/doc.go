// Package blobstore contains concrete implementations of core.BlobStore and
// the Snapshotter that persists a core.State through any of them.
//
// The canonical BlobStore interface lives in the core package so callers can
// swap the in-memory, file and SQLite backends without touching calling code.
// The conversation store treats persistence as an opaque key/value blob
// store: the whole state is written as one JSON document under a single key.
package blobstore
