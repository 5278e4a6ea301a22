package blobstore

import "errors"

var (
	// ErrNotFound is returned when no blob exists for the given namespace /
	// key pair in the underlying store.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidKey is returned for empty or path-like namespaces and keys.
	ErrInvalidKey = errors.New("invalid blob key")
)
