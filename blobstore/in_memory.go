package blobstore

import (
	"slices"
	"sync"

	"github.com/hupe1980/chatmesh/core"
)

// InMemoryStore is an in-process BlobStore useful for tests and ephemeral
// sessions. Blobs are kept in a nested map guarded by an RWMutex and copied
// on save and retrieval.
//
// Layout: namespace -> key -> raw bytes
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]byte
}

var _ core.BlobStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory blob store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the blob. The input slice is copied.
func (s *InMemoryStore) Save(namespace, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[namespace]; !ok {
		s.blobs[namespace] = make(map[string][]byte)
	}
	s.blobs[namespace][key] = slices.Clone(data)

	return nil
}

// Get returns a copy of the stored blob or ErrNotFound.
func (s *InMemoryStore) Get(namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}

	return slices.Clone(data), nil
}

// List returns the sorted keys stored in the namespace.
func (s *InMemoryStore) List(namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.blobs[namespace]))
	for k := range s.blobs[namespace] {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys, nil
}

// Delete removes the blob if present or returns ErrNotFound.
func (s *InMemoryStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[namespace][key]; !ok {
		return ErrNotFound
	}
	delete(s.blobs[namespace], key)

	return nil
}
