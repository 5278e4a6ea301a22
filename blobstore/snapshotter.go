package blobstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/logging"
)

// Default location of the persisted state.
const (
	DefaultNamespace = "chatmesh"
	DefaultKey       = "state"
)

// SnapshotterOptions configures a Snapshotter.
type SnapshotterOptions struct {
	Namespace string
	Key       string
	Logger    logging.Logger
}

// Snapshotter implements core.Persister by writing the whole state as one
// JSON blob under a fixed key.
type Snapshotter struct {
	store     core.BlobStore
	namespace string
	key       string
	logger    logging.Logger
}

var _ core.Persister = (*Snapshotter)(nil)

// NewSnapshotter wraps a BlobStore.
func NewSnapshotter(store core.BlobStore, optFns ...func(o *SnapshotterOptions)) *Snapshotter {
	opts := SnapshotterOptions{
		Namespace: DefaultNamespace,
		Key:       DefaultKey,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Snapshotter{
		store:     store,
		namespace: opts.Namespace,
		key:       opts.Key,
		logger:    opts.Logger,
	}
}

// Load returns the persisted state, or (nil, nil) if nothing was saved yet.
func (s *Snapshotter) Load() (*core.State, error) {
	data, err := s.store.Get(s.namespace, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	st, err := core.DecodeState(data)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("state loaded", "namespace", s.namespace, "key", s.key, "bytes", len(data))

	return st, nil
}

// Save persists the state. Failures are logged and returned; callers treat
// them as non-fatal.
func (s *Snapshotter) Save(state *core.State) error {
	data, err := state.Encode()
	if err == nil {
		err = s.store.Save(s.namespace, s.key, data)
	}
	if err != nil {
		s.logger.Warn("state save failed", "namespace", s.namespace, "key", s.key, "error", err)
		return fmt.Errorf("saving state: %w", err)
	}
	s.logger.Debug("state saved", "namespace", s.namespace, "key", s.key, "bytes", len(data))

	return nil
}
