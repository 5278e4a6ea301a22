package blobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/chatmesh/core"
)

// FileStore keeps every blob in its own file below a root directory:
// <root>/<namespace>/<key>.json. Writes go through a temp file and rename so
// a crash never leaves a truncated blob behind.
type FileStore struct {
	mu   sync.RWMutex
	root string
}

var _ core.BlobStore = (*FileStore)(nil)

const fileExt = ".json"

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}

	return &FileStore{root: root}, nil
}

// Save writes the blob atomically.
func (s *FileStore) Save(namespace, key string, data []byte) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating namespace directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming blob: %w", err)
	}

	return nil
}

// Get reads a blob or returns ErrNotFound.
func (s *FileStore) Get(namespace, key string) ([]byte, error) {
	path, err := s.path(namespace, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	return data, nil
}

// List returns the sorted keys of a namespace.
func (s *FileStore) List(namespace string) ([]string, error) {
	if err := checkSegment(namespace); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), fileExt))
	}
	slices.Sort(keys)

	return keys, nil
}

// Delete removes a blob or returns ErrNotFound.
func (s *FileStore) Delete(namespace, key string) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}

	return nil
}

func (s *FileStore) path(namespace, key string) (string, error) {
	if err := checkSegment(namespace); err != nil {
		return "", err
	}
	if err := checkSegment(key); err != nil {
		return "", err
	}

	return filepath.Join(s.root, namespace, key+fileExt), nil
}

// checkSegment rejects names that would escape the root directory.
func checkSegment(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}

	return nil
}
