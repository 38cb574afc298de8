// Package memory keeps ledger state and listing snapshots in process memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// DefaultMaxObjects bounds a BlobStore created without an explicit limit.
const DefaultMaxObjects = 32

// BlobStore stores artifacts in-memory and returns pseudo URIs. It keeps at
// most maxObjects entries and evicts the oldest write first.
type BlobStore struct {
	mu         sync.RWMutex
	data       map[string][]byte
	order      []string
	maxObjects int
}

// NewBlobStore creates an in-memory blob store holding DefaultMaxObjects entries.
func NewBlobStore() *BlobStore {
	return NewBoundedBlobStore(DefaultMaxObjects)
}

// NewBoundedBlobStore creates an in-memory blob store holding at most
// maxObjects entries. Values below one fall back to DefaultMaxObjects.
func NewBoundedBlobStore(maxObjects int) *BlobStore {
	if maxObjects < 1 {
		maxObjects = DefaultMaxObjects
	}
	return &BlobStore{data: make(map[string][]byte), maxObjects: maxObjects}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[path]; !exists {
		s.order = append(s.order, path)
	}
	s.data[path] = byteData
	for len(s.order) > s.maxObjects {
		delete(s.data, s.order[0])
		s.order = s.order[1:]
	}
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns a copy of the stored object.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Len reports how many objects are retained.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
