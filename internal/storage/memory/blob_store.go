// Package memory stores blobs and entity records in-memory for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrInjected is returned by writes that were told to fail.
var ErrInjected = errors.New("injected blob write failure")

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	types    map[string]string
	writes   int
	failures int
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// CheckWritable always succeeds.
func (s *BlobStore) CheckWritable(context.Context) error {
	return nil
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return "", ErrInjected
	}
	s.writes++
	s.data[path] = append([]byte(nil), byteData...)
	s.types[path] = contentType
	return fmt.Sprintf("memory://%s", path), nil
}

// FailNext makes the next n writes fail with ErrInjected.
func (s *BlobStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Get returns a copy of the stored object.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ContentType returns the content type recorded for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[path]
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Writes returns the number of successful writes, overwrites included.
func (s *BlobStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
