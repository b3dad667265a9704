// Package mock provides a scriptable in-memory [storage.Store] for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/softclaw/vetscribe/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store is an in-memory [storage.Store]. Error injection hooks let tests
// script failure sequences (e.g. fail first Put, succeed on retry).
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErrs is consumed one entry per Put call; a nil entry means success.
	// Once exhausted, Put always succeeds.
	PutErrs []error

	// GetErr, when non-nil, is returned by the next Get call and cleared.
	GetErr error

	// PutCalls counts Put invocations, including failed ones.
	PutCalls int

	// Paths records every path returned by a successful Put, in order.
	Paths []string
}

// NewStore returns an empty mock store.
func NewStore() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Put implements [storage.Store.Put].
func (s *Store) Put(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.PutCalls++
	if len(s.PutErrs) > 0 {
		err := s.PutErrs[0]
		s.PutErrs = s.PutErrs[1:]
		if err != nil {
			return "", err
		}
	}

	path := strings.TrimPrefix(prefix+"/"+uuid.NewString(), "/")
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = cp
	s.Paths = append(s.Paths, path)
	return path, nil
}

// SignedURL implements [storage.Store.SignedURL]. The mock URL embeds the
// path directly.
func (s *Store) SignedURL(path string, ttl time.Duration) (string, error) {
	return "mock://" + path, nil
}

// Get implements [storage.Store.Get].
func (s *Store) Get(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		err := s.GetErr
		s.GetErr = nil
		return nil, err
	}

	path := strings.TrimPrefix(url, "mock://")
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("mock: %s: %w", path, storage.ErrNotFound)
	}
	return data, nil
}

// Object returns the stored bytes for path, if any.
func (s *Store) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}
