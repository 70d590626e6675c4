package store

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/Shahabul87/enterprise-auth-template-sub020/internal/errors"
)

// MemoryStore keeps everything in process memory. Used for tests and for
// hosts that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	lists   map[string][]string
	closed  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
	}
}

func (s *MemoryStore) LoadStringList(ctx context.Context, key string) ([]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	values, ok := s.lists[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out, true, nil
}

func (s *MemoryStore) SaveStringList(ctx context.Context, key string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	stored := make([]string, len(values))
	copy(stored, values)
	delete(s.strings, key)
	s.lists[key] = stored
	return nil
}

func (s *MemoryStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return "", false, err
	}
	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *MemoryStore) SaveString(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.lists, key)
	s.strings[key] = value
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.strings, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.strings)+len(s.lists))
	for k := range s.strings {
		keys = append(keys, k)
	}
	for k := range s.lists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the store closed; later calls fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with s.mu held.
func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed {
		return apperrors.New(apperrors.ErrClosed, "memory store is closed")
	}
	return ctx.Err()
}
