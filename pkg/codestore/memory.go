package codestore

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultMaxEntries = 8192

type memoryEntry struct {
	Entry
	expiresAt time.Time
}

// MemoryStore is a bounded in-process Store. When full, the entry closest to
// expiry is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]memoryEntry

	Now func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Put(_ context.Context, key, code string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if _, exists := s.entries[key]; !exists {
		for len(s.entries) >= s.maxEntries {
			s.evictLocked()
		}
	}
	s.entries[key] = memoryEntry{
		Entry:     Entry{Code: code, IssuedAt: now},
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return e.Entry, true, nil
}

func (s *MemoryStore) Consume(_ context.Context, key, code string) (bool, error) {
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	if e.Code != code {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) evictLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range s.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = key, e.expiresAt
		}
	}
	delete(s.entries, oldestKey)
}
