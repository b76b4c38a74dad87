package storage

import (
	"sort"
	"sync"
)

// Store defines the interface for the versioned replica.
type Store interface {
	// Get retrieves a copy of the record for key.
	Get(key string) (Record, bool)
	// Put overwrites the record for key unconditionally.
	Put(key string, rec Record)
	// CurrentVersion returns the version held for key, or 0 if absent.
	CurrentVersion(key string) uint64
	// Apply runs fn against the current record under the write lock and
	// stores the returned record when fn reports true.
	Apply(key string, fn func(local Record, ok bool) (Record, bool)) (Record, bool)
	// Snapshot returns a point-in-time copy of every record.
	Snapshot() map[string]Record
	// Keys returns the stored keys in sorted order.
	Keys() []string
	// Len returns the number of stored keys.
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe and returns copies on every read.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]Record),
	}
}

// Get retrieves a record by key.
func (s *InMemoryStore) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[key]
	if !exists {
		return Record{}, false
	}
	return rec.Copy(), true
}

// Put stores rec under key, replacing whatever was there.
func (s *InMemoryStore) Put(key string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = rec.Copy()
}

// CurrentVersion returns the stored version, 0 for unknown keys.
func (s *InMemoryStore) CurrentVersion(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key].Version
}

// Apply performs an atomic read-modify-write on key. fn receives a copy
// of the local record; if it returns true the returned record is stored
// and a copy of it is returned.
func (s *InMemoryStore) Apply(key string, fn func(local Record, ok bool) (Record, bool)) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, exists := s.data[key]
	next, write := fn(local.Copy(), exists)
	if !write {
		return local.Copy(), false
	}
	s.data[key] = next.Copy()
	return next.Copy(), true
}

// Snapshot returns a deep copy of the whole replica.
func (s *InMemoryStore) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(s.data))
	for k, rec := range s.data {
		out[k] = rec.Copy()
	}
	return out
}

// Keys returns all keys sorted.
func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of keys held.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
