// Package memstore is the default in-memory collab.Persistence
// implementation. A SQLite-backed driver is explicitly out of scope for the
// core (spec §1 Non-goals / §6.3 names it as an external collaborator); this
// implementation exists so the daemon and its tests run without one, while
// still enforcing the same unique-constraint semantics a SQL UNIQUE index
// would (spec §5: "nfc_tag_id uniqueness is enforced by a DB unique index
// plus application-level pre-check").
package memstore

import (
	"context"
	"sort"
	"sync"
)

// Store is a mutex-guarded, namespaced key/value store.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
	// unique tracks claims: uniqueNamespace -> uniqueKey -> ownerKey.
	unique map[string]map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		data:   make(map[string]map[string][]byte),
		unique: make(map[string]map[string]string),
	}
}

func (s *Store) Put(_ context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.data[namespace] = ns
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	ns[key] = cp
	return nil
}

func (s *Store) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil, false, nil
	}
	v, ok := ns[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *Store) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (s *Store) Scan(_ context.Context, namespace string, fn func(key string, value []byte) bool) error {
	s.mu.RLock()
	ns, ok := s.data[namespace]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// Copy values out under the read lock so fn runs lock-free.
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = ns[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if !fn(k, values[i]) {
			break
		}
	}
	return nil
}

func (s *Store) CompareAndSwapUnique(_ context.Context, uniqueNamespace, uniqueKey, ownerKey string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.unique[uniqueNamespace]
	if !ok {
		ns = make(map[string]string)
		s.unique[uniqueNamespace] = ns
	}
	if holder, exists := ns[uniqueKey]; exists && holder != ownerKey {
		return false, holder, nil
	}
	ns[uniqueKey] = ownerKey
	return true, ownerKey, nil
}

func (s *Store) ReleaseUnique(_ context.Context, uniqueNamespace, uniqueKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.unique[uniqueNamespace]; ok {
		delete(ns, uniqueKey)
	}
	return nil
}

func (s *Store) Close() error { return nil }
