// Package securestorage is the secure key-value boundary for secrets the
// wallet must keep outside its regular store: the holder secret key, the last
// successful issuance timestamp, and one-time notice flags.
package securestorage

import (
	"sync"
	"time"

	"greenwallet/pkg/platform/sentinel"
)

// WipeScope determines how far a wipe reaches. Per-install entries survive a
// backend reset but not a reinstall; persistent entries survive both and are
// only removed by an explicit full wipe.
type WipeScope int

const (
	ScopeInstall WipeScope = iota
	ScopePersistent
)

// Well-known keys.
const (
	KeyHolderSecretKey     = "holderSecretKey"
	KeyLastIssuanceSuccess = "lastIssuanceSuccess"
	KeyRemovedEventsSeen   = "removedEventsNoticeSeen"
)

// Store is the secure storage contract. Every entry is written with an
// explicit wipe scope rather than a hidden per-field annotation.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, scope WipeScope) error
	Delete(key string) error
	// Wipe removes every entry with the given scope; ScopePersistent wipes
	// install-scoped entries as well.
	Wipe(scope WipeScope) error
}

// InMemoryStore is the process-memory implementation used in tests and as a
// fallback when no platform keychain binding is wired.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	value []byte
	scope WipeScope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]entry)}
}

func (s *InMemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *InMemoryStore) Set(key string, value []byte, scope WipeScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: append([]byte(nil), value...), scope: scope}
	return nil
}

func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) Wipe(scope WipeScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if scope == ScopePersistent || e.scope == ScopeInstall {
			delete(s.entries, key)
		}
	}
	return nil
}

// SetTime stores a timestamp under the given key.
func SetTime(s Store, key string, t time.Time, scope WipeScope) error {
	return s.Set(key, []byte(t.UTC().Format(time.RFC3339Nano)), scope)
}

// GetTime reads a timestamp stored with SetTime.
func GetTime(s Store, key string) (time.Time, error) {
	raw, err := s.Get(key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}
