package secrets

import (
	"context"
	"sort"
	"sync"

	"gamgui/internal/gamerr"
)

// MemStore is an in-memory Store for tests and the simulated backend.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // owner -> name -> bytes

	// Unavailable makes every call fail with SecretStoreUnavailable,
	// for exercising outage handling in tests.
	Unavailable bool
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string][]byte)}
}

func (s *MemStore) Get(ctx context.Context, ownerID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Unavailable {
		return nil, gamerr.New(gamerr.KindSecretStoreUnavailable, "secret store offline")
	}
	data, ok := s.data[ownerID][name]
	if !ok {
		return nil, gamerr.Newf(gamerr.KindSecretNotFound, "secret %s not found for owner %s", name, ownerID)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Put(ctx context.Context, ownerID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return gamerr.New(gamerr.KindSecretStoreUnavailable, "secret store offline")
	}
	if s.data[ownerID] == nil {
		s.data[ownerID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[ownerID][name] = cp
	return nil
}

func (s *MemStore) Delete(ctx context.Context, ownerID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return gamerr.New(gamerr.KindSecretStoreUnavailable, "secret store offline")
	}
	delete(s.data[ownerID], name)
	return nil
}

func (s *MemStore) List(ctx context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Unavailable {
		return nil, gamerr.New(gamerr.KindSecretStoreUnavailable, "secret store offline")
	}
	names := make([]string, 0, len(s.data[ownerID]))
	for name := range s.data[ownerID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
