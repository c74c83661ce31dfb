package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AccountStatusCacheStore caches the blocked flag per user. Invalidation bumps
// an epoch so stale entries become unreachable without a scan.
type AccountStatusCacheStore interface {
	Get(ctx context.Context, userID string) (blocked bool, ok bool, err error)
	Set(ctx context.Context, userID string, blocked bool, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

type NoopAccountStatusCacheStore struct{}

func NewNoopAccountStatusCacheStore() *NoopAccountStatusCacheStore {
	return &NoopAccountStatusCacheStore{}
}

func (s *NoopAccountStatusCacheStore) Get(context.Context, string) (bool, bool, error) {
	return false, false, nil
}

func (s *NoopAccountStatusCacheStore) Set(context.Context, string, bool, time.Duration) error {
	return nil
}

func (s *NoopAccountStatusCacheStore) InvalidateUser(context.Context, string) error {
	return nil
}

func (s *NoopAccountStatusCacheStore) InvalidateAll(context.Context) error {
	return nil
}

type accountStatusEntry struct {
	blocked   bool
	expiresAt time.Time
}

type InMemoryAccountStatusCacheStore struct {
	mu          sync.RWMutex
	data        map[string]accountStatusEntry
	globalEpoch uint64
	userEpoch   map[string]uint64
}

func NewInMemoryAccountStatusCacheStore() *InMemoryAccountStatusCacheStore {
	return &InMemoryAccountStatusCacheStore{
		data:      make(map[string]accountStatusEntry),
		userEpoch: make(map[string]uint64),
	}
}

func (s *InMemoryAccountStatusCacheStore) Get(_ context.Context, userID string) (bool, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(userID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return false, false, nil
	}
	return entry.blocked, true, nil
}

func (s *InMemoryAccountStatusCacheStore) Set(_ context.Context, userID string, blocked bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.cacheKeyLocked(userID)] = accountStatusEntry{blocked: blocked, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *InMemoryAccountStatusCacheStore) InvalidateUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, s.cacheKeyLocked(userID))
	s.userEpoch[userID]++
	return nil
}

func (s *InMemoryAccountStatusCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]accountStatusEntry)
	s.globalEpoch++
	return nil
}

func (s *InMemoryAccountStatusCacheStore) cacheKeyLocked(userID string) string {
	return buildAccountStatusCacheKey(s.globalEpoch, s.userEpoch[userID], userID)
}

func buildAccountStatusCacheKey(globalEpoch, userEpoch uint64, userID string) string {
	return fmt.Sprintf("acctstatus:g%d:u%d:user:%s", globalEpoch, userEpoch, userID)
}
