package service

import (
	"context"
	"sync"
	"time"
)

// CachedIssuance is a token handed out inside the cooldown window.
type CachedIssuance struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type IssuanceCooldownStore interface {
	Get(ctx context.Context, userID, videoID string) (*CachedIssuance, bool, error)
	Set(ctx context.Context, userID, videoID string, issued CachedIssuance, ttl time.Duration) error
}

type NoopIssuanceCooldownStore struct{}

func NewNoopIssuanceCooldownStore() *NoopIssuanceCooldownStore {
	return &NoopIssuanceCooldownStore{}
}

func (s *NoopIssuanceCooldownStore) Get(context.Context, string, string) (*CachedIssuance, bool, error) {
	return nil, false, nil
}

func (s *NoopIssuanceCooldownStore) Set(context.Context, string, string, CachedIssuance, time.Duration) error {
	return nil
}

type inMemoryCooldownEntry struct {
	issued    CachedIssuance
	expiresAt time.Time
}

type InMemoryIssuanceCooldownStore struct {
	mu    sync.RWMutex
	store map[string]inMemoryCooldownEntry
	now   func() time.Time
}

func NewInMemoryIssuanceCooldownStore() *InMemoryIssuanceCooldownStore {
	return &InMemoryIssuanceCooldownStore{
		store: make(map[string]inMemoryCooldownEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryIssuanceCooldownStore) Get(_ context.Context, userID, videoID string) (*CachedIssuance, bool, error) {
	key := cooldownKey(userID, videoID)
	now := s.now()
	s.mu.RLock()
	entry, ok := s.store[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !now.Before(entry.expiresAt) {
		s.mu.Lock()
		if cur, ok2 := s.store[key]; ok2 && !now.Before(cur.expiresAt) {
			delete(s.store, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	issued := entry.issued
	return &issued, true, nil
}

func (s *InMemoryIssuanceCooldownStore) Set(_ context.Context, userID, videoID string, issued CachedIssuance, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[cooldownKey(userID, videoID)] = inMemoryCooldownEntry{issued: issued, expiresAt: s.now().Add(ttl)}
	return nil
}

func cooldownKey(userID, videoID string) string {
	return userID + "\x00" + videoID
}
