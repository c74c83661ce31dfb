package service

import (
	"context"
	"time"
)

// CachedAccountStatus fronts the tracker's blocked flag for the per-request
// account check. The tracker invalidates the user entry on every state write.
type CachedAccountStatus struct {
	cacheStore AccountStatusCacheStore
	source     AccountStatusChecker
	ttl        time.Duration
}

func NewCachedAccountStatus(cacheStore AccountStatusCacheStore, source AccountStatusChecker, ttl time.Duration) *CachedAccountStatus {
	return &CachedAccountStatus{
		cacheStore: cacheStore,
		source:     source,
		ttl:        ttl,
	}
}

func (r *CachedAccountStatus) IsBlocked(ctx context.Context, userID string) (bool, error) {
	if r.cacheStore != nil && r.ttl > 0 {
		blocked, ok, err := r.cacheStore.Get(ctx, userID)
		if err == nil && ok {
			return blocked, nil
		}
	}
	blocked, err := r.source.IsBlocked(ctx, userID)
	if err != nil {
		return false, err
	}
	if r.cacheStore != nil && r.ttl > 0 {
		_ = r.cacheStore.Set(ctx, userID, blocked, r.ttl)
	}
	return blocked, nil
}

func (r *CachedAccountStatus) InvalidateUser(ctx context.Context, userID string) error {
	if r.cacheStore == nil {
		return nil
	}
	return r.cacheStore.InvalidateUser(ctx, userID)
}
