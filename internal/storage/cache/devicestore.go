// Package cache adds a Redis read-aside layer in front of the device store.
// Fan-out reads dominate the store's traffic; writes only happen when a
// device registers or dies.
package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// CacheClient is the subset of Redis commands the decorator needs.
type CacheClient interface {
	// Get fills dest or returns an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore decorates any DeviceStore with read-aside caching of the
// fan-out DeviceSet and invalidate-on-write semantics.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// Fetch tries the cache first and falls back to the real store. The fill is
// fire-and-forget: caching is an optimization, so a down Redis degrades to
// plain store reads instead of failing deliveries.
func (s *CachedDeviceStore) Fetch(ctx context.Context, user urn.URN) (*push.DeviceSet, error) {
	key := s.cacheKey(user)

	var cached push.DeviceSet
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

func (s *CachedDeviceStore) RegisterToken(ctx context.Context, user urn.URN, platform string, token string) error {
	if err := s.realStore.RegisterToken(ctx, user, platform, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// UnregisterToken must clear the cache even though the write succeeded:
// a user turning notifications off expects them to stop now, not when the
// TTL runs out.
func (s *CachedDeviceStore) UnregisterToken(ctx context.Context, user urn.URN, platform string, token string) error {
	if err := s.realStore.UnregisterToken(ctx, user, platform, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) RegisterWeb(ctx context.Context, user urn.URN, sub push.WebSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedDeviceStore) invalidate(ctx context.Context, user urn.URN) error {
	// Drop the key; the next Fetch is forced back to the source of truth.
	return s.cache.Del(ctx, s.cacheKey(user))
}

func (s *CachedDeviceStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("push:devices:%s", user.String())
}
