// --- File: internal/storage/cache/registrationstore.go ---
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedRegistrationStore is a Decorator that adds Read-Aside caching to any RegistrationStore.
type CachedRegistrationStore struct {
	realStore relay.RegistrationStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedRegistrationStore(realStore relay.RegistrationStore, cache CacheClient, ttl time.Duration) *CachedRegistrationStore {
	return &CachedRegistrationStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// cachedDevice carries the owner-less registration; owner is restored from the key.
type cachedDevice struct {
	Device    string    `json:"device"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRegistrationStore) ListDevices(ctx context.Context, owner string) ([]relay.DeviceRegistration, error) {
	key := s.cacheKey(owner)

	var cached []cachedDevice
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		regs := make([]relay.DeviceRegistration, 0, len(cached))
		for _, c := range cached {
			regs = append(regs, relay.DeviceRegistration{
				Owner:     owner,
				Device:    c.Device,
				Token:     c.Token,
				Platform:  c.Platform,
				UpdatedAt: c.UpdatedAt,
			})
		}
		return regs, nil
	}

	regs, err := s.realStore.ListDevices(ctx, owner)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a failed Set just means the next read hits the store.
	toCache := make([]cachedDevice, 0, len(regs))
	for _, r := range regs {
		toCache = append(toCache, cachedDevice{Device: r.Device, Token: r.Token, Platform: r.Platform, UpdatedAt: r.UpdatedAt})
	}
	_ = s.cache.Set(ctx, key, toCache, s.ttl)

	return regs, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedRegistrationStore) RegisterDevice(ctx context.Context, reg relay.DeviceRegistration) error {
	if err := s.realStore.RegisterDevice(ctx, reg); err != nil {
		return err
	}
	return s.invalidate(ctx, reg.Owner)
}

// UnregisterDevice clears the cache even on ErrNotFound so a stale entry cannot keep pushing.
func (s *CachedRegistrationStore) UnregisterDevice(ctx context.Context, owner, device string) error {
	err := s.realStore.UnregisterDevice(ctx, owner, device)
	if delErr := s.invalidate(ctx, owner); err == nil {
		err = delErr
	}
	return err
}

func (s *CachedRegistrationStore) RemoveToken(ctx context.Context, owner, token string) error {
	if err := s.realStore.RemoveToken(ctx, owner, token); err != nil {
		return err
	}
	return s.invalidate(ctx, owner)
}

// --- Helpers ---

func (s *CachedRegistrationStore) invalidate(ctx context.Context, owner string) error {
	return s.cache.Del(ctx, s.cacheKey(owner))
}

// cacheKey hashes the owner so tenant keys never appear in Redis.
func (s *CachedRegistrationStore) cacheKey(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return "relay:devices:" + hex.EncodeToString(sum[:16])
}
