package data

import (
	"bytes"
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCacheCleanupInterval is how often expired entries are swept. Reads
// already ignore expired entries, the sweep only reclaims memory.
const memoryCacheCleanupInterval = 5 * time.Minute

// MemoryCacheRepo implements the CacheRepository interface with an in-process
// TTL cache. Single-process deployments that run without Redis use this so
// the settings cache still works; it shares nothing across processes.
type MemoryCacheRepo struct {
	cache *gocache.Cache
}

// NewMemoryCacheRepo creates a new MemoryCacheRepo.
func NewMemoryCacheRepo() *MemoryCacheRepo {
	return &MemoryCacheRepo{
		cache: gocache.New(gocache.NoExpiration, memoryCacheCleanupInterval),
	}
}

// memoryTTL maps the CacheRepository convention (0 means no expiry) onto the
// go-cache sentinel values.
func memoryTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return gocache.NoExpiration
	}
	return ttl
}

// Set stores a value with the given key and TTL. A TTL of 0 keeps the key
// until it is overwritten or deleted.
func (m *MemoryCacheRepo) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	m.cache.Set(key, bytes.Clone(value), memoryTTL(ttl))
	return nil
}

// Get retrieves a value by key. Returns nil if the key doesn't exist or has
// expired.
func (m *MemoryCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	v, found := m.cache.Get(key)
	if !found {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, nil
	}
	return bytes.Clone(b), nil
}

// Delete removes a key from the cache.
func (m *MemoryCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	_, found := m.cache.Get(key)
	m.cache.Delete(key)
	return found, nil
}

// Exists checks if a key exists in the cache.
func (m *MemoryCacheRepo) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	_, found := m.cache.Get(key)
	return found, nil
}

// SetTTL updates the TTL for an existing key by re-inserting its value.
func (m *MemoryCacheRepo) SetTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	v, found := m.cache.Get(key)
	if !found {
		return false, nil
	}
	m.cache.Set(key, v, memoryTTL(ttl))
	return true, nil
}

// SetIfNotExists sets a key only if it doesn't already exist. Mirrors the
// Redis implementation's minimum TTL of one second so lock keys always
// expire.
func (m *MemoryCacheRepo) SetIfNotExists(
	_ context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	actualTTL := ttl
	if ttl <= 0 {
		actualTTL = time.Second
	}

	if err := m.cache.Add(key, bytes.Clone(value), actualTTL); err != nil {
		return false, nil // Key already exists
	}
	return true, nil
}

// Health always succeeds for the in-process cache.
func (m *MemoryCacheRepo) Health(context.Context) error {
	return nil
}
