package cache

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory implements QueryCache using ttlcache.
type Memory struct {
	cache *ttlcache.Cache[string, *Entry]
}

// NewMemory creates a new in-memory query cache with automatic cleanup.
// defaultTTL applies to entries stored with ttl <= 0.
//
//nolint:ireturn
func NewMemory(defaultTTL time.Duration) QueryCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Entry](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, *Entry](),
	)

	// Start the cleanup process
	go cache.Start()

	return &Memory{
		cache: cache,
	}
}

// Set implements QueryCache.Set.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	now := time.Now()
	entry := &Entry{
		Key:      key,
		Value:    value,
		StoredAt: now,
	}
	item := m.cache.Set(key, entry, ttl)
	entry.ExpiresAt = item.ExpiresAt()
	return nil
}

// Get implements QueryCache.Get.
func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	item := m.cache.Get(key)
	if item == nil {
		return nil, ErrNotFound
	}

	cp := *item.Value()
	return &cp, nil
}

// Invalidate marks every entry whose key starts with prefix as stale. The
// entries keep their remaining TTL.
func (m *Memory) Invalidate(_ context.Context, prefix string) (int, error) {
	matched := m.keysWithPrefix(prefix)

	var n int
	for _, key := range matched {
		item := m.cache.Get(key)
		if item == nil {
			continue
		}
		cp := *item.Value()
		if cp.Stale {
			continue
		}
		cp.Stale = true
		m.cache.Set(key, &cp, time.Until(item.ExpiresAt()))
		n++
	}
	return n, nil
}

// Remove deletes every entry whose key starts with prefix.
func (m *Memory) Remove(_ context.Context, prefix string) (int, error) {
	matched := m.keysWithPrefix(prefix)
	for _, key := range matched {
		m.cache.Delete(key)
	}
	return len(matched), nil
}

// Len returns the number of live entries.
func (m *Memory) Len(_ context.Context) int {
	return m.cache.Len()
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.cache.Stop()

	return nil
}

func (m *Memory) keysWithPrefix(prefix string) []string {
	var matched []string
	m.cache.Range(func(item *ttlcache.Item[string, *Entry]) bool {
		if strings.HasPrefix(item.Key(), prefix) {
			matched = append(matched, item.Key())
		}
		return true
	})
	return matched
}
