package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no live entry exists for the key.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one cached query result. Value holds the JSON-encoded payload.
// A stale entry is still served; callers treat it as a hint to refetch.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Stale     bool      `json:"stale"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// QueryCache is the server-state cache the sync layer coordinates with.
// Implementations are safe for concurrent use.
//
// Invalidate and Remove operate on key prefixes so a whole family of keys
// ("profile:", "profile:u1") can be handled in one call. Invalidate keeps
// entries but flags them stale; Remove drops them outright. Both return how
// many entries were touched.
type QueryCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Entry, error)
	Invalidate(ctx context.Context, prefix string) (int, error)
	Remove(ctx context.Context, prefix string) (int, error)
	Len(ctx context.Context) int
	Close() error
}
