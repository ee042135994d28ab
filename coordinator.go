package authsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aromachat/authsync/cache"
	"github.com/aromachat/authsync/domain"
	"github.com/aromachat/authsync/internal/metrics"
	"github.com/aromachat/authsync/log"
)

// Cache key families. Prefix operations rely on these shapes, so build keys
// with the helpers instead of by hand.
const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "user:"
	profileKeyPrefix = "profile:"
)

// SessionKey is the cache key for the current session.
func SessionKey() string { return sessionKeyPrefix + "current" }

// UserKey is the cache key for the provider user info of identity.
func UserKey(identity string) string { return userKeyPrefix + identity }

// ProfileKey is the cache key for the profile row of identity.
func ProfileKey(identity string) string { return profileKeyPrefix + identity }

// CacheCoordinator ties auth transitions to the query cache: sessions and
// profiles are written through on change, every identity-derived family is
// purged on sign-out, and profile mutations flag dependent entries stale.
// Cache trouble is logged, never propagated; the cache is an accelerator,
// not a source of truth.
type CacheCoordinator struct {
	cache          cache.QueryCache
	ttl            time.Duration
	retainProfiles bool
	logger         log.Logger
}

// CoordinatorConfig holds construction options for CacheCoordinator.
type CoordinatorConfig struct {
	Cache cache.QueryCache
	TTL   time.Duration

	// RetainProfilesOnSignOut keeps profile entries across sign-out so the
	// next sign-in by the same person starts warm. Off by default; a shared
	// machine must not serve one user the previous user's rows.
	RetainProfilesOnSignOut bool

	Logger log.Logger
}

// NewCacheCoordinator creates a coordinator over qc.
func NewCacheCoordinator(cfg CoordinatorConfig) *CacheCoordinator {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &CacheCoordinator{
		cache:          cfg.Cache,
		ttl:            cfg.TTL,
		retainProfiles: cfg.RetainProfilesOnSignOut,
		logger:         cfg.Logger,
	}
}

// StoreSession caches sess and its user info.
func (c *CacheCoordinator) StoreSession(ctx context.Context, sess *domain.Session) {
	if sess == nil {
		return
	}
	c.put(ctx, SessionKey(), sess)
	if sess.User != nil {
		c.put(ctx, UserKey(sess.User.ID), sess.User)
	}
}

// StoreProfile caches rec under its identity.
func (c *CacheCoordinator) StoreProfile(ctx context.Context, rec *domain.ProfileRecord) {
	if rec == nil || rec.Identity == "" {
		return
	}
	c.put(ctx, ProfileKey(rec.Identity), rec)
}

// LookupProfile returns the cached profile for identity, with its staleness
// bit. ok is false on miss or any decode trouble.
func (c *CacheCoordinator) LookupProfile(ctx context.Context, identity string) (rec *domain.ProfileRecord, stale, ok bool) {
	ent, err := c.cache.Get(ctx, ProfileKey(identity))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn(ctx, "profile cache read failed", map[string]any{"error": err.Error()})
		}
		return nil, false, false
	}

	var out domain.ProfileRecord
	if err := json.Unmarshal(ent.Value, &out); err != nil {
		c.logger.Warn(ctx, "profile cache entry corrupt, ignoring", map[string]any{"error": err.Error()})
		return nil, false, false
	}
	return &out, ent.Stale, true
}

// OnSignOut purges the identity-derived cache families. The bridge calls it
// before the session store notifies, so a subscriber reacting to sign-out
// can never read the previous user's entries.
func (c *CacheCoordinator) OnSignOut(ctx context.Context) {
	removed := c.removePrefix(ctx, sessionKeyPrefix)
	removed += c.removePrefix(ctx, userKeyPrefix)
	if !c.retainProfiles {
		removed += c.removePrefix(ctx, profileKeyPrefix)
	}

	metrics.CachePurgesTotal.Inc()
	c.logger.Debug(ctx, "caches purged on sign-out", map[string]any{"entries": removed})
}

// OnProfileMutated flags every entry derived from identity's profile as
// stale. The caller then rewrites the primary key with the confirmed record,
// leaving only derived entries to refetch lazily.
func (c *CacheCoordinator) OnProfileMutated(ctx context.Context, identity string) {
	n, err := c.cache.Invalidate(ctx, ProfileKey(identity))
	if err != nil {
		c.logger.Warn(ctx, "profile cache invalidation failed",
			map[string]any{"identity": identity, "error": err.Error()})
		return
	}
	metrics.CacheInvalidationsTotal.Inc()
	c.logger.Debug(ctx, "profile cache invalidated",
		map[string]any{"identity": identity, "entries": n})
}

func (c *CacheCoordinator) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn(ctx, "failed to encode cache entry", map[string]any{"key": key, "error": err.Error()})
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn(ctx, "failed to write cache entry", map[string]any{"key": key, "error": err.Error()})
	}
}

func (c *CacheCoordinator) removePrefix(ctx context.Context, prefix string) int {
	n, err := c.cache.Remove(ctx, prefix)
	if err != nil {
		c.logger.Warn(ctx, "cache purge failed", map[string]any{"prefix": prefix, "error": err.Error()})
	}
	return n
}
