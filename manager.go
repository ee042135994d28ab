package authsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aromachat/authsync/cache"
	"github.com/aromachat/authsync/domain"
	"github.com/aromachat/authsync/log"
)

// Options configures a Manager. Provider and Profiles are required; Cache is
// optional and enables the coordinator when set. The Manager does not take
// ownership of any of them.
type Options struct {
	Provider domain.IdentityProvider
	Profiles domain.ProfileStore
	Cache    cache.QueryCache
	Logger   log.Logger

	// CacheTTL bounds the lifetime of coordinator-written entries.
	CacheTTL time.Duration

	// RetainProfileCacheOnSignOut keeps profile cache entries across
	// sign-out. The exposed profile slot is cleared either way.
	RetainProfileCacheOnSignOut bool

	// Transient profile fetch failures retry with exponential backoff from
	// ProfileRetryBase, at most ProfileRetryMax more times.
	ProfileRetryMax  int
	ProfileRetryBase time.Duration
}

// Manager assembles the sync layer: session store, profile synchronizer,
// cache coordinator, and event bridge, plus the derived gate stream. One
// Manager serves one identity provider client.
type Manager struct {
	provider domain.IdentityProvider
	sessions *SessionStore
	profiles *ProfileSynchronizer
	coord    *CacheCoordinator
	bridge   *EventBridge
	logger   log.Logger

	// gateMu is held across gate notifications so gate subscribers observe
	// derived states in the order they became true.
	gateMu   sync.Mutex
	lastGate GateSnapshot
	gateSubs subscriberList[GateSnapshot]
}

// New creates a Manager. Call Start to begin syncing.
func New(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("authsync: an identity provider is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("authsync: a profile store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	m := &Manager{
		provider: opts.Provider,
		logger:   logger,
	}

	var coord *CacheCoordinator
	if opts.Cache != nil {
		coord = NewCacheCoordinator(CoordinatorConfig{
			Cache:                   opts.Cache,
			TTL:                     opts.CacheTTL,
			RetainProfilesOnSignOut: opts.RetainProfileCacheOnSignOut,
			Logger:                  logger.With(map[string]any{"component": "cache_coordinator"}),
		})
	}

	m.coord = coord
	m.sessions = NewSessionStore(logger.With(map[string]any{"component": "session_store"}))
	m.profiles = NewProfileSynchronizer(SynchronizerConfig{
		Store:     opts.Profiles,
		Cache:     coord,
		Logger:    logger.With(map[string]any{"component": "profile_synchronizer"}),
		RetryMax:  opts.ProfileRetryMax,
		RetryBase: opts.ProfileRetryBase,
	})
	m.bridge = NewEventBridge(BridgeConfig{
		Provider: opts.Provider,
		Store:    m.sessions,
		Profiles: m.profiles,
		Cache:    coord,
		Logger:   logger.With(map[string]any{"component": "event_bridge"}),
	})

	m.lastGate = Derive(m.sessions.Snapshot(), m.profiles.Snapshot())
	m.sessions.Subscribe(func(SessionSnapshot) { m.publishGate() })
	m.profiles.Subscribe(func(ProfileSnapshot) { m.publishGate() })

	return m, nil
}

// Start hydrates the session slot and begins reacting to provider events.
// ctx bounds the whole sync lifetime; canceling it aborts in-flight fetches.
func (m *Manager) Start(ctx context.Context) {
	m.bridge.Start(ctx)
}

// Close detaches from the provider. After Close returns, no further store
// or gate notifications originate from this Manager. The provider, profile
// store, and cache remain open; they belong to the caller.
func (m *Manager) Close() error {
	m.bridge.Close()
	return nil
}

// Sessions returns the session store.
func (m *Manager) Sessions() *SessionStore { return m.sessions }

// Profiles returns the profile synchronizer.
func (m *Manager) Profiles() *ProfileSynchronizer { return m.profiles }

// SignInWithPassword signs in through the provider. The resulting state
// change arrives through the event bridge like any other provider event.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	return m.provider.SignInWithPassword(ctx, email, password)
}

// SignUp registers a new account through the provider.
func (m *Manager) SignUp(ctx context.Context, params domain.SignUpParams) (*domain.SignUpResult, error) {
	return m.provider.SignUp(ctx, params)
}

// SignOut revokes the current session through the provider.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.provider.SignOut(ctx)
}

// UpdateProfile applies patch to the tracked identity's profile, optimistic
// with rollback on failure.
func (m *Manager) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (*domain.ProfileRecord, error) {
	return m.profiles.Update(ctx, patch)
}

// RefreshProfile refetches the tracked identity's profile, bypassing the
// cache.
func (m *Manager) RefreshProfile(ctx context.Context) {
	m.profiles.Refresh(ctx)
}

// Gate derives the current gate snapshot from the live slots.
func (m *Manager) Gate() GateSnapshot {
	return Derive(m.sessions.Snapshot(), m.profiles.Snapshot())
}

// OnGateChange registers cb for gate transitions. Consecutive identical
// snapshots are collapsed; cb is not invoked with the current state.
func (m *Manager) OnGateChange(cb func(GateSnapshot)) Subscription {
	return m.gateSubs.add(cb)
}

func (m *Manager) publishGate() {
	m.gateMu.Lock()
	defer m.gateMu.Unlock()

	snap := Derive(m.sessions.Snapshot(), m.profiles.Snapshot())
	if snap.same(m.lastGate) {
		return
	}
	m.lastGate = snap
	m.gateSubs.notify(snap)
}
