package authsync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aromachat/authsync/domain"
	"github.com/aromachat/authsync/log"
)

// EventBridge drives the session store from the identity provider's event
// stream. All writes happen on one dispatch goroutine, so store subscribers
// observe provider events in emission order with nothing interleaved.
//
// Startup subscribes before hydrating: events arriving while the persisted
// session is being restored queue up and apply after the hydration result,
// still in order, so none are lost and none apply twice out of turn.
type EventBridge struct {
	provider domain.IdentityProvider
	store    *SessionStore
	profiles *ProfileSynchronizer
	coord    *CacheCoordinator
	logger   log.Logger

	ctx       context.Context
	sub       domain.EventSubscription
	events    chan domain.AuthEvent
	quit      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// BridgeConfig holds construction options for EventBridge. Provider and
// Store are required; Profiles and Cache hook the corresponding reactions in
// when present.
type BridgeConfig struct {
	Provider domain.IdentityProvider
	Store    *SessionStore
	Profiles *ProfileSynchronizer
	Cache    *CacheCoordinator
	Logger   log.Logger
}

// NewEventBridge creates a bridge. It does nothing until Start.
func NewEventBridge(cfg BridgeConfig) *EventBridge {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &EventBridge{
		provider: cfg.Provider,
		store:    cfg.Store,
		profiles: cfg.Profiles,
		coord:    cfg.Cache,
		logger:   cfg.Logger,
		events:   make(chan domain.AuthEvent, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the provider, hydrates the store from the persisted
// session, and begins dispatching. Safe to call once; ctx bounds the
// hydration call and every store reaction the bridge makes.
func (b *EventBridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		select {
		case <-b.quit: // closed before it ever started
			return
		default:
		}
		b.started.Store(true)
		b.ctx = ctx

		b.sub = b.provider.OnAuthEvent(func(ev domain.AuthEvent) {
			select {
			case b.events <- ev:
			case <-b.quit:
			}
		})

		b.hydrate(ctx)
		go b.run()
	})
}

// Close detaches from the provider and stops the dispatch goroutine. After
// Close returns no further store writes originate from this bridge. Safe to
// call more than once.
func (b *EventBridge) Close() {
	b.closeOnce.Do(func() {
		if b.sub != nil {
			b.sub.Unsubscribe()
		}
		close(b.quit)
	})
	if !b.started.Load() {
		return
	}
	<-b.done
}

// hydrate resolves the initial session slot. A failure is surfaced as an
// error, not a sign-out: the person may well still be signed in, the client
// just cannot prove it yet.
func (b *EventBridge) hydrate(ctx context.Context) {
	sess, err := b.provider.GetSession(ctx)
	switch {
	case err != nil:
		b.logger.Warn(ctx, "session hydration failed", map[string]any{"error": err.Error()})
		b.store.SetError(err)
	case sess == nil:
		b.logger.Debug(ctx, "no persisted session")
		b.store.Clear()
	default:
		b.logger.Info(ctx, "session hydrated", map[string]any{"identity": sess.Identity()})
		b.applySession(ctx, sess)
	}
}

func (b *EventBridge) run() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.events:
			b.apply(b.ctx, ev)
		case <-b.quit:
			return
		}
	}
}

func (b *EventBridge) apply(ctx context.Context, ev domain.AuthEvent) {
	switch ev.Kind {
	case domain.EventSignedIn, domain.EventTokenRefreshed, domain.EventUserUpdated:
		if ev.Session == nil {
			b.logger.Warn(ctx, "auth event carries no session, ignoring",
				map[string]any{"kind": string(ev.Kind)})
			return
		}
		b.applySession(ctx, ev.Session)

	case domain.EventSignedOut:
		// Purge first: by the time any subscriber reacts to the cleared
		// store, the previous user's cache entries are already gone.
		if b.coord != nil {
			b.coord.OnSignOut(ctx)
		}
		b.store.Clear()
		if b.profiles != nil {
			b.profiles.Track(ctx, "")
		}

	case domain.EventRefreshError:
		b.logger.Warn(ctx, "provider reported refresh error", map[string]any{"error": errString(ev.Err)})
		b.store.SetError(ev.Err)

	default:
		// Forward compatibility: a provider may grow event kinds this
		// client does not know. Ignoring them beats corrupting the slot.
		b.logger.Warn(ctx, "unknown auth event kind, ignoring",
			map[string]any{"kind": string(ev.Kind)})
	}
}

// applySession is the shared signed-in/refreshed/updated reaction: store
// first so the session is observable, then profile tracking, then cache.
func (b *EventBridge) applySession(ctx context.Context, sess *domain.Session) {
	b.store.SetSession(sess)
	if b.profiles != nil {
		b.profiles.Track(ctx, sess.Identity())
	}
	if b.coord != nil {
		b.coord.StoreSession(ctx, sess)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
