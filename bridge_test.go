package authsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aromachat/authsync/cache"
	"github.com/aromachat/authsync/domain"
)

// --- Fake identity provider ---

// fakeProvider is an in-process IdentityProvider with a scriptable persisted
// session and synchronous event emission, so tests control exactly what the
// bridge sees and in which order.
type fakeProvider struct {
	mu      sync.Mutex
	subs    []*fakeProviderSub
	session *domain.Session

	// sessionErr, when set, makes GetSession fail.
	sessionErr error

	// duringGetSession, when set, runs inside GetSession after the result
	// was decided, mimicking events that arrive mid-hydration.
	duringGetSession func()
}

type fakeProviderSub struct {
	cb   func(domain.AuthEvent)
	live atomic.Bool
}

func (s *fakeProviderSub) Unsubscribe() { s.live.Store(false) }

func (f *fakeProvider) emit(ev domain.AuthEvent) {
	f.mu.Lock()
	subs := append([]*fakeProviderSub(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		if s.live.Load() {
			s.cb(ev)
		}
	}
}

func (f *fakeProvider) signIn(sess *domain.Session) {
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
	f.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sess})
}

func (f *fakeProvider) refresh(sess *domain.Session) {
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
	f.emit(domain.AuthEvent{Kind: domain.EventTokenRefreshed, Session: sess})
}

func (f *fakeProvider) signOut() {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
}

func (f *fakeProvider) SignInWithPassword(_ context.Context, email, _ string) (*domain.Session, error) {
	sess := testSession(strings.SplitN(email, "@", 2)[0])
	f.signIn(sess)
	return sess, nil
}

func (f *fakeProvider) SignUp(_ context.Context, params domain.SignUpParams) (*domain.SignUpResult, error) {
	sess := testSession(strings.SplitN(params.Email, "@", 2)[0])
	f.signIn(sess)
	return &domain.SignUpResult{User: sess.User, Session: sess}, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.signOut()
	return nil
}

func (f *fakeProvider) GetSession(context.Context) (*domain.Session, error) {
	f.mu.Lock()
	sess, err := f.session, f.sessionErr
	hook := f.duringGetSession
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return sess, err
}

func (f *fakeProvider) OnAuthEvent(cb func(domain.AuthEvent)) domain.EventSubscription {
	s := &fakeProviderSub{cb: cb}
	s.live.Store(true)
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return s
}

func waitForIdentity(t *testing.T, store *SessionStore, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.Snapshot().Identity() == id
	}, 2*time.Second, 2*time.Millisecond)
}

func TestEventBridge_HydratesPersistedSession(t *testing.T) {
	sess := testSession("u1")
	provider := &fakeProvider{session: sess}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	defer bridge.Close()

	// Hydration completes before Start returns.
	snap := store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Same(t, sess, snap.Session)
	assert.NoError(t, snap.Err)
}

func TestEventBridge_HydrationWithoutSessionResolvesSignedOut(t *testing.T) {
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	defer bridge.Close()

	snap := store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Session)
	assert.NoError(t, snap.Err)
}

func TestEventBridge_HydrationFailureIsAnErrorNotASignOut(t *testing.T) {
	provider := &fakeProvider{sessionErr: errors.New("keychain locked")}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	defer bridge.Close()

	snap := store.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Session)
	assert.EqualError(t, snap.Err, "keychain locked")
}

func TestEventBridge_EventsDuringHydrationApplyAfterIt(t *testing.T) {
	restored := testSession("u1")
	fresher := testSession("u1-refreshed")
	provider := &fakeProvider{session: restored}
	provider.duringGetSession = func() {
		provider.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: fresher})
	}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	rec := &recorder[SessionSnapshot]{}
	store.Subscribe(rec.add)

	bridge.Start(context.Background())
	defer bridge.Close()

	// The hydration result lands first, then the queued event, never the
	// other way around.
	waitForIdentity(t, store, "u1-refreshed")
	seen := rec.snapshot()
	require.Len(t, seen, 2)
	assert.Same(t, restored, seen[0].Session)
	assert.Same(t, fresher, seen[1].Session)
}

func TestEventBridge_AppliesEventsInEmissionOrder(t *testing.T) {
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	defer bridge.Close()

	rec := &recorder[SessionSnapshot]{}
	store.Subscribe(rec.add)

	signedIn := testSession("u1")
	refreshed := testSession("u1")
	provider.signIn(signedIn)
	provider.refresh(refreshed)
	provider.signOut()

	require.Eventually(t, func() bool { return rec.len() == 3 }, 2*time.Second, 2*time.Millisecond)

	seen := rec.snapshot()
	assert.Same(t, signedIn, seen[0].Session)
	assert.Same(t, refreshed, seen[1].Session)
	assert.Nil(t, seen[2].Session)
}

func TestEventBridge_SignOutPurgesCachesBeforeNotifying(t *testing.T) {
	qc := cache.NewMemory(time.Minute)
	defer qc.Close()
	coord := NewCacheCoordinator(CoordinatorConfig{Cache: qc})
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store, Cache: coord})

	ctx := context.Background()

	type observation struct {
		session  *domain.Session
		cacheLen int
	}
	obs := &recorder[observation]{}
	store.Subscribe(func(snap SessionSnapshot) {
		obs.add(observation{session: snap.Session, cacheLen: qc.Len(ctx)})
	})

	bridge.Start(ctx)
	defer bridge.Close()

	provider.signIn(testSession("u1"))
	require.Eventually(t, func() bool { return qc.Len(ctx) == 2 }, 2*time.Second, 2*time.Millisecond)

	provider.signOut()
	require.Eventually(t, func() bool { return store.Snapshot().Session == nil }, 2*time.Second, 2*time.Millisecond)

	seen := obs.snapshot()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Nil(t, last.session)
	for _, o := range seen {
		if o.session == nil {
			assert.Zero(t, o.cacheLen, "a subscriber reacting to sign-out found leftover cache entries")
		}
	}
}

func TestEventBridge_SignOutEmptiesProfileSlot(t *testing.T) {
	profileStore := new(MockProfileStore)
	profileStore.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
	profiles := newTestSynchronizer(profileStore, nil)
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store, Profiles: profiles})

	bridge.Start(context.Background())
	defer bridge.Close()

	provider.signIn(testSession("u1"))
	waitForDisplayName(t, profiles, "Ann")

	provider.signOut()
	require.Eventually(t, func() bool {
		return profiles.Snapshot().Record == nil
	}, 2*time.Second, 2*time.Millisecond)
	assert.Nil(t, store.Snapshot().Session)
}

func TestEventBridge_RefreshErrorKeepsSession(t *testing.T) {
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	defer bridge.Close()

	sess := testSession("u1")
	provider.signIn(sess)
	waitForIdentity(t, store, "u1")

	provider.emit(domain.AuthEvent{Kind: domain.EventRefreshError, Err: errors.New("gateway timeout")})

	require.Eventually(t, func() bool {
		return store.Snapshot().Err != nil
	}, 2*time.Second, 2*time.Millisecond)

	snap := store.Snapshot()
	assert.Same(t, sess, snap.Session, "a failed refresh must not sign the user out")
	assert.EqualError(t, snap.Err, "gateway timeout")
}

func TestEventBridge_IgnoresMalformedAndUnknownEvents(t *testing.T) {
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	defer bridge.Close()

	rec := &recorder[SessionSnapshot]{}
	store.Subscribe(rec.add)

	provider.emit(domain.AuthEvent{Kind: domain.EventSignedIn}) // no session payload
	provider.emit(domain.AuthEvent{Kind: domain.EventKind("PASSWORD_RECOVERY")})

	sess := testSession("u1")
	provider.signIn(sess)
	waitForIdentity(t, store, "u1")

	// Only the well-formed event reached the store.
	seen := rec.snapshot()
	require.Len(t, seen, 1)
	assert.Same(t, sess, seen[0].Session)
}

func TestEventBridge_CloseStopsDelivery(t *testing.T) {
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Start(context.Background())
	sess := testSession("u1")
	provider.signIn(sess)
	waitForIdentity(t, store, "u1")

	bridge.Close()

	provider.signOut()
	time.Sleep(30 * time.Millisecond)
	assert.Same(t, sess, store.Snapshot().Session, "events after Close must not reach the store")

	bridge.Close() // second Close is a no-op
}

func TestEventBridge_CloseWithoutStartReturns(t *testing.T) {
	provider := &fakeProvider{}
	store := NewSessionStore(nil)
	bridge := NewEventBridge(BridgeConfig{Provider: provider, Store: store})

	bridge.Close()

	// A bridge closed before starting never hydrates.
	bridge.Start(context.Background())
	assert.True(t, store.Snapshot().Loading)
	bridge.Close()
}
