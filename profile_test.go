package authsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aromachat/authsync/cache"
	"github.com/aromachat/authsync/domain"
	serrors "github.com/aromachat/authsync/errors"
)

// --- Mock ProfileStore ---

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetProfile(ctx context.Context, identity string) (*domain.ProfileRecord, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProfileRecord), args.Error(1)
}

func (m *MockProfileStore) UpdateProfile(ctx context.Context, identity string, patch domain.ProfilePatch) (*domain.ProfileRecord, error) {
	args := m.Called(ctx, identity, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProfileRecord), args.Error(1)
}

func annProfile() *domain.ProfileRecord {
	return &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann", Bio: "tea and code"}
}

func newTestSynchronizer(store domain.ProfileStore, coord *CacheCoordinator) *ProfileSynchronizer {
	return NewProfileSynchronizer(SynchronizerConfig{
		Store:     store,
		Cache:     coord,
		RetryMax:  3,
		RetryBase: time.Millisecond,
	})
}

// waitForDisplayName blocks until the synchronizer exposes a record with the
// given display name.
func waitForDisplayName(t *testing.T, sync *ProfileSynchronizer, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := sync.Snapshot()
		return snap.Record != nil && snap.Record.DisplayName == name
	}, 2*time.Second, 2*time.Millisecond)
}

func TestProfileSynchronizer_TrackFetches(t *testing.T) {
	store := new(MockProfileStore)
	ann := annProfile()
	entered := make(chan struct{})
	release := make(chan struct{})
	store.On("GetProfile", mock.Anything, "u1").
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(ann, nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()

	sync.Track(ctx, "u1")
	<-entered
	assert.True(t, sync.Snapshot().Loading, "fetch should be in flight right after Track")

	close(release)
	waitForDisplayName(t, sync, "Ann")
	snap := sync.Snapshot()
	assert.False(t, snap.Loading)
	assert.NoError(t, snap.Err)
	assert.Same(t, ann, snap.Record)
	store.AssertExpectations(t)
}

func TestProfileSynchronizer_TrackSameIdentityIsNoOp(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()

	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")
	before := sync.Snapshot()

	// A token refresh re-announces the same identity; no refetch.
	sync.Track(ctx, "u1")
	time.Sleep(25 * time.Millisecond)

	assert.Same(t, before.Record, sync.Snapshot().Record)
	store.AssertNumberOfCalls(t, "GetProfile", 1)
}

func TestProfileSynchronizer_TrackEmptyClearsSlot(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()

	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	sync.Track(ctx, "")

	snap := sync.Snapshot()
	assert.Nil(t, snap.Record)
	assert.False(t, snap.Loading)
	assert.NoError(t, snap.Err)
}

func TestProfileSynchronizer_StaleResponseDropped(t *testing.T) {
	store := new(MockProfileStore)
	annRelease := make(chan struct{})
	ann := annProfile()
	bea := &domain.ProfileRecord{Identity: "u2", DisplayName: "Bea"}
	store.On("GetProfile", mock.Anything, "u1").
		Run(func(mock.Arguments) { <-annRelease }).
		Return(ann, nil).Maybe()
	store.On("GetProfile", mock.Anything, "u2").Return(bea, nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	rec := &recorder[ProfileSnapshot]{}
	sync.Subscribe(rec.add)

	sync.Track(ctx, "u1")
	sync.Track(ctx, "u2")
	waitForDisplayName(t, sync, "Bea")

	// The answer for u1 arrives after the target moved on; it must vanish.
	close(annRelease)
	time.Sleep(30 * time.Millisecond)

	snap := sync.Snapshot()
	require.NotNil(t, snap.Record)
	assert.Equal(t, "Bea", snap.Record.DisplayName)
	for _, s := range rec.snapshot() {
		if s.Record != nil {
			assert.NotEqual(t, "Ann", s.Record.DisplayName, "stale result leaked into the slot")
		}
	}
}

func TestProfileSynchronizer_SignOutDropsInFlightFetch(t *testing.T) {
	store := new(MockProfileStore)
	entered := make(chan struct{})
	release := make(chan struct{})
	store.On("GetProfile", mock.Anything, "u1").
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(annProfile(), nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()

	sync.Track(ctx, "u1")
	<-entered
	sync.Track(ctx, "")

	close(release)
	time.Sleep(30 * time.Millisecond)

	snap := sync.Snapshot()
	assert.Nil(t, snap.Record, "a fetch result for a signed-out identity must be dropped")
	assert.NoError(t, snap.Err)
}

func TestProfileSynchronizer_NotFoundIsTypedState(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").
		Return(nil, serrors.NewProfileNotFound("u1")).Once()

	sync := newTestSynchronizer(store, nil)
	sync.Track(context.Background(), "u1")

	require.Eventually(t, func() bool {
		return sync.Snapshot().Err != nil
	}, 2*time.Second, 2*time.Millisecond)

	snap := sync.Snapshot()
	assert.True(t, serrors.IsProfileKind(snap.Err, serrors.ProfileNotFound))
	assert.Nil(t, snap.Record)
	assert.False(t, snap.Loading)
	// Not-found is definitive for this fetch; no retry.
	store.AssertNumberOfCalls(t, "GetProfile", 1)
}

func TestProfileSynchronizer_TransientRetriesThenSucceeds(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").
		Return(nil, serrors.NewProfileTransient("store hiccup", nil)).Twice()
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()

	sync := newTestSynchronizer(store, nil)
	sync.Track(context.Background(), "u1")

	waitForDisplayName(t, sync, "Ann")
	assert.NoError(t, sync.Snapshot().Err)
	store.AssertNumberOfCalls(t, "GetProfile", 3)
}

func TestProfileSynchronizer_TransientRetriesExhausted(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").
		Return(nil, serrors.NewProfileTransient("store down", nil)).Times(4)

	sync := newTestSynchronizer(store, nil)
	sync.Track(context.Background(), "u1")

	require.Eventually(t, func() bool {
		return sync.Snapshot().Err != nil
	}, 2*time.Second, 2*time.Millisecond)

	assert.True(t, serrors.IsProfileKind(sync.Snapshot().Err, serrors.ProfileTransient))
	// Initial attempt plus RetryMax retries.
	store.AssertNumberOfCalls(t, "GetProfile", 4)
}

func TestProfileSynchronizer_RefreshKeepsLastGoodRecordOnFailure(t *testing.T) {
	store := new(MockProfileStore)
	ann := annProfile()
	entered := make(chan struct{})
	release := make(chan struct{})
	store.On("GetProfile", mock.Anything, "u1").Return(ann, nil).Once()
	store.On("GetProfile", mock.Anything, "u1").
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(nil, serrors.NewProfileTransient("store down", nil)).Once()
	store.On("GetProfile", mock.Anything, "u1").
		Return(nil, serrors.NewProfileTransient("store down", nil)).Times(3)

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	sync.Refresh(ctx)
	<-entered
	snap := sync.Snapshot()
	assert.True(t, snap.Loading)
	assert.Same(t, ann, snap.Record, "the last-good record stays visible during a refresh")
	close(release)

	require.Eventually(t, func() bool {
		return sync.Snapshot().Err != nil
	}, 2*time.Second, 2*time.Millisecond)

	snap = sync.Snapshot()
	assert.Same(t, ann, snap.Record, "a failed refresh must not evict the last-good record")
	assert.True(t, serrors.IsProfileKind(snap.Err, serrors.ProfileTransient))
}

func TestProfileSynchronizer_RefreshRefetches(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
	updated := &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann Updated"}
	store.On("GetProfile", mock.Anything, "u1").Return(updated, nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	sync.Refresh(ctx)
	waitForDisplayName(t, sync, "Ann Updated")
	store.AssertExpectations(t)
}

func TestProfileSynchronizer_UpdateOptimisticThenConfirmed(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
	confirmed := &domain.ProfileRecord{
		Identity:    "u1",
		DisplayName: "Ann B.",
		Bio:         "tea and code",
		UpdatedAt:   time.Now(),
	}
	store.On("UpdateProfile", mock.Anything, "u1", mock.MatchedBy(func(p domain.ProfilePatch) bool {
		return p.DisplayName != nil && *p.DisplayName == "Ann B."
	})).Return(confirmed, nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	rec := &recorder[ProfileSnapshot]{}
	sync.Subscribe(rec.add)

	name := "Ann B."
	got, err := sync.Update(ctx, domain.ProfilePatch{DisplayName: &name})
	require.NoError(t, err)
	assert.Same(t, confirmed, got)

	seen := rec.snapshot()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, "Ann B.", seen[0].Record.DisplayName, "the merge is visible before the remote call resolves")
	assert.Equal(t, "tea and code", seen[0].Record.Bio, "untouched fields survive the merge")
	assert.Same(t, confirmed, seen[len(seen)-1].Record, "the server-confirmed record replaces the optimistic one")
	assert.Same(t, confirmed, sync.Snapshot().Record)
	store.AssertExpectations(t)
}

func TestProfileSynchronizer_UpdateRollsBackOnFailure(t *testing.T) {
	store := new(MockProfileStore)
	ann := annProfile()
	store.On("GetProfile", mock.Anything, "u1").Return(ann, nil).Once()
	store.On("UpdateProfile", mock.Anything, "u1", mock.Anything).
		Return(nil, serrors.NewProfileValidation("display name too long")).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	rec := &recorder[ProfileSnapshot]{}
	sync.Subscribe(rec.add)

	name := "Ann B."
	got, err := sync.Update(ctx, domain.ProfilePatch{DisplayName: &name})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, serrors.IsProfileKind(err, serrors.ProfileValidation))

	// Update-then-fail is a no-op on the slot, with the error attached.
	snap := sync.Snapshot()
	assert.Same(t, ann, snap.Record)
	assert.Equal(t, "Ann", snap.Record.DisplayName, "the optimistic merge never mutates the original record")
	assert.Equal(t, err, snap.Err)

	seen := rec.snapshot()
	require.Len(t, seen, 2)
	assert.Equal(t, "Ann B.", seen[0].Record.DisplayName)
	assert.Same(t, ann, seen[1].Record)
	assert.Error(t, seen[1].Err)

	// Validation failures are not retried.
	store.AssertNumberOfCalls(t, "UpdateProfile", 1)
}

func TestProfileSynchronizer_UpdateRetriesTransient(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
	confirmed := &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann B."}
	store.On("UpdateProfile", mock.Anything, "u1", mock.Anything).
		Return(nil, serrors.NewProfileTransient("store hiccup", nil)).Once()
	store.On("UpdateProfile", mock.Anything, "u1", mock.Anything).Return(confirmed, nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	name := "Ann B."
	got, err := sync.Update(ctx, domain.ProfilePatch{DisplayName: &name})
	require.NoError(t, err)
	assert.Same(t, confirmed, got)
	store.AssertNumberOfCalls(t, "UpdateProfile", 2)
}

type updateResult struct {
	rec *domain.ProfileRecord
	err error
}

func TestProfileSynchronizer_SupersededUpdateDoesNotTouchSlot(t *testing.T) {
	store := new(MockProfileStore)
	store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
	entered := make(chan struct{})
	release := make(chan struct{})
	confirmed := &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann B."}
	store.On("UpdateProfile", mock.Anything, "u1", mock.Anything).
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(confirmed, nil).Once()

	sync := newTestSynchronizer(store, nil)
	ctx := context.Background()
	sync.Track(ctx, "u1")
	waitForDisplayName(t, sync, "Ann")

	name := "Ann B."
	done := make(chan updateResult, 1)
	go func() {
		rec, err := sync.Update(ctx, domain.ProfilePatch{DisplayName: &name})
		done <- updateResult{rec, err}
	}()

	<-entered
	sync.Track(ctx, "") // signed out while the update is in flight

	close(release)
	res := <-done

	// The caller still gets the server's answer, but the slot has moved on.
	require.NoError(t, res.err)
	assert.Same(t, confirmed, res.rec)
	assert.Nil(t, sync.Snapshot().Record)
}

func TestProfileSynchronizer_UpdateValidation(t *testing.T) {
	t.Run("empty patch is rejected", func(t *testing.T) {
		store := new(MockProfileStore)
		store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
		sync := newTestSynchronizer(store, nil)
		sync.Track(context.Background(), "u1")
		waitForDisplayName(t, sync, "Ann")

		_, err := sync.Update(context.Background(), domain.ProfilePatch{})
		require.Error(t, err)
		assert.True(t, serrors.IsProfileKind(err, serrors.ProfileValidation))
		store.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no tracked identity is rejected", func(t *testing.T) {
		sync := newTestSynchronizer(new(MockProfileStore), nil)

		name := "Ann B."
		_, err := sync.Update(context.Background(), domain.ProfilePatch{DisplayName: &name})
		require.Error(t, err)
		assert.True(t, serrors.IsProfileKind(err, serrors.ProfileValidation))
	})
}

func TestProfileSynchronizer_CacheReadThrough(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh cache hit skips the remote store", func(t *testing.T) {
		qc := cache.NewMemory(time.Minute)
		defer qc.Close()
		coord := NewCacheCoordinator(CoordinatorConfig{Cache: qc})
		coord.StoreProfile(ctx, annProfile())

		store := new(MockProfileStore)
		sync := newTestSynchronizer(store, coord)

		sync.Track(ctx, "u1")
		waitForDisplayName(t, sync, "Ann")
		store.AssertNotCalled(t, "GetProfile", mock.Anything, "u1")
	})

	t.Run("stale cache hit is served then revalidated", func(t *testing.T) {
		qc := cache.NewMemory(time.Minute)
		defer qc.Close()
		coord := NewCacheCoordinator(CoordinatorConfig{Cache: qc})
		coord.StoreProfile(ctx, annProfile())
		coord.OnProfileMutated(ctx, "u1")

		updated := &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann Updated"}
		store := new(MockProfileStore)
		store.On("GetProfile", mock.Anything, "u1").Return(updated, nil).Once()

		sync := newTestSynchronizer(store, coord)
		rec := &recorder[ProfileSnapshot]{}
		sync.Subscribe(rec.add)

		sync.Track(ctx, "u1")
		waitForDisplayName(t, sync, "Ann Updated")

		var names []string
		for _, s := range rec.snapshot() {
			if s.Record != nil {
				names = append(names, s.Record.DisplayName)
			}
		}
		assert.Equal(t, []string{"Ann", "Ann Updated"}, names, "the stale value shows first, then the revalidated one")
		store.AssertExpectations(t)
	})

	t.Run("remote fetch writes through to the cache", func(t *testing.T) {
		qc := cache.NewMemory(time.Minute)
		defer qc.Close()
		coord := NewCacheCoordinator(CoordinatorConfig{Cache: qc})

		store := new(MockProfileStore)
		store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
		sync := newTestSynchronizer(store, coord)

		sync.Track(ctx, "u1")
		waitForDisplayName(t, sync, "Ann")

		cached, stale, ok := coord.LookupProfile(ctx, "u1")
		require.True(t, ok)
		assert.False(t, stale)
		assert.Equal(t, "Ann", cached.DisplayName)
	})

	t.Run("confirmed update replaces the cached record", func(t *testing.T) {
		qc := cache.NewMemory(time.Minute)
		defer qc.Close()
		coord := NewCacheCoordinator(CoordinatorConfig{Cache: qc})

		store := new(MockProfileStore)
		store.On("GetProfile", mock.Anything, "u1").Return(annProfile(), nil).Once()
		confirmed := &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann B."}
		store.On("UpdateProfile", mock.Anything, "u1", mock.Anything).Return(confirmed, nil).Once()

		sync := newTestSynchronizer(store, coord)
		sync.Track(ctx, "u1")
		waitForDisplayName(t, sync, "Ann")

		name := "Ann B."
		_, err := sync.Update(ctx, domain.ProfilePatch{DisplayName: &name})
		require.NoError(t, err)

		cached, stale, ok := coord.LookupProfile(ctx, "u1")
		require.True(t, ok)
		assert.False(t, stale)
		assert.Equal(t, "Ann B.", cached.DisplayName)
	})

	t.Run("refresh bypasses a fresh cache entry", func(t *testing.T) {
		qc := cache.NewMemory(time.Minute)
		defer qc.Close()
		coord := NewCacheCoordinator(CoordinatorConfig{Cache: qc})
		coord.StoreProfile(ctx, annProfile())

		updated := &domain.ProfileRecord{Identity: "u1", DisplayName: "Ann Updated"}
		store := new(MockProfileStore)
		store.On("GetProfile", mock.Anything, "u1").Return(updated, nil).Once()

		sync := newTestSynchronizer(store, coord)
		sync.Track(ctx, "u1")
		waitForDisplayName(t, sync, "Ann") // served from cache, no remote call

		sync.Refresh(ctx)
		waitForDisplayName(t, sync, "Ann Updated")
		store.AssertExpectations(t)
	})
}
