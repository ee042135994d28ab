package authsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aromachat/authsync/domain"
	serrors "github.com/aromachat/authsync/errors"
	"github.com/aromachat/authsync/internal/metrics"
	"github.com/aromachat/authsync/log"
)

// errSuperseded aborts a fetch whose result nobody wants anymore.
var errSuperseded = errors.New("profile request superseded")

// profileBackoffCap bounds the exponential delay between transient retries.
const profileBackoffCap = 5 * time.Second

// ProfileSnapshot is one observed state of the profile slot. During a
// refresh the previous record stays visible alongside Loading.
type ProfileSnapshot struct {
	Record  *domain.ProfileRecord
	Loading bool
	Err     error
}

// ProfileSynchronizer keeps the profile slot in step with whichever identity
// is signed in. Every change of target, refresh, and mutation advances a
// generation counter; a response is applied only if its generation is still
// current, so answers arriving out of order can never clobber newer state.
type ProfileSynchronizer struct {
	store     domain.ProfileStore
	coord     *CacheCoordinator
	logger    log.Logger
	retryMax  int
	retryBase time.Duration

	// emitMu serializes mutate+notify pairs, like SessionStore. gen is
	// atomic so in-flight fetches can poll it without taking the lock.
	emitMu   sync.Mutex
	mu       sync.RWMutex
	state    ProfileSnapshot
	identity string
	gen      atomic.Uint64
	subs     subscriberList[ProfileSnapshot]
}

// SynchronizerConfig holds construction options for ProfileSynchronizer.
type SynchronizerConfig struct {
	Store domain.ProfileStore

	// Cache, when set, serves fetches read-through and receives confirmed
	// records write-through.
	Cache *CacheCoordinator

	Logger log.Logger

	// Transient fetch failures retry with exponential backoff from
	// RetryBase, at most RetryMax more times.
	RetryMax  int
	RetryBase time.Duration
}

// NewProfileSynchronizer creates a synchronizer tracking nobody.
func NewProfileSynchronizer(cfg SynchronizerConfig) *ProfileSynchronizer {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	return &ProfileSynchronizer{
		store:     cfg.Store,
		coord:     cfg.Cache,
		logger:    cfg.Logger,
		retryMax:  cfg.RetryMax,
		retryBase: cfg.RetryBase,
	}
}

// Snapshot returns the current state.
func (p *ProfileSynchronizer) Snapshot() ProfileSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Subscribe registers cb for future changes. It does not invoke cb with the
// current state.
func (p *ProfileSynchronizer) Subscribe(cb func(ProfileSnapshot)) Subscription {
	return p.subs.add(cb)
}

// Track switches the synchronizer to identity. A new identity clears the
// slot and starts a fetch; the same identity is a no-op, so token refreshes
// do not refetch; "" empties the slot for signed-out.
func (p *ProfileSynchronizer) Track(ctx context.Context, identity string) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if p.identity == identity {
		return
	}
	p.identity = identity
	gen := p.gen.Add(1)

	if identity == "" {
		p.set(ProfileSnapshot{})
		return
	}

	p.set(ProfileSnapshot{Loading: true})
	go p.fetch(ctx, identity, gen, true)
}

// Refresh refetches the tracked identity's profile, bypassing the cache.
// The current record stays visible while the fetch runs.
func (p *ProfileSynchronizer) Refresh(ctx context.Context) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if p.identity == "" {
		return
	}
	gen := p.gen.Add(1)
	p.set(ProfileSnapshot{Record: p.state.Record, Loading: true})
	go p.fetch(ctx, p.identity, gen, false)
}

// Update applies patch optimistically, then confirms it against the remote
// store. Subscribers see the merged record immediately; on failure the slot
// rolls back to the exact pre-update value with the error attached. A
// confirmation or rollback arriving after the slot moved on (sign-out, new
// identity) is dropped.
func (p *ProfileSynchronizer) Update(ctx context.Context, patch domain.ProfilePatch) (*domain.ProfileRecord, error) {
	if patch.IsZero() {
		return nil, serrors.NewProfileValidation("patch must change at least one field")
	}

	p.emitMu.Lock()
	identity := p.identity
	if identity == "" {
		p.emitMu.Unlock()
		return nil, serrors.NewProfileValidation("no identity is being tracked")
	}
	prev := p.state
	gen := p.gen.Add(1)

	optimistic := patch.ApplyTo(prev.Record)
	optimistic.Identity = identity
	p.set(ProfileSnapshot{Record: optimistic})
	p.emitMu.Unlock()

	rec, err := p.updateRemote(ctx, identity, gen, patch)

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if gen != p.gen.Load() {
		metrics.StaleResponsesDroppedTotal.Inc()
		p.logger.Debug(ctx, "dropping superseded profile update result",
			map[string]any{"identity": identity})
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	if err != nil {
		metrics.OptimisticRollbacksTotal.Inc()
		p.logger.Warn(ctx, "profile update failed, rolling back",
			map[string]any{"identity": identity, "error": err.Error()})
		p.set(ProfileSnapshot{Record: prev.Record, Err: err})
		return nil, err
	}

	p.set(ProfileSnapshot{Record: rec})
	if p.coord != nil {
		p.coord.OnProfileMutated(ctx, identity)
		p.coord.StoreProfile(ctx, rec)
	}
	return rec, nil
}

// fetch resolves one generation's profile read: cache first (when allowed),
// then the remote store with backoff.
func (p *ProfileSynchronizer) fetch(ctx context.Context, identity string, gen uint64, useCache bool) {
	if useCache && p.coord != nil {
		if rec, stale, ok := p.coord.LookupProfile(ctx, identity); ok {
			p.resolve(ctx, gen, rec, nil, false)
			if !stale {
				return
			}
			// A stale hit is shown immediately and then revalidated.
		}
	}

	rec, err := p.fetchRemote(ctx, identity, gen)
	if errors.Is(err, errSuperseded) {
		p.logger.Debug(ctx, "profile fetch aborted, superseded", map[string]any{"identity": identity})
		return
	}
	p.resolve(ctx, gen, rec, err, true)
}

// backoff builds the retry schedule for one remote call: exponential from
// retryBase, capped, jittered, at most retryMax extra attempts.
func (p *ProfileSynchronizer) backoff() retry.Backoff {
	b := retry.NewExponential(p.retryBase)
	b = retry.WithCappedDuration(profileBackoffCap, b)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(uint64(p.retryMax), b)
}

func (p *ProfileSynchronizer) fetchRemote(ctx context.Context, identity string, gen uint64) (*domain.ProfileRecord, error) {
	var rec *domain.ProfileRecord
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if p.superseded(gen) {
			return errSuperseded
		}
		r, err := p.store.GetProfile(ctx, identity)
		if err != nil {
			if serrors.IsProfileKind(err, serrors.ProfileTransient) {
				return retry.RetryableError(err)
			}
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *ProfileSynchronizer) updateRemote(ctx context.Context, identity string, gen uint64, patch domain.ProfilePatch) (*domain.ProfileRecord, error) {
	var rec *domain.ProfileRecord
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if p.superseded(gen) {
			return errSuperseded
		}
		r, err := p.store.UpdateProfile(ctx, identity, patch)
		if err != nil {
			if serrors.IsProfileKind(err, serrors.ProfileTransient) {
				return retry.RetryableError(err)
			}
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// resolve applies a fetch result if, and only if, its generation is still
// the current one. Anything else is a response to a question nobody is
// asking anymore.
func (p *ProfileSynchronizer) resolve(ctx context.Context, gen uint64, rec *domain.ProfileRecord, err error, cacheable bool) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if gen != p.gen.Load() {
		metrics.StaleResponsesDroppedTotal.Inc()
		p.logger.Debug(ctx, "dropping stale profile response", map[string]any{"gen": gen})
		return
	}

	if err != nil {
		metrics.ProfileFetchFailureTotal.Inc()
		p.logger.Warn(ctx, "profile fetch failed",
			map[string]any{"identity": p.identity, "kind": serrors.ProfileKindOf(err), "error": err.Error()})
		p.set(ProfileSnapshot{Record: p.state.Record, Err: err})
		return
	}

	metrics.ProfileFetchSuccessTotal.Inc()
	p.set(ProfileSnapshot{Record: rec})
	if cacheable && p.coord != nil {
		p.coord.StoreProfile(ctx, rec)
	}
}

func (p *ProfileSynchronizer) superseded(gen uint64) bool {
	return gen != p.gen.Load()
}

func (p *ProfileSynchronizer) set(next ProfileSnapshot) {
	p.mu.Lock()
	p.state = next
	p.mu.Unlock()
	p.subs.notify(next)
}
