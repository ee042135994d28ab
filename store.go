package authsync

import (
	"sync"

	"github.com/aromachat/authsync/domain"
	"github.com/aromachat/authsync/log"
)

// SessionSnapshot is one observed state of the session slot. Loading is true
// only before the first resolution; after that the slot is either a session,
// empty, or empty with an error attached.
type SessionSnapshot struct {
	Session *domain.Session
	Loading bool
	Err     error
}

// Identity returns the signed-in identity, or "" when there is none.
func (s SessionSnapshot) Identity() string {
	return s.Session.Identity()
}

// SessionStore holds the current session and notifies subscribers of every
// change. Notifications run synchronously on the mutating goroutine, one
// mutation at a time, in mutation order; each subscriber sees them in
// subscription order. Callbacks must not call the store's setters.
type SessionStore struct {
	logger log.Logger

	// emitMu serializes mutate+notify pairs so no subscriber ever observes
	// snapshots out of mutation order.
	emitMu sync.Mutex
	mu     sync.RWMutex
	state  SessionSnapshot
	subs   subscriberList[SessionSnapshot]
}

// NewSessionStore creates a store in the unresolved state: no session, no
// error, Loading set.
func NewSessionStore(logger log.Logger) *SessionStore {
	if logger == nil {
		logger = log.NewNop()
	}
	return &SessionStore{
		logger: logger,
		state:  SessionSnapshot{Loading: true},
	}
}

// Snapshot returns the current state.
func (s *SessionStore) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers cb for future changes. It does not invoke cb with the
// current state; read Snapshot for that.
func (s *SessionStore) Subscribe(cb func(SessionSnapshot)) Subscription {
	return s.subs.add(cb)
}

// SetSession resolves the slot to sess and clears any previous error.
func (s *SessionStore) SetSession(sess *domain.Session) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.set(SessionSnapshot{Session: sess})
}

// Clear resolves the slot to signed out.
func (s *SessionStore) Clear() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.set(SessionSnapshot{})
}

// SetError resolves the slot with err while keeping the session it already
// holds: a failed refresh or hydration is not a sign-out.
func (s *SessionStore) SetError(err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.RLock()
	next := SessionSnapshot{Session: s.state.Session, Err: err}
	s.mu.RUnlock()
	s.set(next)
}

func (s *SessionStore) set(next SessionSnapshot) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.subs.notify(next)
}
