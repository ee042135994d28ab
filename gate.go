package authsync

import "github.com/aromachat/authsync/domain"

// State is the route-guard view of authentication. It collapses the session
// and profile slots into the four cases a UI actually branches on.
type State string

const (
	// StateUnknown means the initial session resolution has not finished.
	// Guards should hold rendering, not redirect.
	StateUnknown State = "UNKNOWN"

	// StateSignedOut means the session slot resolved to empty.
	StateSignedOut State = "SIGNED_OUT"

	// StateSessionOnly means a session exists but the profile for its
	// identity has not resolved: still loading, failed, or missing.
	StateSessionOnly State = "SESSION_ONLY"

	// StateAuthenticated means a session exists and the profile for the
	// same identity resolved.
	StateAuthenticated State = "AUTHENTICATED"
)

// GateSnapshot is one derived authentication state. User is non-nil exactly
// when State is StateAuthenticated.
type GateSnapshot struct {
	State      State
	Session    *domain.Session
	User       *domain.AuthenticatedUser
	SessionErr error
	ProfileErr error
}

// Derive computes the gate state from the two input slots. It is pure: no
// retained state, no side effects, so the same inputs always produce the
// same snapshot.
func Derive(sess SessionSnapshot, prof ProfileSnapshot) GateSnapshot {
	out := GateSnapshot{
		SessionErr: sess.Err,
		ProfileErr: prof.Err,
	}

	switch {
	case sess.Loading:
		out.State = StateUnknown
	case sess.Session == nil:
		out.State = StateSignedOut
	default:
		out.Session = sess.Session
		out.State = StateSessionOnly
		// A record left over from a different identity never upgrades the
		// state; the merge refuses mismatched inputs.
		if user := domain.NewAuthenticatedUser(sess.Session.User, prof.Record); user != nil {
			out.User = user
			out.State = StateAuthenticated
		}
	}
	return out
}

// Authenticated reports whether the viewer is fully signed in: session live
// and profile resolved for the same identity.
func (g GateSnapshot) Authenticated() bool {
	return g.State == StateAuthenticated
}

// LoadingAuth reports whether the authentication state is still being
// resolved: the initial session lookup, or a first profile fetch for a live
// session. A refresh that keeps the last-good record visible does not count.
func (g GateSnapshot) LoadingAuth() bool {
	return g.State == StateUnknown ||
		(g.State == StateSessionOnly && g.ProfileErr == nil)
}

// Err returns the error a guard should surface: the session error when there
// is one, otherwise the profile error.
func (g GateSnapshot) Err() error {
	if g.SessionErr != nil {
		return g.SessionErr
	}
	return g.ProfileErr
}

// same reports whether two snapshots are observationally identical, used to
// suppress duplicate gate notifications. Derive allocates a fresh User per
// call, so users are compared by identity and record rather than by pointer.
func (g GateSnapshot) same(o GateSnapshot) bool {
	return g.State == o.State &&
		g.Session == o.Session &&
		sameUser(g.User, o.User) &&
		g.SessionErr == o.SessionErr &&
		g.ProfileErr == o.ProfileErr
}

func sameUser(a, b *domain.AuthenticatedUser) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Identity == b.Identity && a.Profile == b.Profile
}
