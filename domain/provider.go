package domain

import "context"

// SignUpParams carries the inputs for registering a new account with the
// identity provider.
type SignUpParams struct {
	Email    string
	Password string
	Metadata map[string]any
}

// SignUpResult reports the outcome of a registration. Session is nil when the
// provider requires email confirmation before issuing tokens; User is set in
// both cases.
type SignUpResult struct {
	User    *UserInfo
	Session *Session
}

// EventSubscription is a live registration on a provider's event stream.
// Unsubscribe is idempotent and stops future deliveries; an invocation
// already in flight on the dispatch goroutine may still complete.
type EventSubscription interface {
	Unsubscribe()
}

// IdentityProvider is the client-facing surface of the hosted identity
// vendor. Implementations serialize event delivery: callbacks registered via
// OnAuthEvent observe events one at a time, in emission order.
type IdentityProvider interface {
	// SignInWithPassword exchanges credentials for a session and emits
	// EventSignedIn on success.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignUp registers a new account. When the provider issues tokens
	// immediately it also emits EventSignedIn.
	SignUp(ctx context.Context, params SignUpParams) (*SignUpResult, error)

	// SignOut revokes the current session and emits EventSignedOut. It
	// reports success even when the provider call fails: local state is
	// cleared regardless.
	SignOut(ctx context.Context) error

	// GetSession returns the currently persisted session, refreshing it
	// first when it is expired and a refresh token is available. Returns
	// (nil, nil) when nobody is signed in.
	GetSession(ctx context.Context) (*Session, error)

	// OnAuthEvent registers cb on the provider's event stream. cb runs on
	// the provider's dispatch goroutine.
	OnAuthEvent(cb func(AuthEvent)) EventSubscription
}

// ProfileStore is the remote table holding application-owned profile rows.
type ProfileStore interface {
	// GetProfile fetches the row keyed by identity.
	GetProfile(ctx context.Context, identity string) (*ProfileRecord, error)

	// UpdateProfile applies patch to the row keyed by identity and returns
	// the row as the store persisted it.
	UpdateProfile(ctx context.Context, identity string, patch ProfilePatch) (*ProfileRecord, error)
}
