// Package authsync keeps a client's view of authentication consistent: the
// current session, the signed-in user's profile, the caches derived from
// them, and the route-guard state a UI branches on.
//
// The moving parts are a SessionStore (observable session slot), an
// EventBridge (applies the identity provider's ordered event stream to the
// store), a ProfileSynchronizer (fetches and mutates the profile row for the
// session's identity, dropping out-of-order responses), a CacheCoordinator
// (write-through caching, purge on sign-out, invalidate on mutation), and a
// pure Derive function collapsing it all into UNKNOWN, SIGNED_OUT,
// SESSION_ONLY, or AUTHENTICATED. Manager wires them together over a
// domain.IdentityProvider and a domain.ProfileStore.
package authsync
