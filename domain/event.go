package domain

// EventKind identifies a lifecycle transition reported by the identity
// provider's event stream.
type EventKind string

const (
	// EventSignedIn fires when the provider established a new session,
	// either through an explicit grant or by restoring persisted tokens.
	EventSignedIn EventKind = "SIGNED_IN"

	// EventSignedOut fires when the session was revoked, locally or by the
	// provider. It carries no session payload.
	EventSignedOut EventKind = "SIGNED_OUT"

	// EventTokenRefreshed fires when the access token was rotated. The
	// session payload carries the new token pair for the same identity.
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"

	// EventUserUpdated fires when provider-side user attributes changed,
	// for example after an email change was confirmed.
	EventUserUpdated EventKind = "USER_UPDATED"

	// EventRefreshError fires when a scheduled token refresh failed for a
	// transient reason. The previous session stays in place; the provider
	// retries on its own schedule.
	EventRefreshError EventKind = "REFRESH_ERROR"
)

// AuthEvent is one entry of the provider's ordered event stream. Session is
// nil for EventSignedOut and EventRefreshError; Err is set only for
// EventRefreshError.
type AuthEvent struct {
	Kind    EventKind
	Session *Session
	Err     error
}
