package domain

import "time"

// UserInfo is the identity provider's view of a signed-up user. It travels
// inside the session token bundle and is replaced wholesale whenever the
// provider reissues the session.
type UserInfo struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

// Session is the provider-issued token bundle representing an authenticated
// browser or device. The application only mirrors the latest value: it is
// created on sign-in or hydration, replaced on every refresh, and set to nil
// on sign-out or a confirmed-invalid refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *UserInfo `json:"user,omitempty"`
}

// Identity returns the stable provider-assigned id for the session's user,
// or "" when the session (or its user) is absent.
func (s *Session) Identity() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// ExpiresWithin reports whether the access token expires within d from now.
// A nil session is treated as already expired.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	if s == nil {
		return true
	}
	return !time.Now().Add(d).Before(s.ExpiresAt)
}
