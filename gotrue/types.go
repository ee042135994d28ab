package gotrue

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aromachat/authsync/domain"
)

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type updateUserRequest struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type wireUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (u *wireUser) toDomain() *domain.UserInfo {
	if u == nil {
		return nil
	}
	return &domain.UserInfo{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		Metadata:         u.UserMetadata,
	}
}

type wireSession struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *wireUser `json:"user"`
}

// toDomain converts the wire session, resolving the expiry from whichever
// field the server version provided: expires_at (newer), expires_in, or the
// exp claim of the access token itself.
func (w *wireSession) toDomain(now time.Time) *domain.Session {
	if w == nil || w.AccessToken == "" {
		return nil
	}
	var expiresAt time.Time
	switch {
	case w.ExpiresAt > 0:
		expiresAt = time.Unix(w.ExpiresAt, 0)
	case w.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(w.ExpiresIn) * time.Second)
	default:
		if exp, ok := tokenExpiry(w.AccessToken); ok {
			expiresAt = exp
		}
	}
	return &domain.Session{
		AccessToken:  w.AccessToken,
		TokenType:    w.TokenType,
		RefreshToken: w.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         w.User.toDomain(),
	}
}

// signUpResponse covers both shapes the signup endpoint returns: a full
// session when the server autoconfirms, or a bare user while email
// confirmation is pending. AccessToken decides which one arrived.
type signUpResponse struct {
	wireSession

	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (r *signUpResponse) bareUser() *domain.UserInfo {
	if r.ID == "" {
		return nil
	}
	return &domain.UserInfo{
		ID:               r.ID,
		Email:            r.Email,
		EmailConfirmedAt: r.EmailConfirmedAt,
		Metadata:         r.UserMetadata,
	}
}

// tokenExpiry extracts the exp claim from an access token without verifying
// the signature; the client never trusts the token for authorization, only
// for scheduling refreshes.
func tokenExpiry(accessToken string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
