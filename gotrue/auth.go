package gotrue

import (
	"context"
	"net/http"
	"time"

	"github.com/aromachat/authsync/domain"
	serrors "github.com/aromachat/authsync/errors"
	"github.com/aromachat/authsync/internal/metrics"
)

// SignInWithPassword exchanges credentials for a session and emits
// EventSignedIn on success.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	var ws wireSession
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "",
		passwordGrantRequest{Email: email, Password: password}, &ws)
	if err != nil {
		c.logger.Debug(ctx, "password grant rejected", map[string]any{"code": serrors.AuthCodeOf(err)})
		return nil, err
	}

	sess := ws.toDomain(time.Now())
	if sess == nil {
		return nil, serrors.NewUnknown("provider returned no session for password grant", nil)
	}

	c.setSession(ctx, sess)
	metrics.SignInsTotal.Inc()
	c.logger.Info(ctx, "signed in", map[string]any{"identity": sess.Identity()})
	c.em.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp registers a new account. When the server autoconfirms it installs
// the returned session and emits EventSignedIn; otherwise the result carries
// only the pending user and no event fires until the account is confirmed.
func (c *Client) SignUp(ctx context.Context, params domain.SignUpParams) (*domain.SignUpResult, error) {
	var resp signUpResponse
	err := c.do(ctx, http.MethodPost, "/signup", "",
		signUpRequest{Email: params.Email, Password: params.Password, Data: params.Metadata}, &resp)
	if err != nil {
		return nil, err
	}

	if sess := resp.wireSession.toDomain(time.Now()); sess != nil {
		c.setSession(ctx, sess)
		metrics.SignInsTotal.Inc()
		c.logger.Info(ctx, "signed up", map[string]any{"identity": sess.Identity()})
		c.em.emit(domain.AuthEvent{Kind: domain.EventSignedIn, Session: sess})
		return &domain.SignUpResult{User: sess.User, Session: sess}, nil
	}

	user := resp.bareUser()
	if user == nil {
		return nil, serrors.NewUnknown("provider returned neither session nor user for signup", nil)
	}
	c.logger.Info(ctx, "signed up, confirmation pending", map[string]any{"identity": user.ID})
	return &domain.SignUpResult{User: user}, nil
}

// SignOut revokes the session server-side and clears local state. The local
// clear and EventSignedOut happen even when the revocation call fails: the
// user asked to leave, and keeping tokens around would override that.
func (c *Client) SignOut(ctx context.Context) error {
	cur := c.CurrentSession()
	if cur == nil {
		return nil
	}

	if err := c.do(ctx, http.MethodPost, "/logout", cur.AccessToken, nil, nil); err != nil {
		c.logger.Warn(ctx, "provider logout failed, clearing local session anyway",
			map[string]any{"error": err.Error()})
	}

	c.clearSession(ctx)
	metrics.SignOutsTotal.Inc()
	c.logger.Info(ctx, "signed out", map[string]any{"identity": cur.Identity()})
	c.em.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
	return nil
}

// GetSession returns the current session, restoring it from storage when the
// process just started and refreshing it when it already expired. Returns
// (nil, nil) when nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*domain.Session, error) {
	cur := c.CurrentSession()
	if cur == nil {
		stored, err := c.storage.Load(ctx)
		if err != nil {
			return nil, serrors.NewUnknown("failed to load persisted session", err)
		}
		if stored == nil {
			return nil, nil
		}
		c.setSession(ctx, stored)
		cur = stored
	}

	if !cur.ExpiresWithin(0) {
		return cur, nil
	}

	if cur.RefreshToken == "" {
		c.clearSession(ctx)
		return nil, serrors.NewSessionExpired("session expired and no refresh token is available")
	}
	return c.RefreshSession(ctx)
}

// RefreshSession exchanges the refresh token for a new token pair and emits
// EventTokenRefreshed. A rejection that proves the grant is gone (expired,
// reused, revoked) clears local state and emits EventSignedOut instead.
func (c *Client) RefreshSession(ctx context.Context) (*domain.Session, error) {
	cur := c.CurrentSession()
	if cur == nil || cur.RefreshToken == "" {
		return nil, serrors.NewSessionExpired("no refresh token to exchange")
	}

	var ws wireSession
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "",
		refreshGrantRequest{RefreshToken: cur.RefreshToken}, &ws)
	if err != nil {
		metrics.TokenRefreshFailureTotal.Inc()
		if refreshPermanentlyFailed(err) {
			c.logger.Warn(ctx, "refresh token rejected, signing out",
				map[string]any{"code": serrors.AuthCodeOf(err)})
			c.clearSession(ctx)
			metrics.SignOutsTotal.Inc()
			c.em.emit(domain.AuthEvent{Kind: domain.EventSignedOut})
		}
		return nil, err
	}

	sess := ws.toDomain(time.Now())
	if sess == nil {
		metrics.TokenRefreshFailureTotal.Inc()
		return nil, serrors.NewUnknown("provider returned no session for refresh grant", nil)
	}
	if sess.User == nil {
		sess.User = cur.User
	}

	c.setSession(ctx, sess)
	metrics.TokenRefreshSuccessTotal.Inc()
	c.logger.Debug(ctx, "token refreshed", map[string]any{"identity": sess.Identity()})
	c.em.emit(domain.AuthEvent{Kind: domain.EventTokenRefreshed, Session: sess})
	return sess, nil
}

// GetUser fetches the authoritative user record for the signed-in user.
// It is a pure read: no local state changes and no event fires.
func (c *Client) GetUser(ctx context.Context) (*domain.UserInfo, error) {
	cur := c.CurrentSession()
	if cur == nil {
		return nil, serrors.NewSessionExpired("not signed in")
	}

	var wu wireUser
	if err := c.do(ctx, http.MethodGet, "/user", cur.AccessToken, nil, &wu); err != nil {
		return nil, err
	}
	return wu.toDomain(), nil
}

// UserUpdate carries provider-side account changes. Zero fields are left
// untouched.
type UserUpdate struct {
	Email    string
	Password string
	Metadata map[string]any
}

// UpdateUser changes provider-side account attributes for the signed-in user
// and emits EventUserUpdated with the session carrying the new user info.
func (c *Client) UpdateUser(ctx context.Context, update UserUpdate) (*domain.UserInfo, error) {
	cur := c.CurrentSession()
	if cur == nil {
		return nil, serrors.NewSessionExpired("not signed in")
	}

	var wu wireUser
	err := c.do(ctx, http.MethodPut, "/user", cur.AccessToken,
		updateUserRequest{Email: update.Email, Password: update.Password, Data: update.Metadata}, &wu)
	if err != nil {
		return nil, err
	}

	info := wu.toDomain()
	cur.User = info
	c.setSession(ctx, cur)
	c.logger.Info(ctx, "user updated", map[string]any{"identity": info.ID})
	c.em.emit(domain.AuthEvent{Kind: domain.EventUserUpdated, Session: cur})
	return info, nil
}

// refreshPermanentlyFailed reports whether err proves the refresh grant is
// unusable, as opposed to a transient delivery problem worth retrying.
func refreshPermanentlyFailed(err error) bool {
	switch serrors.AuthCodeOf(err) {
	case serrors.SessionExpired, serrors.InvalidToken, serrors.InvalidCredentials:
		return true
	default:
		return false
	}
}
