package gotrue

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aromachat/authsync/domain"
	serrors "github.com/aromachat/authsync/errors"
)

// refreshBackoffCap bounds the exponential delay between refresh retries.
const refreshBackoffCap = 30 * time.Second

// scheduleRefresh arms a timer that refreshes sess shortly before it
// expires. Rearming replaces any previous schedule; each successful refresh
// rearms through setSession.
func (c *Client) scheduleRefresh(sess *domain.Session) {
	if c.cfg.DisableAutoRefresh || sess == nil || sess.RefreshToken == "" {
		return
	}

	delay := time.Until(sess.ExpiresAt.Add(-c.cfg.RefreshMargin))
	if delay < 0 {
		delay = 0
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.stopRefreshLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c.refreshStop = cancel
	c.refreshTimer = time.AfterFunc(delay, func() {
		c.runScheduledRefresh(ctx)
	})
}

// stopRefresh disarms the pending refresh, if any, and cancels one already
// running.
func (c *Client) stopRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.stopRefreshLocked()
}

func (c *Client) stopRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.refreshStop != nil {
		c.refreshStop()
		c.refreshStop = nil
	}
}

// runScheduledRefresh drives one refresh attempt with backoff. Transient
// failures retry; exhaustion emits EventRefreshError and leaves the session
// in place for the next scheduled attempt. Permanent rejections were already
// handled inside RefreshSession.
func (c *Client) runScheduledRefresh(ctx context.Context) {
	b := retry.NewExponential(c.cfg.RetryBase)
	b = retry.WithCappedDuration(refreshBackoffCap, b)
	b = retry.WithJitterPercent(10, b)
	backoff := retry.WithMaxRetries(uint64(c.cfg.RetryMax), b)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := c.RefreshSession(ctx)
		if err == nil {
			return nil
		}
		if refreshPermanentlyFailed(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	if refreshPermanentlyFailed(err) {
		return
	}

	c.logger.Warn(ctx, "scheduled token refresh exhausted retries",
		map[string]any{"error": err.Error(), "attempts": c.cfg.RetryMax + 1})
	c.em.emit(domain.AuthEvent{Kind: domain.EventRefreshError, Err: err})

	// The session may still be refreshable later. Retry a full cycle at the
	// next margin-sized interval.
	if cur := c.CurrentSession(); cur != nil && cur.RefreshToken != "" {
		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		c.refreshTimer = time.AfterFunc(c.cfg.RefreshMargin, func() {
			c.runScheduledRefresh(ctx)
		})
	}
}

// Transient reports whether err is worth retrying: rate limits, 5xx
// responses, and transport failures. Permanent rejections of the grant or
// credentials are not.
func Transient(err error) bool {
	switch serrors.AuthCodeOf(err) {
	case serrors.RateLimited, serrors.Unknown:
		return true
	default:
		return false
	}
}
