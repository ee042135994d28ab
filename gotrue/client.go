// Package gotrue is a client for GoTrue-compatible identity endpoints. It
// owns the token lifecycle: password and refresh grants, sign-out, session
// persistence, scheduled refresh, and an ordered auth event stream.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aromachat/authsync/domain"
	serrors "github.com/aromachat/authsync/errors"
	"github.com/aromachat/authsync/log"
)

// Config holds configuration for the identity provider client.
type Config struct {
	URL string // Base URL of the auth endpoint (e.g. "https://app.example.com/auth/v1")
	Key string // Publishable API key, sent as the apikey header on every request

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Timeout    time.Duration

	// Storage persists sessions across restarts. Defaults to in-memory.
	Storage TokenStorage

	Logger log.Logger

	// RefreshMargin is how long before token expiry the scheduled refresh
	// fires. Failed refreshes retry with exponential backoff from RetryBase,
	// at most RetryMax more times.
	RefreshMargin      time.Duration
	RetryMax           int
	RetryBase          time.Duration
	DisableAutoRefresh bool
}

// Client talks to a GoTrue-compatible identity endpoint. It is safe for
// concurrent use. Event callbacks registered with OnAuthEvent run on the
// client's dispatch goroutine, one event at a time, in emission order.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  log.Logger
	storage TokenStorage
	em      *emitter

	sessMu  sync.Mutex
	current *domain.Session

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshStop  context.CancelFunc
}

// NewClient creates a new identity provider client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, serrors.NewUnknown("provider URL is required", nil)
	}
	if cfg.Key == "" {
		return nil, serrors.NewUnknown("provider API key is required", nil)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = time.Minute
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		logger:  cfg.Logger,
		storage: cfg.Storage,
		em:      newEmitter(),
	}, nil
}

// OnAuthEvent registers cb on the client's event stream.
func (c *Client) OnAuthEvent(cb func(domain.AuthEvent)) domain.EventSubscription {
	return c.em.subscribe(cb)
}

// CurrentSession returns the session currently held in memory, without
// consulting storage or refreshing. Nil when signed out.
func (c *Client) CurrentSession() *domain.Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// Close stops the refresh scheduler and the event dispatch goroutine.
// Persisted session state is left intact for the next run.
func (c *Client) Close() error {
	c.stopRefresh()
	c.em.close()
	return nil
}

// setSession installs sess as current, persists it, and arms the refresh
// timer. Does not emit; callers emit the event that fits the transition.
func (c *Client) setSession(ctx context.Context, sess *domain.Session) {
	c.sessMu.Lock()
	c.current = sess
	c.sessMu.Unlock()

	if err := c.storage.Save(ctx, sess); err != nil {
		c.logger.Warn(ctx, "failed to persist session", map[string]any{"error": err.Error()})
	}
	c.scheduleRefresh(sess)
}

// clearSession drops the current session and persisted copy and disarms the
// refresh timer. Does not emit.
func (c *Client) clearSession(ctx context.Context) {
	c.sessMu.Lock()
	c.current = nil
	c.sessMu.Unlock()

	if err := c.storage.Clear(ctx); err != nil {
		c.logger.Warn(ctx, "failed to clear persisted session", map[string]any{"error": err.Error()})
	}
	c.stopRefresh()
}

// do sends one JSON request and decodes the response into out (when out is
// non-nil). Non-2xx responses come back as *serrors.AuthError.
func (c *Client) do(ctx context.Context, method, path, authToken string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return serrors.NewUnknown("failed to encode request", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, rdr)
	if err != nil {
		return serrors.NewUnknown("failed to build request", err)
	}
	req.Header.Set("apikey", c.cfg.Key)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return serrors.NewUnknown("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return serrors.NewUnknown("failed to read provider response", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return mapError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return serrors.NewUnknown("failed to decode provider response", err)
		}
	}
	return nil
}
