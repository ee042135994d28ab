// Package postgrest is a client for the PostgREST-compatible endpoint that
// holds application-owned profile rows. It is deliberately single-shot:
// retry policy belongs to the caller, which knows whether a response is
// still wanted.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	serrors "github.com/aromachat/authsync/errors"
	"github.com/aromachat/authsync/log"
)

// Config holds configuration for the profile store client.
type Config struct {
	URL string // Base URL of the REST endpoint (e.g. "https://app.example.com/rest/v1")
	Key string // Publishable API key, sent as the apikey header

	// Token, when set, supplies the caller's access token per request so
	// row-level security applies to the signed-in user. Empty results fall
	// back to the API key.
	Token func(ctx context.Context) string

	// Table is the profile table name. Defaults to "profiles".
	Table string

	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     log.Logger
}

// Client talks to the profile table. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger log.Logger
}

// NewClient creates a new profile store client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("profile store URL is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("profile store API key is required")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Table == "" {
		cfg.Table = "profiles"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: cfg.Logger,
	}, nil
}

// do sends one request expecting a singular-object response and decodes it
// into out. Failures come back as *serrors.ProfileError.
func (c *Client) do(ctx context.Context, method, query string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return serrors.NewProfileValidation(fmt.Sprintf("failed to encode request: %v", err))
		}
		rdr = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/%s%s", c.cfg.URL, c.cfg.Table, query)
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return serrors.NewProfileValidation(fmt.Sprintf("failed to build request: %v", err))
	}

	req.Header.Set("apikey", c.cfg.Key)
	req.Header.Set("Authorization", "Bearer "+c.bearer(ctx))
	req.Header.Set("X-Request-ID", uuid.NewString())
	// Singular representation: exactly one row or a 406.
	req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return serrors.NewProfileTransient("profile store unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return serrors.NewProfileTransient("failed to read profile store response", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.mapError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return serrors.NewProfileTransient("failed to decode profile store response", err)
		}
	}
	return nil
}

func (c *Client) bearer(ctx context.Context) string {
	if c.cfg.Token != nil {
		if tok := c.cfg.Token(ctx); tok != "" {
			return tok
		}
	}
	return c.cfg.Key
}

// pgError is the PostgREST error body.
type pgError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// mapError classifies a non-2xx response. 406 under a singular Accept means
// the filter matched no row; other 4xx are request problems; everything else
// is worth retrying.
func (c *Client) mapError(status int, body []byte) *serrors.ProfileError {
	var pe pgError
	_ = json.Unmarshal(body, &pe)
	msg := pe.Message
	if msg == "" {
		msg = fmt.Sprintf("profile store returned status %d", status)
	}

	switch {
	case status == http.StatusNotAcceptable || pe.Code == "PGRST116" || status == http.StatusNotFound:
		e := &serrors.ProfileError{Kind: serrors.ProfileNotFound, Description: msg}
		e.Status = status
		return e
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		e := serrors.NewProfileValidation(msg)
		e.Status = status
		return e
	default:
		e := serrors.NewProfileTransient(msg, nil)
		e.Status = status
		return e
	}
}
