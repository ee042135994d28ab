package postgrest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aromachat/authsync/domain"
	serrors "github.com/aromachat/authsync/errors"
)

// GetProfile fetches the row keyed by identity.
func (c *Client) GetProfile(ctx context.Context, identity string) (*domain.ProfileRecord, error) {
	if identity == "" {
		return nil, serrors.NewProfileValidation("identity must not be empty")
	}

	var rec domain.ProfileRecord
	query := fmt.Sprintf("?select=*&id=eq.%s", url.QueryEscape(identity))
	if err := c.do(ctx, http.MethodGet, query, nil, &rec); err != nil {
		return nil, err
	}

	c.logger.Debug(ctx, "profile fetched", map[string]any{"identity": identity})
	return &rec, nil
}

// UpdateProfile applies patch to the row keyed by identity and returns the
// row as the store persisted it.
func (c *Client) UpdateProfile(ctx context.Context, identity string, patch domain.ProfilePatch) (*domain.ProfileRecord, error) {
	if identity == "" {
		return nil, serrors.NewProfileValidation("identity must not be empty")
	}
	if patch.IsZero() {
		return nil, serrors.NewProfileValidation("patch must change at least one field")
	}

	var rec domain.ProfileRecord
	query := fmt.Sprintf("?id=eq.%s", url.QueryEscape(identity))
	if err := c.do(ctx, http.MethodPatch, query, patch, &rec); err != nil {
		return nil, err
	}

	c.logger.Debug(ctx, "profile updated", map[string]any{"identity": identity})
	return &rec, nil
}
