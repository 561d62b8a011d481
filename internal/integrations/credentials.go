// Package integrations connects the local catalog with Tienda Nube and
// Mercado Libre: OAuth credentials, the bulk product import, background stock
// propagation and order webhooks.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/lupohub/lupohub/internal/marketplace/tiendanube"
	"github.com/lupohub/lupohub/internal/models"
)

// CredentialStore keeps one OAuth credential per (tenant, platform).
type CredentialStore struct {
	store   *database.Store
	tenant  string
	mlOAuth *oauth2.Config
}

// NewCredentialStore binds the store to a tenant. mlOAuth refreshes expired
// Mercado Libre tokens; nil disables refresh.
func NewCredentialStore(store *database.Store, tenant string, mlOAuth *oauth2.Config) *CredentialStore {
	if tenant == "" {
		tenant = "default"
	}
	return &CredentialStore{store: store, tenant: tenant, mlOAuth: mlOAuth}
}

// Tenant returns the tenant this store is bound to.
func (c *CredentialStore) Tenant() string { return c.tenant }

// Get returns the credential of platform or marketplace.ErrNotConnected.
func (c *CredentialStore) Get(ctx context.Context, platform models.Platform) (*models.Integration, error) {
	var in models.Integration
	err := c.store.Get(ctx, `
		SELECT id, tenant_id, platform, access_token, refresh_token, expires_at, user_id, created_at, updated_at
		FROM integrations WHERE tenant_id = ? AND platform = ?`,
		[]any{c.tenant, string(platform)},
		&in.ID, &in.TenantID, &in.Platform, &in.AccessToken, &in.RefreshToken, &in.ExpiresAt, &in.UserID, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", marketplace.ErrNotConnected, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s credential: %w", platform, err)
	}
	return &in, nil
}

// IsConnected reports whether a credential exists for platform.
func (c *CredentialStore) IsConnected(ctx context.Context, platform models.Platform) (bool, error) {
	_, err := c.Get(ctx, platform)
	if errors.Is(err, marketplace.ErrNotConnected) {
		return false, nil
	}
	return err == nil, err
}

// Save upserts the credential of platform from an OAuth token.
func (c *CredentialStore) Save(ctx context.Context, platform models.Platform, tok *oauth2.Token, userID string) error {
	var refresh, user any
	if tok.RefreshToken != "" {
		refresh = tok.RefreshToken
	}
	if userID != "" {
		user = userID
	}
	var expires any
	if !tok.Expiry.IsZero() {
		expires = tok.Expiry.UTC()
	}

	_, err := c.store.Execute(ctx, `
		INSERT INTO integrations (tenant_id, platform, access_token, refresh_token, expires_at, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			access_token = VALUES(access_token),
			refresh_token = COALESCE(VALUES(refresh_token), refresh_token),
			expires_at = VALUES(expires_at),
			user_id = COALESCE(VALUES(user_id), user_id)`,
		c.tenant, string(platform), tok.AccessToken, refresh, expires, user)
	if err != nil {
		return fmt.Errorf("save %s credential: %w", platform, err)
	}
	return nil
}

// Delete removes the credential. Deleting a missing credential is not an
// error.
func (c *CredentialStore) Delete(ctx context.Context, platform models.Platform) error {
	_, err := c.store.Execute(ctx, "DELETE FROM integrations WHERE tenant_id = ? AND platform = ?", c.tenant, string(platform))
	return err
}

// Status lists every platform with its connection state.
func (c *CredentialStore) Status(ctx context.Context) ([]models.IntegrationStatus, error) {
	out := make([]models.IntegrationStatus, 0, len(models.Platforms))
	for _, p := range models.Platforms {
		st := models.IntegrationStatus{Platform: p}
		in, err := c.Get(ctx, p)
		switch {
		case errors.Is(err, marketplace.ErrNotConnected):
		case err != nil:
			return nil, err
		default:
			st.Connected = true
			st.UserID = in.UserID
			st.ExpiresAt = in.ExpiresAt
		}
		out = append(out, st)
	}
	return out, nil
}

// TiendaNube returns the store id and token for API calls. Tienda Nube
// tokens do not expire.
func (c *CredentialStore) TiendaNube(ctx context.Context) (tiendanube.Credentials, error) {
	in, err := c.Get(ctx, models.PlatformTiendaNube)
	if err != nil {
		return tiendanube.Credentials{}, err
	}
	if in.UserID == nil || *in.UserID == "" {
		return tiendanube.Credentials{}, fmt.Errorf("%w: tiendanube credential has no store id", marketplace.ErrNotConnected)
	}
	return tiendanube.Credentials{StoreID: *in.UserID, AccessToken: in.AccessToken}, nil
}

// MercadoLibre returns a valid access token and the seller id, refreshing
// and persisting the token when it has expired.
func (c *CredentialStore) MercadoLibre(ctx context.Context) (token, userID string, err error) {
	in, err := c.Get(ctx, models.PlatformMercadoLibre)
	if err != nil {
		return "", "", err
	}
	if in.UserID != nil {
		userID = *in.UserID
	}

	current := &oauth2.Token{AccessToken: in.AccessToken, TokenType: "Bearer"}
	if in.RefreshToken != nil {
		current.RefreshToken = *in.RefreshToken
	}
	if in.ExpiresAt != nil {
		current.Expiry = *in.ExpiresAt
	}
	if c.mlOAuth == nil || current.Valid() || current.RefreshToken == "" {
		return current.AccessToken, userID, nil
	}

	fresh, err := c.mlOAuth.TokenSource(ctx, current).Token()
	if err != nil {
		return "", "", fmt.Errorf("%w: refresh mercadolibre token: %w", marketplace.ErrUnavailable, err)
	}
	if err := c.Save(ctx, models.PlatformMercadoLibre, fresh, userID); err != nil {
		log.Error().Err(err).Msg("refreshed mercadolibre token not persisted")
	} else {
		log.Info().Time("expires_at", fresh.Expiry).Msg("mercadolibre token refreshed")
	}
	return fresh.AccessToken, userID, nil
}

// expiryFrom is used when a token response carries expires_in but the
// library left Expiry unset.
func expiryFrom(tok *oauth2.Token, now time.Time) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	if secs, ok := tok.Extra("expires_in").(float64); ok && secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	return time.Time{}
}
