package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/lupohub/lupohub/internal/models"
)

var (
	ErrInvalidState = errors.New("integrations: invalid oauth state")
	ErrMissingCode  = errors.New("integrations: missing authorization code")
)

const stateTTL = 15 * time.Minute

type stateClaims struct {
	Platform models.Platform `json:"platform"`
	jwt.RegisteredClaims
}

// OAuth drives the authorization-code flow of both platforms.
type OAuth struct {
	creds   *CredentialStore
	configs map[models.Platform]*oauth2.Config
	secret  []byte
	now     func() time.Time
}

// NewOAuth signs the state parameter with secret.
func NewOAuth(creds *CredentialStore, secret string, tn, ml *oauth2.Config) *OAuth {
	return &OAuth{
		creds: creds,
		configs: map[models.Platform]*oauth2.Config{
			models.PlatformTiendaNube:   tn,
			models.PlatformMercadoLibre: ml,
		},
		secret: []byte(secret),
		now:    time.Now,
	}
}

// AuthURL returns the consent page of platform.
func (o *OAuth) AuthURL(platform models.Platform) (string, error) {
	cfg := o.configs[platform]
	if cfg == nil || cfg.ClientID == "" {
		return "", fmt.Errorf("integrations: %s app not configured", platform)
	}

	now := o.now()
	claims := stateClaims{
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return cfg.AuthCodeURL(state), nil
}

func (o *OAuth) verifyState(platform models.Platform, state string) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return o.secret, nil
	}, jwt.WithTimeFunc(o.now))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.Platform != platform {
		return fmt.Errorf("%w: issued for %s", ErrInvalidState, claims.Platform)
	}
	return nil
}

// Callback exchanges code for a token and stores it. A present state must
// verify; an absent one is accepted for apps registered without it.
func (o *OAuth) Callback(ctx context.Context, platform models.Platform, code, state string) (*models.IntegrationStatus, error) {
	cfg := o.configs[platform]
	if cfg == nil {
		return nil, fmt.Errorf("integrations: %s app not configured", platform)
	}
	if code == "" {
		return nil, ErrMissingCode
	}
	if state != "" {
		if err := o.verifyState(platform, state); err != nil {
			return nil, err
		}
	} else {
		log.Warn().Str("platform", string(platform)).Msg("oauth callback without state")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange %s code: %w", platform, err)
	}
	tok.Expiry = expiryFrom(tok, o.now())

	userID := tokenUserID(tok)
	if err := o.creds.Save(ctx, platform, tok, userID); err != nil {
		return nil, err
	}
	log.Info().Str("platform", string(platform)).Str("user_id", userID).Msg("integration connected")

	st := &models.IntegrationStatus{Platform: platform, Connected: true}
	if userID != "" {
		st.UserID = &userID
	}
	if !tok.Expiry.IsZero() {
		st.ExpiresAt = &tok.Expiry
	}
	return st, nil
}

// tokenUserID reads user_id from the token response. Tienda Nube sends the
// store id there, Mercado Libre the seller id; both as JSON numbers.
func tokenUserID(tok *oauth2.Token) string {
	switch v := tok.Extra("user_id").(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case string:
		return v
	default:
		return ""
	}
}
