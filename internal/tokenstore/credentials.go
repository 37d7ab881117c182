package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Credentials is the access/refresh token pair persisted in a Store.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Token converts the credentials to an oauth2.Token with the Bearer type.
func (c Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
}

// LoadCredentials reads both tokens. Missing tokens are returned as empty strings.
func LoadCredentials(ctx context.Context, s Store) (Credentials, error) {
	access, _, err := s.Get(ctx, KeyAccessToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading access token: %w", err)
	}
	refresh, _, err := s.Get(ctx, KeyRefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading refresh token: %w", err)
	}
	return Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

// SaveCredentials persists both tokens. An empty refresh token removes the stored one.
func SaveCredentials(ctx context.Context, s Store, c Credentials) error {
	if c.AccessToken == "" {
		return errors.New("access token cannot be empty")
	}
	if err := s.Set(ctx, KeyAccessToken, c.AccessToken); err != nil {
		return fmt.Errorf("writing access token: %w", err)
	}
	if c.RefreshToken == "" {
		if err := s.Remove(ctx, KeyRefreshToken); err != nil {
			return fmt.Errorf("removing refresh token: %w", err)
		}
		return nil
	}
	if err := s.Set(ctx, KeyRefreshToken, c.RefreshToken); err != nil {
		return fmt.Errorf("writing refresh token: %w", err)
	}
	return nil
}

// ClearCredentials removes both tokens. Both removals are always attempted.
func ClearCredentials(ctx context.Context, s Store) error {
	var errs []error
	if err := s.Remove(ctx, KeyAccessToken); err != nil {
		errs = append(errs, fmt.Errorf("removing access token: %w", err))
	}
	if err := s.Remove(ctx, KeyRefreshToken); err != nil {
		errs = append(errs, fmt.Errorf("removing refresh token: %w", err))
	}
	return errors.Join(errs...)
}
