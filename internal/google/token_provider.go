package google

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// ConfigRefresher refreshes through an oauth2.Config token endpoint.
type ConfigRefresher struct {
	Config *oauth2.Config
}

// NewConfigRefresher creates a refresher for conf.
func NewConfigRefresher(conf *oauth2.Config) *ConfigRefresher {
	return &ConfigRefresher{Config: conf}
}

// Refresh performs exactly one refresh-token grant. When Google does not
// rotate the refresh token the returned token carries the one passed in.
func (r *ConfigRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	ts := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	t, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return t, nil
}
