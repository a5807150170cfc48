package google

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// UserInfo is the identity Google reports for a signed-in user.
type UserInfo struct {
	Subject       string
	Email         string
	Name          string
	VerifiedEmail bool
}

// NewOAuthConfig returns the OAuth2 configuration for signing in with Google
// and reading Gmail.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       DefaultOAuthScopes,
	}
}

// AuthCodeURL returns the consent URL. Offline access with a forced consent
// prompt makes Google return a refresh token every time.
func AuthCodeURL(conf *oauth2.Config, state string) string {
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func Exchange(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	t, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return t, nil
}

// FetchUserInfo looks up the token owner's identity. opts are appended after
// the HTTP client, so tests can redirect the call with option.WithEndpoint.
func FetchUserInfo(ctx context.Context, token *oauth2.Token, opts ...option.ClientOption) (*UserInfo, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	allOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	svc, err := oauth2api.NewService(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth2 service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Id == "" {
		return nil, errors.New("user info has no subject")
	}

	u := &UserInfo{
		Subject: info.Id,
		Email:   info.Email,
		Name:    info.Name,
	}
	if info.VerifiedEmail != nil {
		u.VerifiedEmail = *info.VerifiedEmail
	}
	return u, nil
}
