// Package credential resolves the Google access token used for an ingestion.
//
// The token comes from the caller's session when it has a live one, then from
// the stored credential, and finally from a single refresh of the stored
// refresh token. Nothing is retried beyond that one refresh.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mailminder/internal/google"
	"github.com/teemow/mailminder/internal/instrumentation"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/model"
	"github.com/teemow/mailminder/internal/session"
	"github.com/teemow/mailminder/internal/store"
)

// Where a resolved token came from.
const (
	SourceSession   = "session"
	SourceStored    = "stored"
	SourceRefreshed = "refreshed"
)

// Store is the credential persistence the resolver needs.
type Store interface {
	GetCredential(ctx context.Context, userID, provider string) (model.Credential, error)
	UpsertCredential(ctx context.Context, c model.Credential) error
	DeleteCredential(ctx context.Context, userID, provider string) error
}

// SessionTokens exposes the provider token held by a live session.
type SessionTokens interface {
	ProviderToken(id session.Identity) (*oauth2.Token, bool)
	SetProviderToken(id session.Identity, token *oauth2.Token)
	ClearProviderToken(id session.Identity)
}

// Resolution is a usable token and where it came from.
type Resolution struct {
	Token  *oauth2.Token
	Source string
}

// Resolver implements the session → stored → refreshed lookup.
type Resolver struct {
	store     Store
	sessions  SessionTokens
	refresher google.TokenRefresher
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	now       func() time.Time
}

// NewResolver creates a resolver. sessions may be nil for callers without a
// session, such as the CLI.
func NewResolver(st Store, sessions SessionTokens, refresher google.TokenRefresher, logger *slog.Logger, metrics *instrumentation.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:     st,
		sessions:  sessions,
		refresher: refresher,
		logger:    logging.WithOperation(logger, "credential.resolve"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Resolve returns a usable Google access token for id.
func (r *Resolver) Resolve(ctx context.Context, id session.Identity) (*oauth2.Token, error) {
	res, err := r.ResolveWithSource(ctx, id)
	if err != nil {
		return nil, err
	}
	return res.Token, nil
}

// ResolveWithSource is Resolve that also reports the token's source.
func (r *Resolver) ResolveWithSource(ctx context.Context, id session.Identity) (*Resolution, error) {
	ctx, span := instrumentation.StartSpan(ctx, "credential.resolve")
	defer span.End()

	res, err := r.resolve(ctx, id)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		r.logger.WarnContext(ctx, "no usable Google token", logging.Err(err))
		return nil, err
	}

	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithCredentialSource(res.Source).Build()...)
	instrumentation.SetSpanSuccess(span)
	r.logger.DebugContext(ctx, "resolved Google token", logging.Source(res.Source))
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, id session.Identity) (*Resolution, error) {
	if id.IsZero() {
		return nil, &AuthError{Kind: NoIdentity}
	}

	now := r.now()

	if r.sessions != nil {
		if tok, ok := r.sessions.ProviderToken(id); ok && usable(tok, now) {
			return &Resolution{Token: tok, Source: SourceSession}, nil
		}
	}

	cred, err := r.store.GetCredential(ctx, id.UserID, model.ProviderGoogle)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AuthError{Kind: NoProviderToken, Err: errors.New("no stored credential")}
	}
	if err != nil {
		return nil, fmt.Errorf("loading stored credential: %w", err)
	}

	stored := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
	}
	if usable(stored, now) {
		return &Resolution{Token: stored, Source: SourceStored}, nil
	}

	if cred.RefreshToken == "" {
		r.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
		return nil, &AuthError{Kind: NoProviderToken, Err: errors.New("stored credential expired without refresh token")}
	}

	refreshed, err := r.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		r.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return nil, &AuthError{Kind: NoProviderToken, Err: err}
	}
	r.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	err = r.store.UpsertCredential(ctx, model.Credential{
		UserID:       id.UserID,
		Provider:     model.ProviderGoogle,
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.Expiry,
	})
	if err != nil {
		// The token is still good for this request.
		r.logger.WarnContext(ctx, "failed to persist refreshed credential", logging.Err(err))
	}

	if r.sessions != nil {
		r.sessions.SetProviderToken(id, refreshed)
	}

	return &Resolution{Token: refreshed, Source: SourceRefreshed}, nil
}

// Invalidate forgets the user's Google token after Google rejected it, so the
// next request asks for re-authorization instead of reusing it.
func (r *Resolver) Invalidate(ctx context.Context, id session.Identity) error {
	if id.IsZero() {
		return nil
	}
	if r.sessions != nil {
		r.sessions.ClearProviderToken(id)
	}
	if err := r.store.DeleteCredential(ctx, id.UserID, model.ProviderGoogle); err != nil {
		return fmt.Errorf("invalidating credential: %w", err)
	}
	r.logger.InfoContext(ctx, "invalidated Google credential")
	return nil
}

// usable reports whether tok has an access token that has not expired. A
// token without expiry counts as usable.
func usable(tok *oauth2.Token, now time.Time) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || tok.Expiry.After(now)
}
