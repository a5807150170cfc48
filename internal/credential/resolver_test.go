package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/mailminder/internal/google"
	"github.com/teemow/mailminder/internal/model"
	"github.com/teemow/mailminder/internal/session"
	"github.com/teemow/mailminder/internal/store"
)

type fakeRefresher struct {
	token *oauth2.Token
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

type fixture struct {
	store     *store.Store
	sessions  *session.Manager
	refresher *fakeRefresher
	resolver  *Resolver
	userID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLiteMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	user, err := st.UpsertUser(ctx, "sub-alice", "alice@example.com", "Alice")
	require.NoError(t, err)

	sessions := session.NewManager([]byte(strings.Repeat("k", 32)), time.Hour, nil, nil)
	t.Cleanup(sessions.Close)

	refresher := &fakeRefresher{}
	return &fixture{
		store:     st,
		sessions:  sessions,
		refresher: refresher,
		resolver:  NewResolver(st, sessions, refresher, nil, nil),
		userID:    user.ID,
	}
}

func (f *fixture) storeCredential(t *testing.T, access, refresh string, expiry time.Time) {
	t.Helper()
	require.NoError(t, f.store.UpsertCredential(context.Background(), model.Credential{
		UserID:       f.userID,
		Provider:     model.ProviderGoogle,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiry,
	}))
}

func (f *fixture) identity() session.Identity {
	return session.Identity{UserID: f.userID, SessionID: "no-live-session"}
}

func TestResolve_NoIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), session.Identity{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.NotErrorIs(t, err, ErrNoProviderToken)

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, NoIdentity, ae.Kind)
}

func TestResolve_SessionTokenFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeCredential(t, "stored-at", "rt", time.Now().Add(time.Hour))

	_, id, err := f.sessions.Create(ctx, f.userID, &oauth2.Token{AccessToken: "session-at", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	res, err := f.resolver.ResolveWithSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "session-at", res.Token.AccessToken)
	assert.Equal(t, SourceSession, res.Source)
}

func TestResolve_StoredWhenNoSession(t *testing.T) {
	f := newFixture(t)
	f.storeCredential(t, "stored-at", "rt", time.Now().Add(time.Hour))

	res, err := f.resolver.ResolveWithSource(context.Background(), f.identity())
	require.NoError(t, err)
	assert.Equal(t, "stored-at", res.Token.AccessToken)
	assert.Equal(t, SourceStored, res.Source)
	assert.Equal(t, 0, f.refresher.calls)
}

func TestResolve_StoredWithoutExpiryIsValid(t *testing.T) {
	f := newFixture(t)
	f.storeCredential(t, "forever", "", time.Time{})

	tok, err := f.resolver.Resolve(context.Background(), f.identity())
	require.NoError(t, err)
	assert.Equal(t, "forever", tok.AccessToken)
}

func TestResolve_ExpiredSessionFallsThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeCredential(t, "stored-at", "rt", time.Now().Add(time.Hour))

	_, id, err := f.sessions.Create(ctx, f.userID, &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	res, err := f.resolver.ResolveWithSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SourceStored, res.Source)
}

func TestResolve_RefreshesExpiredCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeCredential(t, "expired-at", "rt", time.Now().Add(-time.Hour))
	newExpiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	f.refresher.token = &oauth2.Token{AccessToken: "fresh-at", Expiry: newExpiry}

	_, id, err := f.sessions.Create(ctx, f.userID, nil)
	require.NoError(t, err)

	res, err := f.resolver.ResolveWithSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fresh-at", res.Token.AccessToken)
	assert.Equal(t, SourceRefreshed, res.Source)
	assert.Equal(t, 1, f.refresher.calls)

	cred, err := f.store.GetCredential(ctx, f.userID, model.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "fresh-at", cred.AccessToken)
	assert.Equal(t, "rt", cred.RefreshToken)
	assert.True(t, cred.ExpiresAt.Equal(newExpiry))

	pt, ok := f.sessions.ProviderToken(id)
	require.True(t, ok)
	assert.Equal(t, "fresh-at", pt.AccessToken)

	// The next call uses the session token without refreshing again.
	res, err = f.resolver.ResolveWithSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SourceSession, res.Source)
	assert.Equal(t, 1, f.refresher.calls)
}

func TestResolve_RefreshFailure(t *testing.T) {
	f := newFixture(t)
	f.storeCredential(t, "expired-at", "rt", time.Now().Add(-time.Hour))
	f.refresher.err = errors.New("invalid_grant")

	_, err := f.resolver.Resolve(context.Background(), f.identity())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProviderToken)
	assert.Equal(t, 1, f.refresher.calls)
}

func TestResolve_ExpiredWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.storeCredential(t, "expired-at", "", time.Now().Add(-time.Hour))

	_, err := f.resolver.Resolve(context.Background(), f.identity())
	assert.ErrorIs(t, err, ErrNoProviderToken)
	assert.Equal(t, 0, f.refresher.calls)
}

func TestResolve_NoStoredCredential(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), f.identity())
	assert.ErrorIs(t, err, ErrNoProviderToken)
}

func TestResolve_RefreshThroughTokenEndpoint(t *testing.T) {
	f := newFixture(t)
	f.storeCredential(t, "expired-at", "rt", time.Now().Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"endpoint-at","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	conf := google.NewOAuthConfig("id", "secret", "http://localhost/cb")
	conf.Endpoint = oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}
	resolver := NewResolver(f.store, nil, google.NewConfigRefresher(conf), nil, nil)

	tok, err := resolver.Resolve(context.Background(), f.identity())
	require.NoError(t, err)
	assert.Equal(t, "endpoint-at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.storeCredential(t, "stored-at", "rt", time.Now().Add(time.Hour))

	_, id, err := f.sessions.Create(ctx, f.userID, &oauth2.Token{AccessToken: "session-at"})
	require.NoError(t, err)

	require.NoError(t, f.resolver.Invalidate(ctx, id))

	_, ok := f.sessions.ProviderToken(id)
	assert.False(t, ok)
	_, err = f.store.GetCredential(ctx, f.userID, model.ProviderGoogle)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.resolver.Resolve(ctx, id)
	assert.ErrorIs(t, err, ErrNoProviderToken)

	assert.NoError(t, f.resolver.Invalidate(ctx, session.Identity{}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "no_identity", NoIdentity.String())
	assert.Equal(t, "no_provider_token", NoProviderToken.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
