package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testSecret = []byte(strings.Repeat("s", 32))

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testSecret, time.Hour, nil, nil)
	t.Cleanup(m.Close)
	return m
}

func TestCreateAndVerify(t *testing.T) {
	m := newTestManager(t)
	tok := &oauth2.Token{AccessToken: "at"}

	signed, id, err := m.Create(context.Background(), "user-1", tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.NotEmpty(t, id.SessionID)

	got, err := m.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	pt, ok := m.ProviderToken(got)
	require.True(t, ok)
	assert.Equal(t, "at", pt.AccessToken)
	assert.Equal(t, 1, m.Count())
}

func TestCreate_RequiresUser(t *testing.T) {
	_, _, err := newTestManager(t).Create(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	m := newTestManager(t)
	signed, _, err := m.Create(context.Background(), "user-1", nil)
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := m.Verify("")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewManager([]byte(strings.Repeat("x", 32)), time.Hour, nil, nil)
		defer other.Close()
		_, err := other.Verify(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { m.now = time.Now }()
		_, err := m.Verify(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerify_SurvivesRestart(t *testing.T) {
	m := newTestManager(t)
	signed, id, err := m.Create(context.Background(), "user-1", &oauth2.Token{AccessToken: "at"})
	require.NoError(t, err)

	restarted := newTestManager(t)
	got, err := restarted.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, ok := restarted.ProviderToken(got)
	assert.False(t, ok)
}

func TestVerify_RejectsDeletedSession(t *testing.T) {
	m := newTestManager(t)
	signed, id, err := m.Create(context.Background(), "user-1", &oauth2.Token{AccessToken: "at"})
	require.NoError(t, err)

	m.Delete(context.Background(), id.SessionID)

	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 0, m.Count())

	// Other sessions of the same user are unaffected.
	other, _, err := m.Create(context.Background(), "user-1", nil)
	require.NoError(t, err)
	_, err = m.Verify(other)
	assert.NoError(t, err)
}

func TestRemoveExpired_PrunesRevoked(t *testing.T) {
	m := newTestManager(t)
	_, id, err := m.Create(context.Background(), "user-1", nil)
	require.NoError(t, err)
	m.Delete(context.Background(), id.SessionID)
	m.Delete(context.Background(), "from-before-restart")

	m.removeExpired()
	m.mu.RLock()
	assert.Len(t, m.revoked, 2)
	m.mu.RUnlock()

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	m.removeExpired()
	m.mu.RLock()
	assert.Empty(t, m.revoked)
	m.mu.RUnlock()
}

func TestProviderToken_Updates(t *testing.T) {
	m := newTestManager(t)
	_, id, err := m.Create(context.Background(), "user-1", &oauth2.Token{AccessToken: "old"})
	require.NoError(t, err)

	m.SetProviderToken(id, &oauth2.Token{AccessToken: "new"})
	pt, ok := m.ProviderToken(id)
	require.True(t, ok)
	assert.Equal(t, "new", pt.AccessToken)

	m.ClearProviderToken(id)
	_, ok = m.ProviderToken(id)
	assert.False(t, ok)

	// Another user's identity with the same session id sees nothing.
	m.SetProviderToken(id, &oauth2.Token{AccessToken: "again"})
	_, ok = m.ProviderToken(Identity{UserID: "user-2", SessionID: id.SessionID})
	assert.False(t, ok)
}

func TestRemoveExpired(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.Create(context.Background(), "user-1", nil)
	require.NoError(t, err)
	_, _, err = m.Create(context.Background(), "user-2", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, m.removeExpired())

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 2, m.removeExpired())
	assert.Equal(t, 0, m.Count())
}

func TestCleanupLoop(t *testing.T) {
	m := newManager(testSecret, time.Millisecond, 5*time.Millisecond, nil, nil)
	defer m.Close()

	_, _, err := m.Create(context.Background(), "user-1", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(testSecret, time.Hour, nil, nil)
	m.Close()
	m.Close()
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.True(t, FromContext(ctx).IsZero())

	id := Identity{UserID: "u", SessionID: "s"}
	assert.Equal(t, id, FromContext(WithIdentity(ctx, id)))
}
