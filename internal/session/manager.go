// Package session issues signed session tokens and keeps the in-memory
// session table that carries each signed-in user's Google access token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"

	"github.com/teemow/mailminder/internal/instrumentation"
)

const (
	issuer         = "mailminder"
	claimSessionID = "sid"

	// DefaultCleanupInterval is how often expired sessions are swept.
	DefaultCleanupInterval = 10 * time.Minute
)

// ErrInvalidToken is returned for a session token that fails verification.
var ErrInvalidToken = errors.New("invalid session token")

// Identity names the signed-in user. The zero value means "not signed in".
type Identity struct {
	UserID    string
	SessionID string
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

type entry struct {
	userID        string
	providerToken *oauth2.Token
	expiresAt     time.Time
}

// Manager signs session tokens and tracks live sessions.
type Manager struct {
	secret []byte
	ttl    time.Duration

	sessions      map[string]*entry
	revoked       map[string]time.Time
	mu            sync.RWMutex
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	closeOnce     sync.Once

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewManager creates a session manager and starts its cleanup goroutine.
// Call Close to stop it.
func NewManager(secret []byte, ttl time.Duration, logger *slog.Logger, metrics *instrumentation.Metrics) *Manager {
	return newManager(secret, ttl, DefaultCleanupInterval, logger, metrics)
}

func newManager(secret []byte, ttl, cleanupInterval time.Duration, logger *slog.Logger, metrics *instrumentation.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		secret:        secret,
		ttl:           ttl,
		sessions:      make(map[string]*entry),
		revoked:       make(map[string]time.Time),
		cleanupTicker: time.NewTicker(cleanupInterval),
		cleanupDone:   make(chan struct{}),
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}

	go m.cleanupExpiredSessions()

	return m
}

// TTL returns how long a session lives.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create starts a session for userID holding the provider token and returns
// the signed token to hand to the client.
func (m *Manager) Create(ctx context.Context, userID string, providerToken *oauth2.Token) (string, Identity, error) {
	if userID == "" {
		return "", Identity{}, errors.New("user id is required")
	}

	now := m.now()
	id := Identity{UserID: userID, SessionID: uuid.NewString()}

	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(m.ttl)).
		Claim(claimSessionID, id.SessionID).
		Build()
	if err != nil {
		return "", Identity{}, fmt.Errorf("building session token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, m.secret))
	if err != nil {
		return "", Identity{}, fmt.Errorf("signing session token: %w", err)
	}

	m.mu.Lock()
	m.sessions[id.SessionID] = &entry{
		userID:        userID,
		providerToken: providerToken,
		expiresAt:     now.Add(m.ttl),
	}
	m.mu.Unlock()

	m.metrics.IncrementActiveSessions(ctx)

	return string(signed), id, nil
}

// Verify checks the signature and expiry of a session token and returns the
// identity it names. Tokens of deleted sessions are rejected. The token stays
// valid after a restart even though the session table is empty; the provider
// token then comes from storage.
func (m *Manager) Verify(signed string) (Identity, error) {
	if signed == "" {
		return Identity{}, ErrInvalidToken
	}

	tok, err := jwt.Parse([]byte(signed),
		jwt.WithKey(jwa.HS256, m.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(issuer),
		jwt.WithClock(jwt.ClockFunc(m.now)),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := Identity{UserID: tok.Subject()}
	if v, ok := tok.Get(claimSessionID); ok {
		id.SessionID, _ = v.(string)
	}
	if id.UserID == "" || id.SessionID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject or session id", ErrInvalidToken)
	}

	m.mu.RLock()
	_, revoked := m.revoked[id.SessionID]
	m.mu.RUnlock()
	if revoked {
		return Identity{}, fmt.Errorf("%w: session ended", ErrInvalidToken)
	}

	return id, nil
}

// ProviderToken returns the Google token held by the session, if any.
func (m *Manager) ProviderToken(id Identity) (*oauth2.Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id.SessionID]
	if !ok || e.userID != id.UserID || e.providerToken == nil || m.now().After(e.expiresAt) {
		return nil, false
	}
	return e.providerToken, true
}

// SetProviderToken replaces the session's Google token, e.g. after a refresh.
// It is a no-op when the session is not in the table.
func (m *Manager) SetProviderToken(id Identity, token *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[id.SessionID]; ok && e.userID == id.UserID {
		e.providerToken = token
	}
}

// ClearProviderToken drops the session's Google token but keeps the session.
func (m *Manager) ClearProviderToken(id Identity) {
	m.SetProviderToken(id, nil)
}

// Delete removes a session and revokes its token until the token would have
// expired anyway.
func (m *Manager) Delete(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	until := m.now().Add(m.ttl)
	if ok {
		until = e.expiresAt
	}
	m.revoked[sessionID] = until
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		m.metrics.DecrementActiveSessions(ctx)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupExpiredSessions periodically removes expired sessions
func (m *Manager) cleanupExpiredSessions() {
	for {
		select {
		case <-m.cleanupTicker.C:
			if n := m.removeExpired(); n > 0 {
				m.logger.Info("Cleaned up expired sessions", "count", n)
			}
		case <-m.cleanupDone:
			return
		}
	}
}

func (m *Manager) removeExpired() int {
	m.mu.Lock()
	now := m.now()
	expired := 0
	for id, e := range m.sessions {
		if now.After(e.expiresAt) {
			delete(m.sessions, id)
			expired++
		}
	}
	for id, until := range m.revoked {
		if now.After(until) {
			delete(m.revoked, id)
		}
	}
	m.mu.Unlock()

	for range expired {
		m.metrics.DecrementActiveSessions(context.Background())
	}
	return expired
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.cleanupDone)
	})
}
