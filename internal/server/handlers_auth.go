package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/teemow/mailminder/internal/google"
	"github.com/teemow/mailminder/internal/instrumentation"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/model"
)

const (
	sessionCookieName = "mailminder_session"
	stateCookieName   = "mailminder_oauth_state"
	stateCookieTTL    = 10 * time.Minute
)

// handleLogin redirects to Google's consent screen. The state value is kept
// in a short-lived cookie and checked on the callback.
func (s *Server) handleLogin(c *gin.Context) {
	state := uuid.NewString()
	s.setCookie(c, stateCookieName, state, stateCookieTTL)
	c.Redirect(http.StatusFound, google.AuthCodeURL(s.oauth, state))
}

// handleCallback completes the OAuth flow: it exchanges the code, records the
// user and their credential, and starts a session.
func (s *Server) handleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	wantState, _ := c.Cookie(stateCookieName)
	s.clearCookie(c, stateCookieName)

	if errParam := c.Query("error"); errParam != "" {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		abortWithError(c, &APIError{Status: http.StatusUnauthorized, Message: "Authorization denied", Details: errParam})
		return
	}

	gotState := c.Query("state")
	if wantState == "" || subtle.ConstantTimeCompare([]byte(wantState), []byte(gotState)) != 1 {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		abortWithError(c, invalidRequest("OAuth state mismatch"))
		return
	}

	code := c.Query("code")
	if code == "" {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		abortWithError(c, invalidRequest("missing authorization code"))
		return
	}

	token, err := google.Exchange(ctx, s.oauth, code)
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.logger.WarnContext(ctx, "OAuth code exchange failed", logging.Err(err))
		abortWithError(c, &APIError{Status: http.StatusBadGateway, Message: "Failed to complete Google sign-in"})
		return
	}

	info, err := s.userInfo(ctx, token)
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.logger.WarnContext(ctx, "fetching Google user info failed", logging.Err(err))
		abortWithError(c, &APIError{Status: http.StatusBadGateway, Message: "Failed to complete Google sign-in"})
		return
	}

	user, err := s.store.UpsertUser(ctx, info.Subject, info.Email, info.Name)
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		abortWithError(c, err)
		return
	}

	err = s.store.UpsertCredential(ctx, model.Credential{
		UserID:       user.ID,
		Provider:     model.ProviderGoogle,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	})
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		abortWithError(c, err)
		return
	}

	signed, _, err := s.sessions.Create(ctx, user.ID, token)
	if err != nil {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		abortWithError(c, err)
		return
	}

	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	s.logger.InfoContext(ctx, "user signed in", logging.UserHash(user.Email))

	s.setCookie(c, sessionCookieName, signed, s.sessions.TTL())
	c.Redirect(http.StatusFound, "/")
}

// handleLogout drops the session, if any, and clears the cookie.
func (s *Server) handleLogout(c *gin.Context) {
	if token := sessionToken(c); token != "" {
		if id, err := s.sessions.Verify(token); err == nil {
			s.sessions.Delete(c.Request.Context(), id.SessionID)
		}
	}
	s.clearCookie(c, sessionCookieName)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(ttl.Seconds()), "/", "", s.cookieSecure, true)
}

func (s *Server) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", s.cookieSecure, true)
}
