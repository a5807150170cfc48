package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/session"
)

// Context keys set by the session middleware.
const (
	ctxKeyUserID    = "user_id"
	ctxKeySessionID = "session_id"
)

const unmatchedRoute = "unmatched"

// requestLogger logs each request once it completes and records HTTP metrics
// against the route pattern, never the raw path.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		duration := time.Since(start)

		s.metrics.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, status, duration)

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		}
		if err := c.Errors.Last(); err != nil {
			attrs = append(attrs, logging.Err(err.Err))
		}

		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "request", attrs...)
	}
}

// loadSession attaches the caller's identity when the request carries a
// valid session token, from the cookie or an Authorization bearer header.
// Requests without one pass through with no identity.
func (s *Server) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.Next()
			return
		}

		id, err := s.sessions.Verify(token)
		if err != nil {
			s.logger.DebugContext(c.Request.Context(), "ignoring invalid session token", logging.Err(err))
			c.Next()
			return
		}

		c.Set(ctxKeyUserID, id.UserID)
		c.Set(ctxKeySessionID, id.SessionID)
		c.Request = c.Request.WithContext(session.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// requireSession rejects requests that loadSession left without an identity.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session.FromContext(c.Request.Context()).IsZero() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, &APIError{Message: msgNoIdentity})
			return
		}
		c.Next()
	}
}

func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
