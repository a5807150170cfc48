package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/teemow/mailminder/internal/google"
	"github.com/teemow/mailminder/internal/ingest"
	"github.com/teemow/mailminder/internal/instrumentation"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/model"
	"github.com/teemow/mailminder/internal/session"
)

const (
	DefaultReadHeaderTimeout = 10 * time.Second
	// Ingestion waits on Gmail, so writes get more room than reads.
	DefaultWriteTimeout = 2 * time.Minute
	DefaultIdleTimeout  = 120 * time.Second
)

// Store is the persistence the HTTP API needs.
type Store interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, googleSub, email, displayName string) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	UpsertCredential(ctx context.Context, c model.Credential) error
	CreateSender(ctx context.Context, ownerID, email, displayName string) (model.Sender, error)
	ListSenders(ctx context.Context, ownerID string) ([]model.Sender, error)
	DeleteSender(ctx context.Context, ownerID, id string) error
	ListEmails(ctx context.Context, ownerID, senderID string) ([]model.Email, error)
}

// Ingester runs one sender ingestion.
type Ingester interface {
	Ingest(ctx context.Context, id session.Identity, senderID, senderAddress string) (ingest.Result, error)
}

// UserInfoFunc looks up the Google account behind a token.
type UserInfoFunc func(ctx context.Context, token *oauth2.Token) (*google.UserInfo, error)

// Deps are the collaborators of a Server. Store, Sessions, Ingester and
// OAuth are required.
type Deps struct {
	Store    Store
	Sessions *session.Manager
	Ingester Ingester
	OAuth    *oauth2.Config

	// UserInfo defaults to google.FetchUserInfo.
	UserInfo UserInfoFunc
	// Health is created from Store when nil.
	Health  *HealthChecker
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger

	// CookieSecure marks session and state cookies Secure.
	CookieSecure bool
}

// Server is the MailMinder HTTP API.
type Server struct {
	store        Store
	sessions     *session.Manager
	ingester     Ingester
	oauth        *oauth2.Config
	userInfo     UserInfoFunc
	health       *HealthChecker
	metrics      *instrumentation.Metrics
	logger       *slog.Logger
	cookieSecure bool

	router     *gin.Engine
	httpServer *http.Server
}

// New builds the server and its routes.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("server: store is required")
	case deps.Sessions == nil:
		return nil, errors.New("server: session manager is required")
	case deps.Ingester == nil:
		return nil, errors.New("server: ingester is required")
	case deps.OAuth == nil:
		return nil, errors.New("server: OAuth config is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:        deps.Store,
		sessions:     deps.Sessions,
		ingester:     deps.Ingester,
		oauth:        deps.OAuth,
		userInfo:     deps.UserInfo,
		health:       deps.Health,
		metrics:      deps.Metrics,
		logger:       logging.WithService(logger, "http"),
		cookieSecure: deps.CookieSecure,
	}
	if s.userInfo == nil {
		s.userInfo = func(ctx context.Context, token *oauth2.Token) (*google.UserInfo, error) {
			return google.FetchUserInfo(ctx, token)
		}
	}
	if s.health == nil {
		s.health = NewHealthChecker(nil, deps.Store)
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	s.health.RegisterHealthEndpoints(r)

	auth := r.Group("/auth")
	auth.GET("/login", s.handleLogin)
	auth.GET("/callback", s.handleCallback)
	auth.POST("/logout", s.handleLogout)

	api := r.Group("/api", s.loadSession())
	// Ingest resolves identity itself so missing sessions surface as
	// credential errors.
	api.POST("/ingest", s.handleIngest)
	api.POST("/fetch-emails", s.handleIngest)

	authed := api.Group("", s.requireSession())
	authed.GET("/me", s.handleMe)
	authed.GET("/senders", s.handleListSenders)
	authed.POST("/senders", s.handleCreateSender)
	authed.DELETE("/senders/:id", s.handleDeleteSender)
	authed.GET("/senders/:id/emails", s.handleListEmails)

	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves the API on ln until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func identity(c *gin.Context) session.Identity {
	return session.FromContext(c.Request.Context())
}
