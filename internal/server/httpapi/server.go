// Package httpapi is the HTTP boundary of the backend: session and user
// endpoints, the session guard, admin routes, health probes and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/metrics"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/dmitrijs2005/mmarket/internal/server/services"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Users is the part of services.UserService the handlers call.
type Users interface {
	Create(ctx context.Context, in services.NewUser, userAgent string) (*services.AuthResult, error)
	Authenticate(ctx context.Context, password string, props models.UniqueProperties, userAgent string) (*services.AuthResult, error)
	Update(ctx context.Context, id int64, in services.UpdateUser, userAgent string) (*services.AuthResult, error)
	RefreshToken(ctx context.Context, token, userAgent string) (*services.AuthResult, error)
	Logout(ctx context.Context, id int64, userAgent string) error
	ResolveSession(ctx context.Context, token, userAgent string) (*models.Session, error)
	Administrate(ctx context.Context, id int64, in services.AdministrateUser) (*models.User, error)
	Remove(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	GetAll(ctx context.Context) ([]*models.User, error)
	GetSome(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByScope(ctx context.Context, scope models.Scope) ([]*models.User, error)
	CreateAddress(ctx context.Context, userID int64, a *models.Address) (*models.Address, error)
	UpdateAddress(ctx context.Context, userID int64, a *models.Address) error
	RemoveAddress(ctx context.Context, userID, addressID int64) error
	GetAddresses(ctx context.Context, userID int64) ([]*models.Address, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	e        *echo.Echo
	addr     string
	users    Users
	tokenTTL time.Duration
	secure   bool
	checks   map[string]ReadyCheck
	metrics  *metrics.Metrics
	log      logging.Logger
}

type Option func(*Server)

// WithReadyCheck adds a named dependency probe to /health/ready.
func WithReadyCheck(name string, check ReadyCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithSecureCookies marks the token cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secure = secure }
}

func NewServer(addr string, users Users, tokenTTL time.Duration, m *metrics.Metrics, l logging.Logger, opts ...Option) *Server {
	s := &Server{
		e:        echo.New(),
		addr:     addr,
		users:    users,
		tokenTTL: tokenTTL,
		checks:   make(map[string]ReadyCheck),
		metrics:  m,
		log:      l.With("module", "http_server"),
	}
	for _, o := range opts {
		o(s)
	}

	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Server.ReadTimeout = 10 * time.Second
	s.e.Server.WriteTimeout = 15 * time.Second
	s.e.Server.ReadHeaderTimeout = 3 * time.Second
	s.e.HTTPErrorHandler = s.errorHandler

	s.e.Use(middleware.Recover(), s.requestLogger)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	s.e.GET("/health/ready", s.ready)
	s.e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := s.e.Group("/api")
	api.POST("/session", s.login)
	api.POST("/user", s.register)

	private := api.Group("", s.guard)
	private.GET("/session/refresh", s.refresh)
	private.DELETE("/session", s.logout)

	private.GET("/user/me", s.me)
	private.PUT("/user/me", s.updateMe)
	private.DELETE("/user/me", s.removeMe)
	private.GET("/user/me/addresses", s.listAddresses)
	private.POST("/user/me/addresses", s.createAddress)
	private.PUT("/user/me/addresses/:id", s.updateAddress)
	private.DELETE("/user/me/addresses/:id", s.removeAddress)

	admin := private.Group("/admin", s.requireAdmin)
	admin.GET("/users", s.adminListUsers)
	admin.GET("/users/:id", s.adminGetUser)
	admin.PUT("/users/:id", s.adminUpdateUser)
	admin.DELETE("/users/:id", s.adminDeleteUser)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "Starting HTTP server", "address", s.addr)
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

func (s *Server) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	failed := echo.Map{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "failed": failed})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
