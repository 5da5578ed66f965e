package httpapi

import (
	"time"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const sessionKey = "session"

// requestLogger tags the request with an id, stores a request-scoped logger
// in its context and records access metrics.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()

		reqID := req.Header.Get(echo.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, reqID)

		l := s.log.With("request_id", reqID)
		ctx := logging.IntoContext(req.Context(), l)
		c.SetRequest(req.WithContext(ctx))

		s.metrics.InFlight(1)
		defer s.metrics.InFlight(-1)

		if err := next(c); err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		elapsed := time.Since(start)
		l.Info(ctx, "request",
			"method", req.Method,
			"path", c.Path(),
			"status", status,
			"duration", elapsed,
		)
		s.metrics.ObserveHTTP(req.Method, c.Path(), status, elapsed)
		return nil
	}
}

// guard admits requests carrying a token cookie that verifies and matches
// the stored session of the same user agent.
func (s *Server) guard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(tokenCookie)
		if err != nil || cookie.Value == "" {
			return common.NewAuthorizationError("Missing token")
		}

		sess, err := s.users.ResolveSession(c.Request().Context(), cookie.Value, c.Request().UserAgent())
		if err != nil {
			s.clearTokenCookie(c)
			return err
		}

		c.Set(sessionKey, sess)
		return next(c)
	}
}

// requireAdmin checks the rights cached in the session.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if currentSession(c).Rights != models.RightsAdmin {
			return common.NewProhibitedError("Admin rights required")
		}
		return next(c)
	}
}

func currentSession(c echo.Context) *models.Session {
	sess, _ := c.Get(sessionKey).(*models.Session)
	if sess == nil {
		return &models.Session{}
	}
	return sess
}
