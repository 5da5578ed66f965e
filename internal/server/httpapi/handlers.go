package httpapi

import (
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/dmitrijs2005/mmarket/internal/server/services"
	"github.com/labstack/echo/v4"
)

const tokenCookie = "token"

type loginRequest struct {
	models.UniqueProperties
	Password string `json:"password"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) setTokenCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearTokenCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return common.NewValidationError("Invalid request body")
	}
	return nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewValidationError("Invalid id")
	}
	return id, nil
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := s.users.Authenticate(c.Request().Context(), req.Password, req.UniqueProperties, c.Request().UserAgent())
	if err != nil {
		return err
	}

	s.setTokenCookie(c, res.Token)
	return c.JSON(http.StatusCreated, idResponse{ID: res.ID})
}

func (s *Server) register(c echo.Context) error {
	var req services.NewUser
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := s.users.Create(c.Request().Context(), req, c.Request().UserAgent())
	if err != nil {
		return err
	}

	s.setTokenCookie(c, res.Token)
	return c.JSON(http.StatusCreated, res.User)
}

func (s *Server) refresh(c echo.Context) error {
	cookie, err := c.Cookie(tokenCookie)
	if err != nil {
		return common.NewAuthorizationError("Missing token")
	}

	res, err := s.users.RefreshToken(c.Request().Context(), cookie.Value, c.Request().UserAgent())
	if err != nil {
		return err
	}

	s.setTokenCookie(c, res.Token)
	return c.JSON(http.StatusOK, idResponse{ID: res.ID})
}

func (s *Server) logout(c echo.Context) error {
	sess := currentSession(c)
	if err := s.users.Logout(c.Request().Context(), sess.UserID, c.Request().UserAgent()); err != nil {
		return err
	}

	s.clearTokenCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) me(c echo.Context) error {
	u, err := s.users.GetByID(c.Request().Context(), currentSession(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) updateMe(c echo.Context) error {
	var req services.UpdateUser
	if err := bind(c, &req); err != nil {
		return err
	}

	res, err := s.users.Update(c.Request().Context(), currentSession(c).UserID, req, c.Request().UserAgent())
	if err != nil {
		return err
	}

	if res.Token != "" {
		s.setTokenCookie(c, res.Token)
	}
	return c.JSON(http.StatusOK, res.User)
}

func (s *Server) removeMe(c echo.Context) error {
	if err := s.users.Remove(c.Request().Context(), currentSession(c).UserID); err != nil {
		return err
	}

	s.clearTokenCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listAddresses(c echo.Context) error {
	list, err := s.users.GetAddresses(c.Request().Context(), currentSession(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createAddress(c echo.Context) error {
	var req models.Address
	if err := bind(c, &req); err != nil {
		return err
	}

	a, err := s.users.CreateAddress(c.Request().Context(), currentSession(c).UserID, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (s *Server) updateAddress(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req models.Address
	if err := bind(c, &req); err != nil {
		return err
	}
	req.ID = id

	if err := s.users.UpdateAddress(c.Request().Context(), currentSession(c).UserID, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &req)
}

func (s *Server) removeAddress(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := s.users.RemoveAddress(c.Request().Context(), currentSession(c).UserID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// adminListUsers serves ?scope=, ?limit=&offset= or the full list.
func (s *Server) adminListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		list []*models.User
		err  error
	)
	switch {
	case c.QueryParam("scope") != "":
		list, err = s.users.GetByScope(ctx, models.Scope(c.QueryParam("scope")))
	case c.QueryParam("limit") != "":
		limit, convErr := strconv.Atoi(c.QueryParam("limit"))
		if convErr != nil {
			return common.NewValidationError("Invalid limit")
		}
		offset := 0
		if v := c.QueryParam("offset"); v != "" {
			if offset, convErr = strconv.Atoi(v); convErr != nil {
				return common.NewValidationError("Invalid offset")
			}
		}
		list, err = s.users.GetSome(ctx, limit, offset)
	default:
		list, err = s.users.GetAll(ctx)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) adminGetUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	u, err := s.users.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) adminUpdateUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req services.AdministrateUser
	if err := bind(c, &req); err != nil {
		return err
	}

	u, err := s.users.Administrate(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// adminDeleteUser soft-deletes unless ?permanent=true.
func (s *Server) adminDeleteUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if c.QueryParam("permanent") == "true" {
		err = s.users.Delete(ctx, id)
	} else {
		err = s.users.Remove(ctx, id)
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
