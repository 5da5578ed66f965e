package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/labstack/echo/v4"
)

type errorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

var kindStatus = []struct {
	kind   error
	status int
}{
	{common.ErrCredentials, http.StatusUnauthorized},
	{common.ErrAuthorization, http.StatusUnauthorized},
	{common.ErrSession, http.StatusUnauthorized},
	{common.ErrTokenExpired, http.StatusUnauthorized},
	{common.ErrBanned, http.StatusForbidden},
	{common.ErrProhibited, http.StatusForbidden},
	{common.ErrPasswordLength, http.StatusBadRequest},
	{common.ErrValidation, http.StatusBadRequest},
}

// classify turns err into a status code and a client-facing payload.
// Unknown errors are hidden behind a generic message.
func classify(err error) (int, errorPayload) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorPayload{Name: "HTTPError", Message: fmt.Sprint(he.Message)}
	}

	if de, ok := common.AsDomainError(err); ok {
		status := http.StatusInternalServerError
		for _, ks := range kindStatus {
			if errors.Is(de.Kind, ks.kind) {
				status = ks.status
				break
			}
		}
		return status, errorPayload{Name: de.Name(), Message: de.Error()}
	}

	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, errorPayload{Name: "NotFoundError", Message: "Not found"}
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, errorPayload{Name: "AlreadyExistsError", Message: "Already exists"}
	}

	return http.StatusInternalServerError, errorPayload{Name: "UnknownError", Message: "Internal server error"}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, payload := classify(err)

	ctx := c.Request().Context()
	l := logging.FromContext(ctx, s.log)
	if status >= http.StatusInternalServerError {
		l.Error(ctx, "request failed", "status", status, "error", err)
	} else {
		l.Debug(ctx, "request rejected", "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorBody{Error: payload})
}
