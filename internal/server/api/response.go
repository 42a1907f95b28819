package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/facegate/internal/common"
)

// envelope is the body of every JSON reply.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, envelope{Success: false, Message: message})
}

// errorStatus maps service errors to a status and a message safe to show
// to the caller. Only input problems carry their detail; identity problems
// share one message so that responses do not reveal which accounts exist.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrFaceRejected):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrChallengeNotFound), errors.Is(err, common.ErrChallengeExpired):
		return http.StatusUnauthorized, "invalid or expired challenge"
	case errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, common.ErrVerificationFailed):
		return http.StatusUnauthorized, "could not verify identity"
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "session expired"
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrAccountInactive), errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, "account is not active"
	case errors.Is(err, common.ErrAccountLocked):
		return http.StatusLocked, "too many failed attempts"
	case errors.Is(err, common.ErrDuplicateFace):
		return http.StatusConflict, "this face is already registered to another account"
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *HTTPServer) writeError(c echo.Context, err error) error {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", "path", c.Path(), "err", err)
	}
	return fail(c, status, msg)
}

func (s *HTTPServer) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = http.StatusText(he.Code)
	} else {
		s.logger.Error(c.Request().Context(), "unhandled error", "err", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = fail(c, status, msg)
}
