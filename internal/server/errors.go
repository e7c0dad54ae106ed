package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fshare/fshare/internal/sandbox"
)

// ErrNotFound is returned when a path inside the sandbox does not exist or has
// the wrong type for the endpoint.
var ErrNotFound = errors.New("not found")

// AppError carries the HTTP status and the client-facing message. Err is
// logged but never sent to the client.
type AppError struct {
	HTTPCode int
	Message  string
	Data     gin.H
	Err      error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newAppError(httpCode int, message string, err error) *AppError {
	return &AppError{HTTPCode: httpCode, Message: message, Err: err}
}

func badRequest(message string) *AppError {
	return newAppError(http.StatusBadRequest, message, nil)
}

// respondError writes err as {"error": ...}. Sandbox violations and missing
// paths get fixed messages; unknown errors become a generic 500 so filesystem
// details never reach the client.
func (s *Server) respondError(c *gin.Context, err error) {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, sandbox.ErrForbidden):
		appErr = newAppError(http.StatusForbidden, "Access denied", err)
	case errors.Is(err, ErrNotFound):
		appErr = newAppError(http.StatusNotFound, "Not found", err)
	default:
		appErr = newAppError(http.StatusInternalServerError, "Internal server error", err)
	}

	if appErr.HTTPCode >= 500 {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	} else {
		s.logger.Debug().Err(err).Int("status", appErr.HTTPCode).Str("path", c.Request.URL.Path).Msg("Request rejected")
	}

	body := gin.H{"error": appErr.Message}
	for k, v := range appErr.Data {
		body[k] = v
	}
	c.AbortWithStatusJSON(appErr.HTTPCode, body)
}
