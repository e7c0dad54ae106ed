// Package api is the client for the fshare file server HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
)

// ErrNotLoggedIn is returned when the server rejects the session.
var ErrNotLoggedIn = errors.New("not logged in")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	StatusCode int
	Message    string

	// AttemptsRemaining is set on failed logins (-1 when the server did not say).
	AttemptsRemaining int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, nethttp.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the retry classifier see the status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Is matches ErrNotLoggedIn for 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotLoggedIn && e.StatusCode == nethttp.StatusUnauthorized
}

// Locked reports whether the server refused a login because of too many failures.
func (e *StatusError) Locked() bool {
	return e.StatusCode == nethttp.StatusTooManyRequests
}

// newStatusError reads the body of a failed response. The server answers
// {"error": "..."}; anything else is kept as trimmed text.
func newStatusError(resp *nethttp.Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, AttemptsRemaining: -1}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload struct {
		Error             string `json:"error"`
		AttemptsRemaining *int   `json:"attempts_remaining"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		se.Message = payload.Error
		if payload.AttemptsRemaining != nil {
			se.AttemptsRemaining = *payload.AttemptsRemaining
		}
		return se
	}
	se.Message = strings.TrimSpace(string(body))
	if len(se.Message) > 200 {
		se.Message = se.Message[:200]
	}
	return se
}
