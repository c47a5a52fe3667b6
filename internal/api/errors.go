package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches any error caused by a rejected or expired session.
var ErrUnauthorized = errors.New("login session is no longer valid")

// APIError describes a failed backend call. Status is the HTTP status,
// Code and Info come from the response envelope when one was decoded.
type APIError struct {
	Method string
	URL    string
	Status int
	Code   int
	Info   string
}

func (e *APIError) Error() string {
	switch {
	case e.unauthorized():
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, ErrUnauthorized)
	case e.Status < 200 || e.Status > 299:
		return fmt.Sprintf("%s %s: HTTP error: %d", e.Method, e.URL, e.Status)
	case e.Info != "":
		return fmt.Sprintf("%s %s: %s (code %d)", e.Method, e.URL, e.Info, e.Code)
	default:
		return fmt.Sprintf("%s %s: request failed (code %d)", e.Method, e.URL, e.Code)
	}
}

// Is reports ErrUnauthorized for envelope code 401 and HTTP 410.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.unauthorized()
}

func (e *APIError) unauthorized() bool {
	return e.Code == http.StatusUnauthorized || e.Status == http.StatusGone
}
