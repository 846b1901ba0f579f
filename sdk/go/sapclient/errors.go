// Package sapclient provides a Go client for SAP data providers and the
// provider registry.
package sapclient

import (
	"errors"
	"fmt"
)

// Error represents an error response from a provider with the HTTP status
// code and the server's error message.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sapclient: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404, such as a lazy load for a
// type the provider does not declare.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401 (bad refresh token).
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsBadRequest returns true if the error is a 400 (malformed or rejected
// lazy load request).
func IsBadRequest(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 400
	}
	return false
}
