package gateway

import (
	"errors"
	"fmt"
)

// ErrUnauthorized indicates the credential was rejected (HTTP 401).
// Never retried automatically; the caller triggers re-authentication.
var ErrUnauthorized = errors.New("unauthorized")

// NetworkError wraps a transport failure, timeout or connect failure.
// Callers fall back to local data and surface an offline state.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response with a body.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
