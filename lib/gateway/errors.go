// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
)

// ErrSessionExpired means the service kept rejecting the session: the
// refresh after an unauthorized response failed, or the retried
// request was unauthorized again. It is terminal for the session.
var ErrSessionExpired = errors.New("gateway: session expired")

// StatusError is a non-success HTTP response from the service. Body is
// a truncated prefix of the response body for diagnostics.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: %s returned %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// NetworkError is a failure to get a usable response: a transport
// error, or transient server errors that persisted through every
// retry attempt. It is never fatal to a poll loop.
type NetworkError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway: %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a success response whose body could not be parsed
// into the expected shape. It is not retried.
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gateway: malformed %s response: %v", e.Endpoint, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsStatus reports whether err carries a *StatusError with the given
// HTTP status code.
func IsStatus(err error, code int) bool {
	var statusError *StatusError
	if errors.As(err, &statusError) {
		return statusError.StatusCode == code
	}
	return false
}

// Transient reports whether status is a server-side error class that
// is retried automatically.
func Transient(status int) bool {
	return status >= 500 && status <= 599
}
