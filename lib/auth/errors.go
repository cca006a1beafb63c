// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
)

// AuthError reports a rejected login or an authentication response
// that could not be understood. StatusCode is the HTTP status of the
// exchange (200 for a success status carrying a malformed body).
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: authentication failed (%d): %s", e.StatusCode, e.Reason)
}

// IsAuthError reports whether err is an *AuthError.
func IsAuthError(err error) bool {
	var authError *AuthError
	return errors.As(err, &authError)
}
