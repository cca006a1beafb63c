// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
)

// Exit statuses. Scripts running the headless viewer distinguish a
// session that needs a fresh sign-in from a configuration mistake.
const (
	exitFailure        = 1
	exitUsage          = 2
	exitSessionExpired = 3
)

// exitError carries the process exit status for an error returned from
// run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

// usageErrorf reports a command-line or configuration problem.
func usageErrorf(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

var errSessionExpired = &exitError{
	code: exitSessionExpired,
	err:  errors.New("session expired; sign in again"),
}
