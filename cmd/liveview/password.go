// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/teracyte/liveview/lib/config"
	"github.com/teracyte/liveview/lib/secret"
)

// readPassword returns the password from auth.password_file, or
// prompts on the terminal when prompt is true and stdin is one. The
// caller must Close the returned Buffer. A nil Buffer with a nil error
// means no password source is available.
func readPassword(cfg config.AuthConfig, prompt bool, stderr io.Writer) (*secret.Buffer, error) {
	if cfg.PasswordFile != "" {
		password, err := secret.ReadFromPath(cfg.PasswordFile)
		if err != nil {
			return nil, usageErrorf("reading auth.password_file: %w", err)
		}
		return password, nil
	}
	if !prompt || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, nil
	}

	fmt.Fprintf(stderr, "Password for %s: ", cfg.Username)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	password, err := secret.NewFromBytes(data)
	if err != nil {
		return nil, usageErrorf("password: %w", err)
	}
	return password, nil
}
