// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/teracyte/liveview/lib/config"
	"github.com/teracyte/liveview/lib/liveui"
	"github.com/teracyte/liveview/lib/poll"
)

// runHeadless signs in, starts the poll loop, and writes every update
// to stdout until interrupted or until the session expires.
func runHeadless(ctx context.Context, cfg *config.Config, viewer *client, stdout io.Writer, logger *slog.Logger) error {
	if cfg.Auth.Username == "" {
		return usageErrorf("headless mode requires auth.username (or --username)")
	}
	password, err := readPassword(cfg.Auth, true, os.Stderr)
	if err != nil {
		return err
	}
	if password == nil {
		return usageErrorf("headless mode requires auth.password_file (or --password-file) when stdin is not a terminal")
	}

	loginContext, cancel := context.WithTimeout(ctx, liveui.DefaultLoginTimeout)
	credential, err := viewer.manager.Login(loginContext, cfg.Auth.Username, password)
	cancel()
	password.Close()
	if err != nil {
		return fmt.Errorf("signing in as %s: %w", cfg.Auth.Username, err)
	}
	logger.Info("signed in",
		"username", cfg.Auth.Username,
		"expires_at", credential.ExpiresAt,
		"refreshable", credential.HasRefreshToken,
	)

	return streamUpdates(ctx, viewer.engine, newJSONSink(stdout, nil), logger)
}

// updateSource is the part of *poll.Engine streamUpdates drives.
type updateSource interface {
	Start()
	Updates() <-chan poll.Update
	SessionExpired() <-chan struct{}
}

// streamUpdates starts source and writes its updates to sink. It
// returns nil when ctx ends and errSessionExpired once the expiry
// update has been written.
func streamUpdates(ctx context.Context, source updateSource, sink *jsonSink, logger *slog.Logger) error {
	source.Start()
	expired := source.SessionExpired()
	updates := source.Updates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping on signal")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := sink.Write(update); err != nil {
				return fmt.Errorf("writing update: %w", err)
			}
		case <-expired:
			// The expiry update is published before the signal fires;
			// flush whatever is still buffered.
			for {
				select {
				case update, ok := <-updates:
					if !ok {
						return errSessionExpired
					}
					if err := sink.Write(update); err != nil {
						return fmt.Errorf("writing update: %w", err)
					}
				default:
					logger.Warn("session expired; exiting")
					return errSessionExpired
				}
			}
		}
	}
}
