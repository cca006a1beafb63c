// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teracyte/liveview/lib/config"
	"github.com/teracyte/liveview/lib/liveui"
)

// runTUI runs the interactive viewer. With both auth.username and
// auth.password_file configured it signs in first and opens on the live
// screen; otherwise it opens on the login screen.
//
// Background logging is routed through handler into the status bar
// instead of stderr, which would corrupt the alt-screen display.
func runTUI(ctx context.Context, cfg *config.Config, viewer *client, handler *liveui.LogHandler, logger *slog.Logger) error {
	loggedIn := false
	if cfg.Auth.Username != "" && cfg.Auth.PasswordFile != "" {
		password, err := readPassword(cfg.Auth, false, os.Stderr)
		if err != nil {
			return err
		}
		loginContext, cancel := context.WithTimeout(ctx, liveui.DefaultLoginTimeout)
		_, err = viewer.manager.Login(loginContext, cfg.Auth.Username, password)
		cancel()
		password.Close()
		if err != nil {
			return fmt.Errorf("signing in with auth.password_file: %w", err)
		}
		loggedIn = true
	}

	model := liveui.NewModel(liveui.Config{
		Auth:     viewer.manager,
		Engine:   viewer.engine,
		Username: cfg.Auth.Username,
		LoggedIn: loggedIn,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	handler.SetProgram(program)

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		logger.Info("stopping on signal")
		return nil
	}
	return err
}
