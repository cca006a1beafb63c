// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package liveui is the terminal front end of the live viewer, built
// on bubbletea.
//
// The [Model] has two screens. The login screen collects a username
// and password and signs in through an [Authenticator]. The live
// screen renders each [poll.Update] from the [Engine]: the status line
// colored by state (red on error, yellow while stale, green when
// live), an overlay banner for invalid data and expiry, the current
// frame's analysis with a histogram sparkline, and the bounded history
// list in a scrollable viewport. Pressing r runs a manual refresh, and
// Enter shows the selected history entry in place of the current
// frame's details until Esc.
//
// The model watches the engine's one-shot expiry channel for each run
// and returns to the login screen when it fires; signing in again
// starts a new run.
//
// [LogHandler] routes slog records into the status bar so logging does
// not write over the alternate screen.
package liveui
