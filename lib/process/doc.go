// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the liveview
// binaries. They cover the raw I/O that happens before the structured
// logger exists or after it is gone: reporting a fatal error from run()
// to stderr and exiting with the status the error asks for.
package process
