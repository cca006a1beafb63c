// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build identity of the liveview binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time with -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/teracyte/liveview/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Development builds and test runs see the "unknown" and "0.1.0-dev"
// defaults. [Info] and [Full] format --version output; [UserAgent] is
// attached to every request the client makes.
package version
