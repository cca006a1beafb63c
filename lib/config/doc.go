// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the live viewer.
//
// Configuration is loaded from a single file specified by either the
// LIVEVIEW_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). Values absent from the file keep their [Default].
// YAML is the primary format; files ending in .json or .jsonc are
// accepted as JSON with comments.
//
// Variable expansion is performed on the string fields after loading:
// ${VAR} and ${VAR:-default} patterns are replaced from the process
// environment. Durations use Go syntax ("3s", "300ms").
//
// Key exports:
//
//   - [Config] -- master struct with Service, Auth, Poll, Retry,
//     Metrics, Log
//   - [Default] -- returns a Config with every optional field set
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends on no other packages in this module.
package config
