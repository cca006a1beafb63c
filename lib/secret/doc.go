// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds session material (passwords, access tokens,
// refresh tokens) in memory outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM and excluded
// from core dumps. Close zeroes and unmaps it. The auth package keeps
// every token it receives in a Buffer and closes the old pair whenever
// a login or refresh replaces it, or when the session is cleared.
//
// Depends on golang.org/x/sys/unix.
package secret
