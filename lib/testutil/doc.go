// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds channel assertions shared by the viewer's
// tests. Each helper bounds its wait with a real-time timeout so a
// broken test fails instead of hanging, while the code under test
// keeps running on a fake clock.
package testutil
