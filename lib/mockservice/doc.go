// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mockservice is an in-process imitation of the imaging
// service, used by the liveview-mock command and by end-to-end tests.
//
// It serves the four endpoints the client depends on: password login
// and refresh-token renewal issuing expiring bearer tokens, the latest
// image, and the latest analysis result. Frames rotate on a fixed
// interval and are rendered on the fly as grayscale PNGs whose analysis
// is computed from the pixels. Results can lag behind the image to
// exercise correlation mismatches, every n-th frame can carry the
// sentinel label, and [Fault] values make chosen paths fail with a
// given status a limited number of times.
//
// Responses are compressed with zstd or gzip when the client accepts
// it.
package mockservice
