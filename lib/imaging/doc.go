// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package imaging defines the data exchanged with the imaging service:
// the latest captured frame ([ImageFrame]) and the inference result for
// it ([AnalysisResult]), plus the rules that decide whether a result is
// fit to display and whether a frame's payload is a decodable image.
//
// The image id is the correlation key between the two. Nothing in this
// package performs I/O; the gateway package builds these values from
// HTTP responses and the poll package consumes them.
package imaging
