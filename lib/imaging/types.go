// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imaging

import (
	"strconv"
	"strings"
	"time"
)

// ImageFrame is the most recent image published by the service.
type ImageFrame struct {
	// ID is the opaque correlation key shared with the matching
	// AnalysisResult.
	ID string

	// Timestamp is the capture time exactly as the server sent it.
	Timestamp string

	// CapturedAt is Timestamp parsed, or the zero time when the
	// server sent nothing parseable.
	CapturedAt time.Time

	// EncodedPayload is the base64 image data as received.
	EncodedPayload string
}

// AnalysisResult is the service's inference output for one image.
type AnalysisResult struct {
	ImageID          string
	IntensityAverage float64
	FocusScore       float64
	Label            string

	// Histogram holds per-bin intensity counts in bin order.
	Histogram []int
}

// HistogramSummary describes a histogram without its bins.
type HistogramSummary struct {
	Bins  int
	Total int
	// PeakBin is the index of the first bin holding the maximum
	// count, or -1 for an empty histogram.
	PeakBin   int
	PeakCount int
}

// Summarize computes a HistogramSummary for result's histogram.
func (result AnalysisResult) Summarize() HistogramSummary {
	summary := HistogramSummary{Bins: len(result.Histogram), PeakBin: -1}
	for index, count := range result.Histogram {
		summary.Total += count
		if summary.PeakBin < 0 || count > summary.PeakCount {
			summary.PeakBin = index
			summary.PeakCount = count
		}
	}
	return summary
}

// timestampLayouts are tried in order by ParseTimestamp. Layouts
// without a zone are interpreted in the local zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp parses a server capture timestamp. It accepts RFC 3339
// with or without a zone, a space instead of the T separator, RFC 1123,
// and integral Unix seconds. The second result is false when raw is
// empty or matches none of these.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), true
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
