// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package poll

import (
	"slices"
	"time"

	"github.com/teracyte/liveview/lib/imaging"
)

// DefaultHistoryCapacity is the number of validated frames kept.
const DefaultHistoryCapacity = 100

// HistoryEntry records one validated image/result pair.
type HistoryEntry struct {
	ImageID string

	// Timestamp is the server capture time when it was parseable,
	// otherwise the local time at which the pair was validated.
	Timestamp time.Time

	Label            string
	IntensityAverage float64
	FocusScore       float64
	Format           string
	Width            int
	Height           int
	Digest           string

	// Histogram is a private copy of the result's bin counts.
	Histogram []int
}

func newHistoryEntry(frame imaging.ImageFrame, result imaging.AnalysisResult, decoded imaging.Decoded, now time.Time) HistoryEntry {
	timestamp := frame.CapturedAt
	if timestamp.IsZero() {
		timestamp = now
	}
	return HistoryEntry{
		ImageID:          frame.ID,
		Timestamp:        timestamp,
		Label:            result.Label,
		IntensityAverage: result.IntensityAverage,
		FocusScore:       result.FocusScore,
		Format:           decoded.Format,
		Width:            decoded.Width,
		Height:           decoded.Height,
		Digest:           decoded.Digest,
		Histogram:        slices.Clone(result.Histogram),
	}
}

// History is a bounded, most-recent-first list of validated frames.
// Not safe for concurrent use; the Engine serializes access.
type History struct {
	capacity int
	entries  []HistoryEntry
}

// NewHistory creates an empty History. A non-positive capacity uses
// DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity, entries: make([]HistoryEntry, 0, capacity)}
}

// Add inserts entry at the head, dropping the oldest entry when full.
// Adding an entry with the same ImageID as the current head does
// nothing and returns false.
func (h *History) Add(entry HistoryEntry) bool {
	if len(h.entries) > 0 && h.entries[0].ImageID == entry.ImageID {
		return false
	}
	if len(h.entries) < h.capacity {
		h.entries = append(h.entries, HistoryEntry{})
	}
	copy(h.entries[1:], h.entries[:len(h.entries)-1])
	h.entries[0] = entry
	return true
}

// Head returns the most recent entry.
func (h *History) Head() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[0], true
}

// Len returns the number of entries.
func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of the entries, most recent first.
func (h *History) Entries() []HistoryEntry {
	return append([]HistoryEntry(nil), h.entries...)
}
