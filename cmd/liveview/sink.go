// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/teracyte/liveview/lib/clock"
	"github.com/teracyte/liveview/lib/imaging"
	"github.com/teracyte/liveview/lib/poll"
)

// updateRecord is the JSON-lines form of one poll.Update.
type updateRecord struct {
	Time         time.Time          `json:"time"`
	Outcome      poll.Outcome       `json:"outcome"`
	Reason       poll.InvalidReason `json:"reason,omitempty"`
	Source       poll.Source        `json:"source"`
	Error        string             `json:"error,omitempty"`
	ImageID      string             `json:"image_id,omitempty"`
	Status       string             `json:"status"`
	Overlay      string             `json:"overlay,omitempty"`
	Stale        bool               `json:"stale"`
	SessionValid bool               `json:"session_valid"`
	Frame        *frameRecord       `json:"frame,omitempty"`
	History      int                `json:"history"`
}

// frameRecord describes the last valid frame and its analysis.
type frameRecord struct {
	ImageID          string    `json:"image_id"`
	CapturedAt       string    `json:"captured_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	Format           string    `json:"format,omitempty"`
	Width            int       `json:"width,omitempty"`
	Height           int       `json:"height,omitempty"`
	Size             int       `json:"size,omitempty"`
	Digest           string    `json:"digest,omitempty"`
	Label            string    `json:"label"`
	IntensityAverage float64   `json:"intensity_average"`
	FocusScore       float64   `json:"focus_score"`
	HistogramBins    int       `json:"histogram_bins"`
	HistogramTotal   int       `json:"histogram_total"`
	HistogramPeakBin int       `json:"histogram_peak_bin"`
}

// jsonSink writes updates as newline-delimited JSON.
type jsonSink struct {
	encoder *json.Encoder
	clock   clock.Clock
}

func newJSONSink(w io.Writer, c clock.Clock) *jsonSink {
	if c == nil {
		c = clock.Real()
	}
	return &jsonSink{encoder: json.NewEncoder(w), clock: c}
}

func (s *jsonSink) Write(update poll.Update) error {
	state := update.State
	record := updateRecord{
		Time:         s.clock.Now().UTC(),
		Outcome:      update.Outcome,
		Reason:       update.Reason,
		Source:       update.Source,
		ImageID:      state.ImageID,
		Status:       state.Status,
		Overlay:      state.Overlay,
		Stale:        state.Stale,
		SessionValid: state.SessionValid,
		History:      len(state.History),
	}
	if update.Err != nil {
		record.Error = update.Err.Error()
	}
	if state.Frame != nil && state.Result != nil {
		record.Frame = newFrameRecord(state)
	}
	return s.encoder.Encode(record)
}

func newFrameRecord(state poll.State) *frameRecord {
	frame, result := state.Frame, state.Result
	summary := result.Summarize()
	record := &frameRecord{
		ImageID:          frame.ID,
		UpdatedAt:        state.UpdatedAt.UTC(),
		Label:            result.Label,
		IntensityAverage: result.IntensityAverage,
		FocusScore:       result.FocusScore,
		HistogramBins:    summary.Bins,
		HistogramTotal:   summary.Total,
		HistogramPeakBin: summary.PeakBin,
	}
	if !frame.CapturedAt.IsZero() {
		record.CapturedAt = frame.CapturedAt.UTC().Format(time.RFC3339Nano)
	} else {
		record.CapturedAt = frame.Timestamp
	}
	if decoded := state.Decoded; decoded != nil {
		applyDecoded(record, *decoded)
	}
	return record
}

func applyDecoded(record *frameRecord, decoded imaging.Decoded) {
	record.Format = decoded.Format
	record.Width = decoded.Width
	record.Height = decoded.Height
	record.Size = decoded.Size
	record.Digest = decoded.Digest
}
