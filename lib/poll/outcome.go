// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package poll

import (
	"errors"
	"time"

	"github.com/teracyte/liveview/lib/imaging"
)

// Outcome classifies one poll tick or manual refresh.
type Outcome int

const (
	// OutcomeNoChange: the latest image id was already observed.
	// Never published.
	OutcomeNoChange Outcome = iota
	// OutcomePendingResult: a new image id was seen and its result is
	// being fetched.
	OutcomePendingResult
	// OutcomeValid: a correlated, valid, decodable pair was published.
	OutcomeValid
	// OutcomeInvalid: the pair correlated but the result or image was
	// unusable. Update.Reason says which.
	OutcomeInvalid
	// OutcomeMismatchedCorrelation: the latest result belongs to a
	// different image.
	OutcomeMismatchedCorrelation
	// OutcomeTransientFailure: a fetch failed for a reason other than
	// session expiry. The loop continues.
	OutcomeTransientFailure
	// OutcomeSessionExpired: authentication cannot be recovered. The
	// loop stops and credentials are cleared.
	OutcomeSessionExpired
)

var outcomeNames = [...]string{
	OutcomeNoChange:              "no_change",
	OutcomePendingResult:         "pending_result",
	OutcomeValid:                 "valid",
	OutcomeInvalid:               "invalid",
	OutcomeMismatchedCorrelation: "mismatched_correlation",
	OutcomeTransientFailure:      "transient_failure",
	OutcomeSessionExpired:        "session_expired",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// MarshalText renders the outcome name, for JSON sinks.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// InvalidReason distinguishes the two OutcomeInvalid variants.
type InvalidReason int

const (
	ReasonNone InvalidReason = iota
	// ReasonData: sentinel label or out-of-range metrics.
	ReasonData
	// ReasonImage: the payload did not decode to an image.
	ReasonImage
)

func (r InvalidReason) String() string {
	switch r {
	case ReasonData:
		return "data"
	case ReasonImage:
		return "image"
	default:
		return ""
	}
}

// MarshalText renders the reason name, for JSON sinks.
func (r InvalidReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Source says whether an update came from the loop or from RefreshNow.
type Source int

const (
	SourceLoop Source = iota
	SourceManual
)

func (s Source) String() string {
	if s == SourceManual {
		return "manual"
	}
	return "loop"
}

// MarshalText renders the source name, for JSON sinks.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status and overlay texts carried in State.
const (
	StatusIdle          = "Idle"
	StatusStarting      = "Connecting..."
	StatusFetching      = "Fetching results..."
	StatusWaiting       = "Waiting for matching results..."
	StatusInvalidData   = "Invalid data received (retrying...)"
	StatusInvalidImage  = "Invalid image received (retrying...)"
	StatusLive          = "Live"
	StatusTemporary     = "Temporary issue (will retry)..."
	StatusExpired       = "Session expired."
	OverlayInvalidData  = "Data not valid (retrying...)"
	OverlayInvalidImage = "Invalid image data (retrying...)"
	OverlayExpired      = "Session expired. Please log in again."
)

// State is the full snapshot published with every Update. Frame,
// Decoded, and Result are the last valid values and stay set through
// every non-fatal failure. Consumers must treat a State as read-only.
type State struct {
	// ImageID is the most recently observed image id, valid or not.
	ImageID string

	Frame   *imaging.ImageFrame
	Decoded *imaging.Decoded
	Result  *imaging.AnalysisResult

	// UpdatedAt is when the last valid pair was published.
	UpdatedAt time.Time

	Stale        bool
	Error        bool
	SessionValid bool

	Status  string
	Overlay string

	History []HistoryEntry
}

// Update is one published state transition.
type Update struct {
	Outcome Outcome
	Reason  InvalidReason
	Source  Source

	// Err is the cause for Invalid, MismatchedCorrelation,
	// TransientFailure, and SessionExpired updates.
	Err error

	State State
}

var (
	// ErrCorrelationMismatch is returned by RefreshNow when the latest
	// result belongs to a different image.
	ErrCorrelationMismatch = errors.New("poll: result does not match the latest image")

	// ErrBusy is returned by RefreshNow while another manual refresh
	// is in progress.
	ErrBusy = errors.New("poll: manual refresh already in progress")

	// ErrDisposed is returned by RefreshNow after Dispose.
	ErrDisposed = errors.New("poll: engine disposed")
)
