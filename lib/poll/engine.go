// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package poll runs the live-monitoring loop: on a fixed cadence it
// fetches the latest image and analysis result, correlates them by
// image id, classifies the result, maintains a bounded history, and
// publishes every state transition on a single ordered channel.
//
// Only session expiry stops the loop. Every other failure is
// classified into an Update and the loop continues with the last valid
// frame retained. RefreshNow runs the same tick on demand with its own
// timeout, publishing through the same ordered path.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teracyte/liveview/lib/clock"
	"github.com/teracyte/liveview/lib/gateway"
	"github.com/teracyte/liveview/lib/imaging"
	"github.com/teracyte/liveview/lib/telemetry"
)

const (
	// DefaultInterval is the pause between loop ticks.
	DefaultInterval = 3 * time.Second

	// DefaultManualTimeout bounds one RefreshNow call.
	DefaultManualTimeout = 8 * time.Second

	defaultUpdateBuffer = 32
)

// Fetcher retrieves the latest image and result. *gateway.Gateway
// implements it. Errors wrapping gateway.ErrSessionExpired stop the
// loop.
type Fetcher interface {
	FetchLatestImage(ctx context.Context) (imaging.ImageFrame, error)
	FetchLatestResult(ctx context.Context) (imaging.AnalysisResult, error)
}

// CredentialStore is cleared when the session expires. *auth.Manager
// implements it.
type CredentialStore interface {
	Clear()
}

// Config holds configuration for creating an Engine.
type Config struct {
	// Fetcher is required.
	Fetcher Fetcher
	// Credentials is required.
	Credentials CredentialStore
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// ManualTimeout defaults to DefaultManualTimeout.
	ManualTimeout time.Duration
	// HistoryCapacity defaults to DefaultHistoryCapacity.
	HistoryCapacity int
	// RecheckUnresolved makes a tick that sees an already-observed
	// image id fetch the result again when that id has not yet
	// produced a valid pair (pending, mismatched, invalid data, or a
	// failed result fetch). Off by default: an already-observed id is
	// always NoChange.
	RecheckUnresolved bool
	// UpdateBuffer is the capacity of the Updates channel. Defaults
	// to 32. Publishing blocks when the buffer is full.
	UpdateBuffer int
	// Clock drives the interval and timestamps. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Engine is the poll loop plus the on-demand refresh path. All methods
// are safe for concurrent use.
type Engine struct {
	fetcher           Fetcher
	credentials       CredentialStore
	interval          time.Duration
	manualTimeout     time.Duration
	recheckUnresolved bool
	clock             clock.Clock
	logger            *slog.Logger
	metrics           *telemetry.Metrics

	// mu serializes state mutation and delivery on updates, so
	// consumers observe transitions in the order they were made.
	mu         sync.Mutex
	state      State
	history    *History
	unresolved bool
	closed     bool
	updates    chan Update

	// lifecycleMu guards the fields of the current run.
	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	stopped     chan struct{}
	expiring    bool
	expired     chan struct{}
	disposed    chan struct{}

	// manualCancel aborts the in-flight RefreshNow, if any.
	manualCancel context.CancelFunc

	// generation advances, under lifecycleMu, when a session expires.
	// A tick publishes only while the generation it started in is
	// current.
	generation atomic.Uint64

	manualBusy atomic.Bool
}

// New creates an idle Engine. Call Start to begin polling.
func New(config Config) (*Engine, error) {
	if config.Fetcher == nil {
		return nil, fmt.Errorf("poll: Fetcher is required")
	}
	if config.Credentials == nil {
		return nil, fmt.Errorf("poll: Credentials is required")
	}

	engine := &Engine{
		fetcher:           config.Fetcher,
		credentials:       config.Credentials,
		interval:          config.Interval,
		manualTimeout:     config.ManualTimeout,
		recheckUnresolved: config.RecheckUnresolved,
		clock:             config.Clock,
		logger:            config.Logger,
		metrics:           config.Metrics,
		history:           NewHistory(config.HistoryCapacity),
		state:             State{Status: StatusIdle},
		expired:           make(chan struct{}),
		disposed:          make(chan struct{}),
	}
	if engine.interval <= 0 {
		engine.interval = DefaultInterval
	}
	if engine.manualTimeout <= 0 {
		engine.manualTimeout = DefaultManualTimeout
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}
	buffer := config.UpdateBuffer
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}
	engine.updates = make(chan Update, buffer)
	return engine, nil
}

// Updates returns the ordered stream of state transitions. It is
// closed by Dispose.
func (e *Engine) Updates() <-chan Update { return e.updates }

// SessionExpired returns a channel closed when the current run ends in
// session expiry, after the SessionExpired update has been published.
// Each Start after an expiry begins a new run with a new channel.
func (e *Engine) SessionExpired() <-chan struct{} {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.expired
}

// State returns a snapshot of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Running reports whether the loop goroutine is active.
func (e *Engine) Running() bool {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.running
}

// Start launches the loop. It is a no-op while the loop is running and
// after Dispose. After a session expiry, Start waits for the expired
// run to finish winding down and then begins a new run.
func (e *Engine) Start() {
	e.lifecycleMu.Lock()
	for e.running && e.expiring {
		done := e.done
		e.lifecycleMu.Unlock()
		<-done
		e.lifecycleMu.Lock()
	}
	defer e.lifecycleMu.Unlock()
	if e.running || e.isDisposed() {
		return
	}
	if e.expiring {
		e.expiring = false
		e.expired = make(chan struct{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.stopped = make(chan struct{})

	go e.loop(ctx, e.done, e.stopped)
}

// Stop cancels the loop and waits for it to exit. A tick in progress
// is abandoned without publishing. Safe to call when not running.
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	cancel, done, stopped := e.cancel, e.done, e.stopped
	if stopped != nil {
		select {
		case <-stopped:
		default:
			close(stopped)
		}
	}
	e.lifecycleMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Dispose stops the loop and closes Updates. The Engine cannot be
// restarted afterwards.
func (e *Engine) Dispose() {
	e.lifecycleMu.Lock()
	if e.isDisposed() {
		e.lifecycleMu.Unlock()
		return
	}
	close(e.disposed)
	e.lifecycleMu.Unlock()

	e.Stop()

	e.mu.Lock()
	e.closed = true
	close(e.updates)
	e.mu.Unlock()
}

func (e *Engine) isDisposed() bool {
	select {
	case <-e.disposed:
		return true
	default:
		return false
	}
}

// loop runs ticks until ctx is cancelled (by Stop or by session
// expiry). stopped is closed only by Stop and aborts a blocked publish.
func (e *Engine) loop(ctx context.Context, done, stopped chan struct{}) {
	defer func() {
		e.lifecycleMu.Lock()
		e.running = false
		e.cancel = nil
		e.done = nil
		e.stopped = nil
		e.lifecycleMu.Unlock()
		close(done)
	}()

	e.logger.Info("poll loop started", "interval", e.interval)
	for {
		e.lifecycleMu.Lock()
		generation := e.generation.Load()
		e.lifecycleMu.Unlock()
		if ctx.Err() != nil {
			e.logger.Info("poll loop stopped")
			return
		}
		outcome, err := e.tick(ctx, SourceLoop, stopped, generation)
		switch {
		case outcome == OutcomeSessionExpired:
			e.logger.Warn("poll loop stopped: session expired", "error", err)
			return
		case ctx.Err() != nil:
			e.logger.Info("poll loop stopped")
			return
		case outcome == OutcomeTransientFailure:
			e.logger.Warn("poll tick failed, will retry", "error", err)
		case err != nil:
			e.logger.Info("poll tick rejected data", "outcome", outcome, "error", err)
		}

		if err := clock.Wait(ctx, e.clock, e.interval); err != nil {
			e.logger.Info("poll loop stopped")
			return
		}
	}
}

// RefreshNow runs one tick immediately, bounded by the manual timeout,
// without affecting the loop's cadence. The returned error is nil for
// NoChange, PendingResult, and Valid outcomes, and describes the
// failure otherwise.
//
// If the loop observes session expiry while the refresh is in flight,
// the refresh is cancelled, publishes nothing further, and reports
// OutcomeSessionExpired.
func (e *Engine) RefreshNow(ctx context.Context) (Outcome, error) {
	if e.isDisposed() {
		return OutcomeNoChange, ErrDisposed
	}
	if !e.manualBusy.CompareAndSwap(false, true) {
		return OutcomeNoChange, ErrBusy
	}
	defer e.manualBusy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, e.manualTimeout)
	defer cancel()

	e.lifecycleMu.Lock()
	e.manualCancel = cancel
	generation := e.generation.Load()
	e.lifecycleMu.Unlock()
	defer func() {
		e.lifecycleMu.Lock()
		e.manualCancel = nil
		e.lifecycleMu.Unlock()
	}()

	outcome, err := e.tick(ctx, SourceManual, ctx.Done(), generation)
	if outcome != OutcomeSessionExpired && generation != e.generation.Load() {
		return OutcomeSessionExpired, fmt.Errorf("%w: session ended during manual refresh", gateway.ErrSessionExpired)
	}
	return outcome, err
}

// tick performs one fetch/correlate/classify/publish cycle. A publish
// blocked on a full Updates channel gives up when abort closes.
func (e *Engine) tick(ctx context.Context, source Source, abort <-chan struct{}, generation uint64) (Outcome, error) {
	frame, err := e.fetcher.FetchLatestImage(ctx)
	if err != nil {
		return e.fail(ctx, source, abort, generation, err)
	}

	e.mu.Lock()
	seen := frame.ID == e.state.ImageID
	recheck := seen && e.recheckUnresolved && e.unresolved
	e.mu.Unlock()

	if seen && !recheck {
		e.metrics.CountOutcome(OutcomeNoChange.String())
		return OutcomeNoChange, nil
	}
	if !seen {
		e.publish(abort, generation, source, OutcomePendingResult, ReasonNone, nil, func(state *State) {
			state.ImageID = frame.ID
			state.Status = StatusFetching
			e.unresolved = true
		})
	}

	result, err := e.fetcher.FetchLatestResult(ctx)
	if err != nil {
		return e.fail(ctx, source, abort, generation, err)
	}

	if result.ImageID != frame.ID {
		mismatch := fmt.Errorf("%w: image %q, result %q", ErrCorrelationMismatch, frame.ID, result.ImageID)
		e.publish(abort, generation, source, OutcomeMismatchedCorrelation, ReasonNone, mismatch, func(state *State) {
			state.Stale = true
			state.Status = StatusWaiting
		})
		return OutcomeMismatchedCorrelation, mismatch
	}

	if err := result.Validate(); err != nil {
		e.publish(abort, generation, source, OutcomeInvalid, ReasonData, err, func(state *State) {
			state.Stale = true
			state.Error = true
			state.Status = StatusInvalidData
			state.Overlay = OverlayInvalidData
		})
		return OutcomeInvalid, err
	}

	decoded, err := imaging.DecodePayload(frame)
	if err != nil {
		e.publish(abort, generation, source, OutcomeInvalid, ReasonImage, err, func(state *State) {
			state.Stale = true
			state.Error = true
			state.Status = StatusInvalidImage
			state.Overlay = OverlayInvalidImage
			e.unresolved = false
		})
		return OutcomeInvalid, err
	}

	now := e.clock.Now()
	e.publish(abort, generation, source, OutcomeValid, ReasonNone, nil, func(state *State) {
		state.ImageID = frame.ID
		state.Frame = &frame
		state.Decoded = &decoded
		state.Result = &result
		state.UpdatedAt = now
		state.Stale = false
		state.Error = false
		state.SessionValid = true
		state.Status = StatusLive
		state.Overlay = ""
		e.history.Add(newHistoryEntry(frame, result, decoded, now))
		e.unresolved = false
		e.metrics.SetHistoryLength(e.history.Len())
		e.metrics.SetLastValid(now)
	})
	return OutcomeValid, nil
}

// fail classifies a fetch error. Cancellation of the loop (or of a
// manual caller) is not a state transition; a manual refresh that ran
// out of time is.
func (e *Engine) fail(ctx context.Context, source Source, abort <-chan struct{}, generation uint64, err error) (Outcome, error) {
	if errors.Is(err, context.Canceled) || (source == SourceLoop && ctx.Err() != nil) {
		return OutcomeNoChange, err
	}
	if errors.Is(err, gateway.ErrSessionExpired) {
		e.expire(source, abort, generation, err)
		return OutcomeSessionExpired, err
	}

	e.publish(abort, generation, source, OutcomeTransientFailure, ReasonNone, err, func(state *State) {
		state.Stale = true
		state.Error = true
		state.Status = StatusTemporary
	})
	return OutcomeTransientFailure, err
}

// expire handles session expiry once per run: the loop and any other
// in-flight tick are cancelled, the generation advances so their
// results are discarded, credentials are cleared, the terminal state
// is published, and then the one-shot signal fires. A tick from an
// earlier generation changes nothing.
func (e *Engine) expire(source Source, abort <-chan struct{}, generation uint64, cause error) {
	e.lifecycleMu.Lock()
	if e.expiring || generation != e.generation.Load() {
		e.lifecycleMu.Unlock()
		return
	}
	e.expiring = true
	if e.cancel != nil {
		e.cancel()
	}
	if source == SourceLoop && e.manualCancel != nil {
		e.manualCancel()
	}
	generation = e.generation.Add(1)
	expired := e.expired
	e.lifecycleMu.Unlock()

	e.credentials.Clear()
	e.publish(abort, generation, source, OutcomeSessionExpired, ReasonNone, cause, func(state *State) {
		state.SessionValid = false
		state.Stale = true
		state.Error = true
		state.Status = StatusExpired
		state.Overlay = OverlayExpired
		e.unresolved = false
	})
	close(expired)
}

// publish applies mutate to the state and delivers the resulting
// snapshot. Delivery happens under mu, so updates reach the channel in
// mutation order. Nothing is applied or delivered after Dispose, or
// for a tick whose generation was superseded by session expiry.
func (e *Engine) publish(abort <-chan struct{}, generation uint64, source Source, outcome Outcome, reason InvalidReason, cause error, mutate func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || generation != e.generation.Load() {
		return
	}
	// Any transition other than expiry means the service accepted the
	// session at some point in this tick.
	e.state.SessionValid = outcome != OutcomeSessionExpired
	mutate(&e.state)
	update := Update{
		Outcome: outcome,
		Reason:  reason,
		Source:  source,
		Err:     cause,
		State:   e.snapshotLocked(),
	}
	e.metrics.CountOutcome(outcome.String())

	// A manual refresh that timed out arrives with abort already
	// closed; deliver its failure if there is room.
	select {
	case e.updates <- update:
		return
	default:
	}
	select {
	case e.updates <- update:
	case <-e.disposed:
	case <-abort:
	}
}

func (e *Engine) snapshotLocked() State {
	snapshot := e.state
	snapshot.History = e.history.Entries()
	return snapshot
}
