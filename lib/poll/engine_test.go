// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package poll

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teracyte/liveview/lib/clock"
	"github.com/teracyte/liveview/lib/gateway"
	"github.com/teracyte/liveview/lib/imaging"
	"github.com/teracyte/liveview/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	receiveTimeout = 5 * time.Second
	quietWait      = 50 * time.Millisecond
)

var pngPayload = func() string {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(buffer.Bytes())
}()

func frame(id string) imaging.ImageFrame {
	return imaging.ImageFrame{ID: id, EncodedPayload: pngPayload}
}

func result(id string) imaging.AnalysisResult {
	return imaging.AnalysisResult{
		ImageID:          id,
		IntensityAverage: 12.3,
		FocusScore:       0.7,
		Label:            "OK",
		Histogram:        []int{4, 8, 15, 16, 23, 42},
	}
}

// fakeFetcher returns the configured frame and result. When gate is
// set, each fetch waits on it (or on ctx).
type fakeFetcher struct {
	mu          sync.Mutex
	frame       imaging.ImageFrame
	frameErr    error
	result      imaging.AnalysisResult
	resultErr   error
	imageCalls  int
	resultCalls int
	gate        chan struct{}
}

func (f *fakeFetcher) set(frame imaging.ImageFrame, result imaging.AnalysisResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame, f.result = frame, result
	f.frameErr, f.resultErr = nil, nil
}

func (f *fakeFetcher) fail(frameErr, resultErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameErr, f.resultErr = frameErr, resultErr
}

func (f *fakeFetcher) calls() (images, results int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageCalls, f.resultCalls
}

func (f *fakeFetcher) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeFetcher) FetchLatestImage(ctx context.Context) (imaging.ImageFrame, error) {
	f.mu.Lock()
	f.imageCalls++
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return imaging.ImageFrame{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, f.frameErr
}

func (f *fakeFetcher) FetchLatestResult(ctx context.Context) (imaging.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	return f.result, f.resultErr
}

type fakeCredentials struct{ clears atomic.Int32 }

func (f *fakeCredentials) Clear() { f.clears.Add(1) }

type harness struct {
	engine      *Engine
	fetcher     *fakeFetcher
	credentials *fakeCredentials
	clock       *clock.FakeClock
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fetcher:     &fakeFetcher{},
		credentials: &fakeCredentials{},
		clock:       clock.Fake(epoch),
	}
	config := Config{
		Fetcher:     h.fetcher,
		Credentials: h.credentials,
		Clock:       h.clock,
	}
	for _, m := range mutate {
		m(&config)
	}
	engine, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = engine
	t.Cleanup(engine.Dispose)
	return h
}

func (h *harness) next(t *testing.T, want Outcome) Update {
	t.Helper()
	update := testutil.RequireReceive(t, h.engine.Updates(), receiveTimeout, "waiting for %s", want)
	if update.Outcome != want {
		t.Fatalf("outcome = %s (err %v), want %s", update.Outcome, update.Err, want)
	}
	return update
}

func (h *harness) quiet(t *testing.T) {
	t.Helper()
	testutil.RequireNoReceive(t, h.engine.Updates(), quietWait, "no update expected")
}

func (h *harness) refresh(t *testing.T) (Outcome, error) {
	t.Helper()
	return h.engine.RefreshNow(context.Background())
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Credentials: &fakeCredentials{}}); err == nil {
		t.Error("expected error without Fetcher")
	}
	if _, err := New(Config{Fetcher: &fakeFetcher{}}); err == nil {
		t.Error("expected error without Credentials")
	}
}

func TestValidPairPublishesInputs(t *testing.T) {
	h := newHarness(t)
	input := frame("img-1")
	input.Timestamp = "2026-01-01T00:00:00Z"
	input.CapturedAt = epoch.Add(-time.Second)
	h.fetcher.set(input, result("img-1"))
	h.clock.Advance(time.Minute)

	outcome, err := h.refresh(t)
	if outcome != OutcomeValid || err != nil {
		t.Fatalf("RefreshNow = %s, %v", outcome, err)
	}

	pending := h.next(t, OutcomePendingResult)
	if pending.State.ImageID != "img-1" || pending.State.Status != StatusFetching {
		t.Errorf("pending state = %+v", pending.State)
	}
	if pending.State.Frame != nil {
		t.Error("pending update already carries a frame")
	}

	valid := h.next(t, OutcomeValid)
	state := valid.State
	if state.Frame == nil || *state.Frame != input {
		t.Errorf("Frame = %+v, want %+v", state.Frame, input)
	}
	want := result("img-1")
	if state.Result == nil || state.Result.ImageID != want.ImageID ||
		state.Result.IntensityAverage != want.IntensityAverage ||
		state.Result.FocusScore != want.FocusScore || state.Result.Label != want.Label ||
		fmt.Sprint(state.Result.Histogram) != fmt.Sprint(want.Histogram) {
		t.Errorf("Result = %+v, want %+v", state.Result, want)
	}
	if state.Decoded == nil || state.Decoded.Format != "png" || state.Decoded.Width != 4 {
		t.Errorf("Decoded = %+v", state.Decoded)
	}
	if state.Stale || state.Error || !state.SessionValid || state.Status != StatusLive || state.Overlay != "" {
		t.Errorf("flags = %+v", state)
	}
	if !state.UpdatedAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v", state.UpdatedAt)
	}
	if len(state.History) != 1 || state.History[0].ImageID != "img-1" {
		t.Fatalf("History = %+v, want [img-1]", state.History)
	}
	if !state.History[0].Timestamp.Equal(input.CapturedAt) {
		t.Errorf("history timestamp = %v, want server time %v", state.History[0].Timestamp, input.CapturedAt)
	}
	if valid.Source != SourceManual {
		t.Errorf("Source = %s, want manual", valid.Source)
	}
}

// TestScenarioSequence walks the six-step example: valid, no change,
// mismatch, sentinel, then a fresh valid pair.
func TestScenarioSequence(t *testing.T) {
	h := newHarness(t)

	h.fetcher.set(frame("img-1"), result("img-1"))
	h.refresh(t)
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeValid)

	// Same id: NoChange, no result fetch, nothing published.
	_, resultsBefore := h.fetcher.calls()
	outcome, err := h.refresh(t)
	if outcome != OutcomeNoChange || err != nil {
		t.Fatalf("RefreshNow = %s, %v; want no_change", outcome, err)
	}
	if _, resultsAfter := h.fetcher.calls(); resultsAfter != resultsBefore {
		t.Errorf("result fetched on NoChange: %d -> %d", resultsBefore, resultsAfter)
	}
	h.quiet(t)

	// Mismatch: img-2 against a result for img-1.
	h.fetcher.set(frame("img-2"), result("img-1"))
	outcome, err = h.refresh(t)
	if outcome != OutcomeMismatchedCorrelation || !errors.Is(err, ErrCorrelationMismatch) {
		t.Fatalf("RefreshNow = %s, %v; want mismatch", outcome, err)
	}
	h.next(t, OutcomePendingResult)
	mismatch := h.next(t, OutcomeMismatchedCorrelation).State
	if mismatch.Status != StatusWaiting || !mismatch.Stale {
		t.Errorf("mismatch state = %+v", mismatch)
	}
	if mismatch.ImageID != "img-2" || mismatch.Frame.ID != "img-1" || len(mismatch.History) != 1 {
		t.Errorf("mismatch kept wrong data: id %s frame %s history %d", mismatch.ImageID, mismatch.Frame.ID, len(mismatch.History))
	}

	// Sentinel label.
	sentinel := result("img-3")
	sentinel.Label = "UNKNOWN_CLASSIFICATION"
	h.fetcher.set(frame("img-3"), sentinel)
	outcome, err = h.refresh(t)
	var validityError *imaging.ValidityError
	if outcome != OutcomeInvalid || !errors.As(err, &validityError) {
		t.Fatalf("RefreshNow = %s, %v; want invalid", outcome, err)
	}
	h.next(t, OutcomePendingResult)
	invalid := h.next(t, OutcomeInvalid)
	if invalid.Reason != ReasonData || invalid.State.Overlay != OverlayInvalidData {
		t.Errorf("invalid update = reason %s overlay %q", invalid.Reason, invalid.State.Overlay)
	}
	if !invalid.State.Stale || !invalid.State.Error {
		t.Errorf("invalid flags = stale %v error %v", invalid.State.Stale, invalid.State.Error)
	}
	if invalid.State.Frame.ID != "img-1" || invalid.State.Result.ImageID != "img-1" || len(invalid.State.History) != 1 {
		t.Errorf("invalid did not retain last good frame")
	}

	// Recovery clears the flags and extends history.
	h.fetcher.set(frame("img-4"), result("img-4"))
	h.refresh(t)
	h.next(t, OutcomePendingResult)
	recovered := h.next(t, OutcomeValid).State
	if recovered.Stale || recovered.Error || recovered.Overlay != "" {
		t.Errorf("recovered flags = %+v", recovered)
	}
	if fmt.Sprint(ids(recovered.History)) != "[img-4 img-1]" {
		t.Errorf("History = %v, want [img-4 img-1]", ids(recovered.History))
	}
}

func TestInvalidResultsAreRejected(t *testing.T) {
	tests := map[string]func(*imaging.AnalysisResult){
		"focus above one":    func(r *imaging.AnalysisResult) { r.FocusScore = 1.5 },
		"focus below zero":   func(r *imaging.AnalysisResult) { r.FocusScore = -0.1 },
		"negative intensity": func(r *imaging.AnalysisResult) { r.IntensityAverage = -3 },
		"sentinel mixed case": func(r *imaging.AnalysisResult) {
			r.Label = "Unknown_Classification"
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.fetcher.set(frame("good"), result("good"))
			h.refresh(t)
			h.next(t, OutcomePendingResult)
			h.next(t, OutcomeValid)

			bad := result("bad")
			mutate(&bad)
			h.fetcher.set(frame("bad"), bad)
			if outcome, _ := h.refresh(t); outcome != OutcomeInvalid {
				t.Fatalf("outcome = %s, want invalid", outcome)
			}
			h.next(t, OutcomePendingResult)
			state := h.next(t, OutcomeInvalid).State
			if len(state.History) != 1 || state.History[0].ImageID != "good" {
				t.Errorf("History = %v, want [good]", ids(state.History))
			}
			if state.Frame.ID != "good" || state.Result.ImageID != "good" {
				t.Errorf("last good pair not retained: frame %s result %s", state.Frame.ID, state.Result.ImageID)
			}
		})
	}
}

func TestUndecodableImageIsInvalid(t *testing.T) {
	h := newHarness(t)
	broken := imaging.ImageFrame{ID: "img-x", EncodedPayload: "not-an-image"}
	h.fetcher.set(broken, result("img-x"))

	outcome, err := h.refresh(t)
	var decodeError *imaging.DecodeError
	if outcome != OutcomeInvalid || !errors.As(err, &decodeError) {
		t.Fatalf("RefreshNow = %s, %v; want invalid image", outcome, err)
	}
	h.next(t, OutcomePendingResult)
	update := h.next(t, OutcomeInvalid)
	if update.Reason != ReasonImage || update.State.Overlay != OverlayInvalidImage || update.State.Status != StatusInvalidImage {
		t.Errorf("update = reason %s overlay %q status %q", update.Reason, update.State.Overlay, update.State.Status)
	}
	if update.State.Frame != nil || len(update.State.History) != 0 {
		t.Error("undecodable frame reached state or history")
	}
}

func TestTransientFailureRetainsFrameAndLoopContinues(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(frame("img-1"), result("img-1"))
	h.engine.Start()
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeValid)

	h.fetcher.fail(&gateway.NetworkError{Endpoint: "image", Attempts: 3, Err: errors.New("503")}, nil)
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultInterval)
	failure := h.next(t, OutcomeTransientFailure)
	if failure.State.Status != StatusTemporary || !failure.State.Stale || !failure.State.Error {
		t.Errorf("failure state = %+v", failure.State)
	}
	if failure.State.Frame == nil || failure.State.Frame.ID != "img-1" {
		t.Error("transient failure dropped the last good frame")
	}
	var networkError *gateway.NetworkError
	if !errors.As(failure.Err, &networkError) {
		t.Errorf("Err = %v, want *gateway.NetworkError", failure.Err)
	}

	// A protocol error on the result fetch is equally non-fatal.
	h.fetcher.set(frame("img-2"), result("img-2"))
	h.fetcher.fail(nil, &gateway.ProtocolError{Endpoint: "results", Err: errors.New("bad json")})
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultInterval)
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeTransientFailure)

	// And the loop recovers on its own.
	h.fetcher.set(frame("img-3"), result("img-3"))
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultInterval)
	h.next(t, OutcomePendingResult)
	if state := h.next(t, OutcomeValid).State; state.Stale || state.Error {
		t.Errorf("recovered state flags = %+v", state)
	}
	if !h.engine.Running() {
		t.Error("loop stopped after non-fatal failures")
	}
	if h.credentials.clears.Load() != 0 {
		t.Error("credentials cleared on a non-fatal failure")
	}
}

func TestSessionExpiryStopsLoop(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(frame("img-1"), result("img-1"))
	h.engine.Start()
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeValid)
	expired := h.engine.SessionExpired()

	h.fetcher.set(frame("img-2"), result("img-2"))
	h.fetcher.fail(nil, fmt.Errorf("%w: results unauthorized after token refresh", gateway.ErrSessionExpired))
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultInterval)

	h.next(t, OutcomePendingResult)
	update := h.next(t, OutcomeSessionExpired)
	if update.State.SessionValid || update.State.Overlay != OverlayExpired || update.State.Status != StatusExpired {
		t.Errorf("expired state = %+v", update.State)
	}
	if !errors.Is(update.Err, gateway.ErrSessionExpired) {
		t.Errorf("Err = %v", update.Err)
	}
	testutil.RequireClosed(t, expired, receiveTimeout, "session expired signal")
	if got := h.credentials.clears.Load(); got != 1 {
		t.Errorf("credential clears = %d, want 1", got)
	}

	// The loop has exited: no further ticks however far time moves.
	for h.engine.Running() {
		time.Sleep(time.Millisecond)
	}
	images, _ := h.fetcher.calls()
	h.clock.Advance(10 * DefaultInterval)
	h.quiet(t)
	if after, _ := h.fetcher.calls(); after != images {
		t.Errorf("image fetched after session expiry: %d -> %d", images, after)
	}
}

func TestRestartAfterSessionExpiry(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fail(gateway.ErrSessionExpired, nil)
	h.engine.Start()
	h.next(t, OutcomeSessionExpired)
	first := h.engine.SessionExpired()
	testutil.RequireClosed(t, first, receiveTimeout, "first expiry")

	h.fetcher.set(frame("img-9"), result("img-9"))
	h.engine.Start()
	if second := h.engine.SessionExpired(); second == first {
		t.Fatal("restart reused the closed expiry channel")
	}
	h.next(t, OutcomePendingResult)
	if state := h.next(t, OutcomeValid).State; !state.SessionValid {
		t.Error("session not valid after restart")
	}
	if !h.engine.Running() {
		t.Error("loop not running after restart")
	}
}

func TestManualSessionExpiryStopsLoop(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(frame("img-1"), result("img-1"))
	h.engine.Start()
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeValid)
	h.clock.WaitForTimers(1)

	h.fetcher.fail(gateway.ErrSessionExpired, nil)
	outcome, err := h.refresh(t)
	if outcome != OutcomeSessionExpired || !errors.Is(err, gateway.ErrSessionExpired) {
		t.Fatalf("RefreshNow = %s, %v", outcome, err)
	}
	if update := h.next(t, OutcomeSessionExpired); update.Source != SourceManual {
		t.Errorf("Source = %s, want manual", update.Source)
	}
	testutil.RequireClosed(t, h.engine.SessionExpired(), receiveTimeout, "expiry signal")
	for h.engine.Running() {
		time.Sleep(time.Millisecond)
	}

	// A second expiry in the same run is not published again.
	if outcome, _ := h.refresh(t); outcome != OutcomeSessionExpired {
		t.Errorf("second RefreshNow = %s", outcome)
	}
	h.quiet(t)
	if got := h.credentials.clears.Load(); got != 1 {
		t.Errorf("credential clears = %d, want 1", got)
	}
}

// racingFetcher serves "img-1" except on the image fetch numbered
// expireOnImage, which reports session expiry. Result fetches announce
// themselves on resultEntered and then hold their response, ignoring
// cancellation, until release is called.
type racingFetcher struct {
	imageCalls    atomic.Int32
	expireOnImage int32
	resultEntered chan struct{}
	releaseResult chan struct{}
	releaseOnce   sync.Once
}

func newRacingFetcher(t *testing.T, expireOnImage int32) *racingFetcher {
	f := &racingFetcher{
		expireOnImage: expireOnImage,
		resultEntered: make(chan struct{}, 1),
		releaseResult: make(chan struct{}),
	}
	t.Cleanup(f.release)
	return f
}

func (f *racingFetcher) release() { f.releaseOnce.Do(func() { close(f.releaseResult) }) }

func (f *racingFetcher) FetchLatestImage(context.Context) (imaging.ImageFrame, error) {
	if f.imageCalls.Add(1) == f.expireOnImage {
		return imaging.ImageFrame{}, fmt.Errorf("%w: refresh rejected", gateway.ErrSessionExpired)
	}
	return frame("img-1"), nil
}

func (f *racingFetcher) FetchLatestResult(context.Context) (imaging.AnalysisResult, error) {
	f.resultEntered <- struct{}{}
	<-f.releaseResult
	return result("img-1"), nil
}

func requireExpiredState(t *testing.T, h *harness) {
	t.Helper()
	state := h.engine.State()
	if state.SessionValid || state.Status != StatusExpired {
		t.Errorf("state after expiry: session valid %v, status %q", state.SessionValid, state.Status)
	}
	if state.Frame != nil || len(state.History) != 0 {
		t.Errorf("state after expiry holds frame %v and %d history entries", state.Frame, len(state.History))
	}
	if got := h.credentials.clears.Load(); got != 1 {
		t.Errorf("credential clears = %d, want 1", got)
	}
}

func TestManualExpiryDiscardsInFlightLoopTick(t *testing.T) {
	fetcher := newRacingFetcher(t, 2)
	h := newHarness(t, func(c *Config) { c.Fetcher = fetcher })

	h.engine.Start()
	h.next(t, OutcomePendingResult)
	testutil.RequireReceive(t, fetcher.resultEntered, receiveTimeout, "loop fetching result")

	outcome, err := h.refresh(t)
	if outcome != OutcomeSessionExpired || !errors.Is(err, gateway.ErrSessionExpired) {
		t.Fatalf("RefreshNow = %s, %v", outcome, err)
	}
	if update := h.next(t, OutcomeSessionExpired); update.Source != SourceManual {
		t.Errorf("Source = %s, want manual", update.Source)
	}

	// The loop's response arrives after the session ended.
	fetcher.release()
	for h.engine.Running() {
		time.Sleep(time.Millisecond)
	}
	h.quiet(t)
	requireExpiredState(t, h)
}

func TestLoopExpiryCancelsInFlightRefresh(t *testing.T) {
	fetcher := newRacingFetcher(t, 2)
	h := newHarness(t, func(c *Config) { c.Fetcher = fetcher })

	type refreshReturn struct {
		outcome Outcome
		err     error
	}
	returned := make(chan refreshReturn, 1)
	go func() {
		outcome, err := h.engine.RefreshNow(context.Background())
		returned <- refreshReturn{outcome, err}
	}()
	h.next(t, OutcomePendingResult)
	testutil.RequireReceive(t, fetcher.resultEntered, receiveTimeout, "manual refresh fetching result")

	h.engine.Start()
	if update := h.next(t, OutcomeSessionExpired); update.Source != SourceLoop {
		t.Errorf("Source = %s, want loop", update.Source)
	}
	testutil.RequireClosed(t, h.engine.SessionExpired(), receiveTimeout, "expiry signal")

	fetcher.release()
	got := testutil.RequireReceive(t, returned, receiveTimeout, "RefreshNow to return")
	if got.outcome != OutcomeSessionExpired || !errors.Is(got.err, gateway.ErrSessionExpired) {
		t.Errorf("RefreshNow = %s, %v; want session expired", got.outcome, got.err)
	}
	h.quiet(t)
	requireExpiredState(t, h)
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(frame("img-1"), result("img-1"))
	h.engine.Start()
	h.engine.Start()
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeValid)
	h.engine.Start()

	h.clock.WaitForTimers(1)
	if pending := h.clock.PendingCount(); pending != 1 {
		t.Fatalf("pending timers = %d, want 1 (a single loop)", pending)
	}
	if images, _ := h.fetcher.calls(); images != 1 {
		t.Errorf("image fetches = %d, want 1", images)
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(frame("img-1"), result("img-1"))
	h.engine.Start()
	h.next(t, OutcomePendingResult)
	h.next(t, OutcomeValid)
	h.clock.WaitForTimers(1)

	stopped := make(chan struct{})
	go func() {
		h.engine.Stop()
		close(stopped)
	}()
	testutil.RequireClosed(t, stopped, receiveTimeout, "Stop returning during the interval sleep")
	if h.engine.Running() {
		t.Error("Running after Stop")
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Errorf("pending timers after Stop = %d, want 0", pending)
	}
	h.quiet(t)
	h.engine.Stop()
}

func TestStopAbandonsBlockedTick(t *testing.T) {
	h := newHarness(t)
	h.fetcher.gate = make(chan struct{})
	h.engine.Start()
	for {
		if images, _ := h.fetcher.calls(); images == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	h.engine.Stop()
	h.quiet(t)
}

func TestDispose(t *testing.T) {
	h := newHarness(t)
	h.engine.Start()
	h.engine.Dispose()
	h.engine.Dispose()

	testutil.RequireClosed(t, h.engine.Updates(), receiveTimeout, "updates closed")
	if _, err := h.engine.RefreshNow(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("RefreshNow after Dispose = %v, want ErrDisposed", err)
	}
	h.engine.Start()
	if h.engine.Running() {
		t.Error("Start after Dispose launched the loop")
	}
}

func TestRefreshNowBusy(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set(frame("img-1"), result("img-1"))
	h.fetcher.gate = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.engine.RefreshNow(context.Background())
		first <- err
	}()
	for {
		if images, _ := h.fetcher.calls(); images == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := h.engine.RefreshNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent RefreshNow = %v, want ErrBusy", err)
	}
	close(h.fetcher.gate)
	if err := testutil.RequireReceive(t, first, receiveTimeout, "first refresh"); err != nil {
		t.Fatalf("first RefreshNow: %v", err)
	}
}

func TestRefreshNowTimeout(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.ManualTimeout = 20 * time.Millisecond })
	h.fetcher.gate = make(chan struct{})

	outcome, err := h.refresh(t)
	if outcome != OutcomeTransientFailure || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RefreshNow = %s, %v; want transient deadline", outcome, err)
	}
	h.next(t, OutcomeTransientFailure)
}

func TestRefreshNowCallerCancellationIsSilent(t *testing.T) {
	h := newHarness(t)
	h.fetcher.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.engine.RefreshNow(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RefreshNow = %v, want context.Canceled", err)
	}
	h.quiet(t)
}

func TestRecheckUnresolved(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.set(frame("img-2"), result("img-1"))
		h.refresh(t)
		h.next(t, OutcomePendingResult)
		h.next(t, OutcomeMismatchedCorrelation)

		h.fetcher.set(frame("img-2"), result("img-2"))
		if outcome, _ := h.refresh(t); outcome != OutcomeNoChange {
			t.Errorf("outcome = %s, want no_change", outcome)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		h := newHarness(t, func(config *Config) { config.RecheckUnresolved = true })
		h.fetcher.set(frame("img-2"), result("img-1"))
		h.refresh(t)
		h.next(t, OutcomePendingResult)
		h.next(t, OutcomeMismatchedCorrelation)

		h.fetcher.set(frame("img-2"), result("img-2"))
		if outcome, _ := h.refresh(t); outcome != OutcomeValid {
			t.Fatalf("outcome = %s, want valid", outcome)
		}
		// No second PendingResult for the same id.
		h.next(t, OutcomeValid)

		if outcome, _ := h.refresh(t); outcome != OutcomeNoChange {
			t.Errorf("outcome after resolution = %s, want no_change", outcome)
		}
	})
}

func TestHistoryNeverExceedsCapacity(t *testing.T) {
	h := newHarness(t, func(config *Config) {
		config.HistoryCapacity = 5
		config.UpdateBuffer = 64
	})
	for index := range 12 {
		id := fmt.Sprintf("img-%02d", index)
		h.fetcher.set(frame(id), result(id))
		h.refresh(t)
		h.next(t, OutcomePendingResult)
		state := h.next(t, OutcomeValid).State
		if len(state.History) > 5 {
			t.Fatalf("history length %d exceeds capacity", len(state.History))
		}
		if state.History[0].ImageID != id {
			t.Fatalf("history head = %s, want %s", state.History[0].ImageID, id)
		}
	}
}

func TestOutcomeStrings(t *testing.T) {
	for outcome := OutcomeNoChange; outcome <= OutcomeSessionExpired; outcome++ {
		if outcome.String() == "unknown" || outcome.String() == "" {
			t.Errorf("Outcome(%d) has no name", int(outcome))
		}
	}
	if Outcome(99).String() != "unknown" {
		t.Error("out-of-range outcome should be unknown")
	}
	text, _ := OutcomeMismatchedCorrelation.MarshalText()
	if string(text) != "mismatched_correlation" {
		t.Errorf("MarshalText = %s", text)
	}
}
