// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the authenticated client for the imaging service's
// read endpoints: the latest image and the latest analysis result.
//
// Every call attaches the current bearer token and applies two retry
// policies. Transient server errors (5xx) are retried with a linear
// backoff plus jitter. An unauthorized response triggers one token
// refresh and one retry; if that does not help the call fails with
// ErrSessionExpired. Anything else fails immediately.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teracyte/liveview/lib/clock"
	"github.com/teracyte/liveview/lib/imaging"
	"github.com/teracyte/liveview/lib/netutil"
	"github.com/teracyte/liveview/lib/telemetry"
	"github.com/teracyte/liveview/lib/version"
)

// TokenSource supplies and renews the bearer token. *auth.Manager
// implements it.
type TokenSource interface {
	CurrentToken() string
	Refresh(ctx context.Context) bool
}

// RetryPolicy controls transient-error retries. Attempt n (1-based)
// that fails transiently waits BaseDelay*n plus a uniform jitter in
// [0, MaxJitter) before attempt n+1.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxJitter time.Duration
}

// DefaultRetryPolicy returns three attempts with 300ms base delay and
// up to 200ms jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 300 * time.Millisecond, MaxJitter: 200 * time.Millisecond}
}

// Config holds configuration for creating a Gateway.
type Config struct {
	// BaseURL is the imaging service root (e.g., "http://localhost:8000").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. Its Timeout bounds each attempt.
	HTTPClient *http.Client
	// Tokens is required.
	Tokens TokenSource
	// Retry defaults to DefaultRetryPolicy when Attempts is zero.
	Retry RetryPolicy
	// Clock drives retry delays. If nil, clock.Real() is used.
	Clock clock.Clock
	// Jitter returns a random duration in [0, limit). If nil, a
	// uniform random source is used. Tests pin it.
	Jitter func(limit time.Duration) time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

type endpoint struct {
	name string
	path string
}

var (
	imageEndpoint  = endpoint{name: "image", path: "/api/image"}
	resultEndpoint = endpoint{name: "results", path: "/api/results"}
)

// Gateway fetches from the imaging service. Safe for concurrent use.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	retry      RetryPolicy
	clock      clock.Clock
	jitter     func(time.Duration) time.Duration
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// New creates a Gateway.
func New(config Config) (*Gateway, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("gateway: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("gateway: Tokens is required")
	}

	gateway := &Gateway{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: config.HTTPClient,
		tokens:     config.Tokens,
		retry:      config.Retry,
		clock:      config.Clock,
		jitter:     config.Jitter,
		logger:     config.Logger,
		metrics:    config.Metrics,
	}
	if gateway.httpClient == nil {
		gateway.httpClient = http.DefaultClient
	}
	if gateway.retry.Attempts <= 0 {
		gateway.retry = DefaultRetryPolicy()
	}
	if gateway.clock == nil {
		gateway.clock = clock.Real()
	}
	if gateway.jitter == nil {
		gateway.jitter = uniformJitter
	}
	if gateway.logger == nil {
		gateway.logger = slog.Default()
	}
	return gateway, nil
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// FetchLatestImage returns the most recent frame.
func (g *Gateway) FetchLatestImage(ctx context.Context) (imaging.ImageFrame, error) {
	body, err := g.get(ctx, imageEndpoint)
	if err != nil {
		return imaging.ImageFrame{}, err
	}
	return parseImage(body)
}

// FetchLatestResult returns the most recent analysis result.
func (g *Gateway) FetchLatestResult(ctx context.Context) (imaging.AnalysisResult, error) {
	body, err := g.get(ctx, resultEndpoint)
	if err != nil {
		return imaging.AnalysisResult{}, err
	}
	return parseResult(body)
}

// get applies the authentication retry policy around the transient
// retry policy.
func (g *Gateway) get(ctx context.Context, target endpoint) ([]byte, error) {
	usedToken := g.tokens.CurrentToken()
	body, err := g.withTransientRetry(ctx, target, usedToken)
	if !IsStatus(err, http.StatusUnauthorized) {
		return body, err
	}

	g.metrics.CountRetry(target.name, "auth")
	token := g.tokens.CurrentToken()
	if token == "" || token == usedToken {
		if !g.tokens.Refresh(ctx) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("gateway: %s: %w", target.name, ctxErr)
			}
			g.logger.Warn("token refresh failed after unauthorized response", "endpoint", target.name)
			return nil, fmt.Errorf("%w: %s unauthorized and token refresh failed", ErrSessionExpired, target.name)
		}
		token = g.tokens.CurrentToken()
	} else {
		g.logger.Debug("token already refreshed by another caller", "endpoint", target.name)
	}

	body, err = g.withTransientRetry(ctx, target, token)
	if IsStatus(err, http.StatusUnauthorized) {
		g.logger.Warn("unauthorized again after token refresh", "endpoint", target.name)
		return nil, fmt.Errorf("%w: %s unauthorized after token refresh", ErrSessionExpired, target.name)
	}
	return body, err
}

func (g *Gateway) withTransientRetry(ctx context.Context, target endpoint, token string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		body, err := g.attempt(ctx, target, token)
		if err == nil {
			return body, nil
		}

		var statusError *StatusError
		if !errors.As(err, &statusError) || !Transient(statusError.StatusCode) {
			return nil, err
		}
		if attempt >= g.retry.Attempts {
			return nil, &NetworkError{Endpoint: target.name, Attempts: attempt, Err: err}
		}

		delay := g.retry.BaseDelay*time.Duration(attempt) + g.jitter(g.retry.MaxJitter)
		g.logger.Warn("transient error from imaging service, retrying",
			"endpoint", target.name,
			"status", statusError.StatusCode,
			"attempt", attempt,
			"delay", delay,
		)
		g.metrics.CountRetry(target.name, "transient")
		if err := clock.Wait(ctx, g.clock, delay); err != nil {
			return nil, fmt.Errorf("gateway: %s: %w", target.name, err)
		}
	}
}

// attempt performs one GET. Non-2xx responses become *StatusError,
// transport failures *NetworkError, and context cancellation is
// returned as the context error.
func (g *Gateway) attempt(ctx context.Context, target endpoint, token string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+target.path, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: creating %s request: %w", target.name, err)
	}
	requestID := uuid.NewString()
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Accept-Encoding", netutil.AcceptEncoding)
	request.Header.Set("X-Request-ID", requestID)
	request.Header.Set("User-Agent", version.UserAgent())
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	started := g.clock.Now()
	response, err := g.httpClient.Do(request)
	if err != nil {
		g.metrics.ObserveRequest(target.name, 0, g.clock.Now().Sub(started))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gateway: %s: %w", target.name, ctxErr)
		}
		return nil, &NetworkError{Endpoint: target.name, Attempts: 1, Err: err}
	}
	defer response.Body.Close()
	g.metrics.ObserveRequest(target.name, response.StatusCode, g.clock.Now().Sub(started))

	g.logger.Debug("imaging service response",
		"endpoint", target.name,
		"status", response.StatusCode,
		"request_id", requestID,
	)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &StatusError{
			Endpoint:   target.name,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response),
		}
	}

	body, err := netutil.ReadResponse(response)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gateway: %s: %w", target.name, ctxErr)
		}
		return nil, &NetworkError{Endpoint: target.name, Attempts: 1, Err: err}
	}
	return body, nil
}
