// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth manages the bearer-token session with the imaging
// service: password login, refresh-token renewal, and the current
// access token attached to every API request.
//
// Token material is held in secret.Buffer values and replaced as a
// unit. Refresh is single-flight: concurrent callers that all saw an
// unauthorized response share one renewal exchange.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teracyte/liveview/lib/clock"
	"github.com/teracyte/liveview/lib/netutil"
	"github.com/teracyte/liveview/lib/secret"
	"github.com/teracyte/liveview/lib/telemetry"
	"github.com/teracyte/liveview/lib/version"
)

const (
	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"

	// DefaultExpiryMargin is subtracted from the server-given token
	// lifetime so the session is treated as expired slightly early.
	DefaultExpiryMargin = 30 * time.Second

	// DefaultRefreshTimeout bounds a single refresh exchange.
	DefaultRefreshTimeout = 10 * time.Second
)

// Config holds configuration for creating a Manager.
type Config struct {
	// BaseURL is the imaging service root (e.g., "http://localhost:8000").
	BaseURL string
	// HTTPClient is used for login and refresh. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Clock supplies the time for expiry computation. If nil, clock.Real() is used.
	Clock clock.Clock
	// ExpiryMargin defaults to DefaultExpiryMargin when zero.
	ExpiryMargin time.Duration
	// RefreshTimeout defaults to DefaultRefreshTimeout when zero.
	RefreshTimeout time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Credential describes the current session. The tokens themselves
// stay inside the Manager; CurrentToken returns the bearer value.
type Credential struct {
	TokenType       string
	ExpiresAt       time.Time
	HasRefreshToken bool
}

// Manager owns the access/refresh token pair. All methods are safe for
// concurrent use.
type Manager struct {
	baseURL        string
	httpClient     *http.Client
	clock          clock.Clock
	expiryMargin   time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger
	metrics        *telemetry.Metrics

	mu      sync.RWMutex
	current *session

	flight singleflight.Group
}

type session struct {
	access    *secret.Buffer
	refresh   *secret.Buffer // nil when the server issued none
	tokenType string
	expiresAt time.Time
}

func (s *session) close() {
	s.access.Close()
	if s.refresh != nil {
		s.refresh.Close()
	}
}

func (s *session) describe() Credential {
	return Credential{
		TokenType:       s.tokenType,
		ExpiresAt:       s.expiresAt,
		HasRefreshToken: s.refresh != nil,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// NewManager creates a Manager with no session.
func NewManager(config Config) (*Manager, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("auth: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("auth: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	manager := &Manager{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		httpClient:     config.HTTPClient,
		clock:          config.Clock,
		expiryMargin:   config.ExpiryMargin,
		refreshTimeout: config.RefreshTimeout,
		logger:         config.Logger,
		metrics:        config.Metrics,
	}
	if manager.httpClient == nil {
		manager.httpClient = http.DefaultClient
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.expiryMargin == 0 {
		manager.expiryMargin = DefaultExpiryMargin
	}
	if manager.refreshTimeout <= 0 {
		manager.refreshTimeout = DefaultRefreshTimeout
	}
	if manager.logger == nil {
		manager.logger = slog.Default()
	}
	return manager, nil
}

// Login exchanges username and password for a new session, replacing
// any existing one. The password Buffer is read but not closed.
//
// A rejected login or a malformed response returns an *AuthError.
// Transport failures return a wrapped error.
func (m *Manager) Login(ctx context.Context, username string, password *secret.Buffer) (Credential, error) {
	if username == "" {
		return Credential{}, fmt.Errorf("auth: username is required for login")
	}
	if password == nil {
		return Credential{}, fmt.Errorf("auth: password is required for login")
	}

	// Password is converted to string at the JSON serialization boundary.
	request := map[string]string{
		"username": username,
		"password": password.String(),
	}
	next, err := m.exchange(ctx, loginPath, request, "")
	if err != nil {
		return Credential{}, fmt.Errorf("auth: login failed: %w", err)
	}

	m.replace(next)
	m.logger.Info("logged in to imaging service",
		"username", username,
		"expires_at", next.expiresAt,
	)
	return next.describe(), nil
}

// Refresh renews the session using the current refresh token and
// reports whether it succeeded. It never returns an error: a missing
// refresh token, a transport failure, a non-success status, and an
// unparsable body all yield false and are logged. A refresh overtaken
// by a Login reports true whatever its own result, since the caller
// can retry with the newer token.
//
// Concurrent callers share one in-flight exchange. The exchange is
// bounded by the refresh timeout and is not cancelled when one waiting
// caller's ctx ends; that caller stops waiting and gets false.
func (m *Manager) Refresh(ctx context.Context) bool {
	results := m.flight.DoChan("refresh", func() (any, error) {
		return m.refreshOnce(context.WithoutCancel(ctx)), nil
	})
	select {
	case result := <-results:
		return result.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) refreshOnce(ctx context.Context) bool {
	m.mu.RLock()
	previous := m.current
	var refreshToken string
	if previous != nil && previous.refresh != nil {
		refreshToken = previous.refresh.String()
	}
	m.mu.RUnlock()

	if refreshToken == "" {
		m.logger.Warn("token refresh skipped: no refresh token")
		m.metrics.CountRefresh("no_token")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	request := map[string]string{"refresh_token": refreshToken}
	next, err := m.exchange(ctx, refreshPath, request, refreshToken)
	if err != nil {
		if m.replacedSince(previous) {
			m.logger.Info("token refresh failed after a new login, keeping the new session", "error", err)
			m.metrics.CountRefresh("superseded")
			return true
		}
		m.logger.Warn("token refresh failed", "error", err)
		m.metrics.CountRefresh("failure")
		return false
	}

	m.mu.Lock()
	if m.current != previous {
		// Cleared or replaced by a login while the exchange was in
		// flight. The newer state wins; a login leaves a usable token
		// for the caller to retry with.
		replaced := m.current != nil
		m.mu.Unlock()
		next.close()
		m.metrics.CountRefresh("superseded")
		return replaced
	}
	m.current = next
	m.mu.Unlock()
	if previous != nil {
		previous.close()
	}

	m.metrics.CountRefresh("success")
	m.logger.Info("refreshed access token", "expires_at", next.expiresAt)
	return true
}

// replacedSince reports whether a login installed a new session after
// previous was read.
func (m *Manager) replacedSince(previous *session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current != previous
}

// CurrentToken returns the current access token, or "" when there is
// no session.
func (m *Manager) CurrentToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.access.String()
}

// Credential describes the current session. ok is false when there is
// none.
func (m *Manager) Credential() (credential Credential, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Credential{}, false
	}
	return m.current.describe(), true
}

// Expired reports whether there is no session or its access token has
// passed its (margin-adjusted) expiry.
func (m *Manager) Expired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == nil || !m.clock.Now().Before(m.current.expiresAt)
}

// Clear discards the session and zeroes its tokens.
func (m *Manager) Clear() {
	m.mu.Lock()
	previous := m.current
	m.current = nil
	m.mu.Unlock()
	if previous != nil {
		previous.close()
		m.logger.Info("cleared session credentials")
	}
}

// Close is Clear, for use with defer.
func (m *Manager) Close() error {
	m.Clear()
	return nil
}

func (m *Manager) replace(next *session) {
	m.mu.Lock()
	previous := m.current
	m.current = next
	m.mu.Unlock()
	if previous != nil {
		previous.close()
	}
}

// exchange posts request to path and builds a session from the token
// response. keepRefresh is the refresh token to keep when the response
// omits a new one.
func (m *Manager) exchange(ctx context.Context, path string, request any, keepRefresh string) (*session, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept-Encoding", netutil.AcceptEncoding)
	httpRequest.Header.Set("User-Agent", version.UserAgent())

	started := m.clock.Now()
	response, err := m.httpClient.Do(httpRequest)
	if err != nil {
		m.metrics.ObserveRequest(endpointName(path), 0, m.clock.Now().Sub(started))
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer response.Body.Close()
	m.metrics.ObserveRequest(endpointName(path), response.StatusCode, m.clock.Now().Sub(started))

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		reason := netutil.ErrorBody(response)
		if reason == "" {
			reason = http.StatusText(response.StatusCode)
		}
		return nil, &AuthError{StatusCode: response.StatusCode, Reason: reason}
	}

	body, err := netutil.ReadResponse(response)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, &AuthError{StatusCode: response.StatusCode, Reason: "malformed token response: " + err.Error()}
	}
	if tokens.AccessToken == "" {
		return nil, &AuthError{StatusCode: response.StatusCode, Reason: "token response has no access_token"}
	}
	if tokens.TokenType != "" && !strings.EqualFold(tokens.TokenType, "bearer") {
		return nil, &AuthError{StatusCode: response.StatusCode, Reason: fmt.Sprintf("unsupported token_type %q", tokens.TokenType)}
	}

	return m.newSession(tokens, keepRefresh)
}

func (m *Manager) newSession(tokens tokenResponse, keepRefresh string) (*session, error) {
	access, err := secret.NewFromString(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("protecting access token: %w", err)
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = keepRefresh
	}
	var refresh *secret.Buffer
	if refreshToken != "" {
		refresh, err = secret.NewFromString(refreshToken)
	}
	if err != nil {
		access.Close()
		return nil, fmt.Errorf("protecting refresh token: %w", err)
	}

	tokenType := tokens.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	lifetime := time.Duration(tokens.ExpiresIn)*time.Second - m.expiryMargin
	return &session{
		access:    access,
		refresh:   refresh,
		tokenType: tokenType,
		expiresAt: m.clock.Now().Add(lifetime),
	}, nil
}

func endpointName(path string) string {
	return strings.TrimPrefix(path, "/api/")
}
