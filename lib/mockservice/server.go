// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mockservice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/teracyte/liveview/lib/clock"
	"github.com/teracyte/liveview/lib/netutil"
)

const (
	// DefaultUsername and DefaultPassword are the accepted credentials
	// when Config leaves them empty.
	DefaultUsername = "operator"
	DefaultPassword = "liveview"

	DefaultTokenLifetime = 15 * time.Minute
	DefaultFrameInterval = 3 * time.Second

	defaultWidth  = 64
	defaultHeight = 48

	maxRequestBody = 64 << 10
)

// Config holds configuration for creating a Server.
type Config struct {
	Username string
	Password string
	// TokenLifetime is the expires_in given to issued access tokens.
	// Defaults to DefaultTokenLifetime.
	TokenLifetime time.Duration
	// FrameInterval is how often a new image is captured. Defaults to
	// DefaultFrameInterval.
	FrameInterval time.Duration
	// ResultLag is how long after a capture its analysis becomes the
	// latest result. Until then /api/results still serves the previous
	// frame's analysis. Zero makes results available immediately.
	ResultLag time.Duration
	// SentinelEvery labels every n-th frame with the sentinel
	// classification. Zero disables.
	SentinelEvery int
	// Width and Height size the generated images. Default 64x48.
	Width  int
	Height int
	// Clock drives frame rotation and token expiry. If nil,
	// clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server is an in-process imaging service. All methods are safe for
// concurrent use.
type Server struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	router chi.Router
	start  time.Time

	mu       sync.Mutex
	access   map[string]time.Time // access token -> expiry
	refresh  map[string]string    // refresh token -> username
	faults   map[string]*Fault
	frames   map[int]*frame
	requests map[string]int
}

// New creates a Server whose first frame is captured now.
func New(config Config) (*Server, error) {
	if config.Username == "" {
		config.Username = DefaultUsername
	}
	if config.Password == "" {
		config.Password = DefaultPassword
	}
	if config.TokenLifetime <= 0 {
		config.TokenLifetime = DefaultTokenLifetime
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = DefaultFrameInterval
	}
	if config.ResultLag < 0 {
		return nil, fmt.Errorf("mockservice: ResultLag must not be negative")
	}
	if config.SentinelEvery < 0 {
		return nil, fmt.Errorf("mockservice: SentinelEvery must not be negative")
	}
	if config.Width <= 0 {
		config.Width = defaultWidth
	}
	if config.Height <= 0 {
		config.Height = defaultHeight
	}

	server := &Server{
		config:   config,
		clock:    config.Clock,
		logger:   config.Logger,
		access:   make(map[string]time.Time),
		refresh:  make(map[string]string),
		faults:   make(map[string]*Fault),
		frames:   make(map[int]*frame),
		requests: make(map[string]int),
	}
	if server.clock == nil {
		server.clock = clock.Real()
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	server.start = server.clock.Now()
	server.router = server.routes()
	return server, nil
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)
	router.Use(s.injectFaults)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Post("/api/auth/login", s.handleLogin)
	router.Post("/api/auth/refresh", s.handleRefresh)
	router.Group(func(router chi.Router) {
		router.Use(s.requireToken)
		router.Get("/api/image", s.handleImage)
		router.Get("/api/results", s.handleResults)
	})
	return router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Requests returns how many requests have been made to path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// RevokeSessions forgets every issued token, as a service restart
// would. Clients see 401 on their next call and their refresh fails.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.access)
	clear(s.refresh)
	s.logger.Info("revoked all sessions")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()

		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("mock request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"bytes", wrapped.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"user_agent", r.UserAgent(),
			"elapsed", time.Since(started),
		)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if request.Username == "" || request.Password == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "username and password are required")
		return
	}
	if request.Username != s.config.Username || request.Password != s.config.Password {
		s.logger.Info("rejected login", "username", request.Username)
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, r, http.StatusOK, s.issue(request.Username, ""))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var request refreshRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	username, ok := s.refresh[request.RefreshToken]
	s.mu.Unlock()
	if request.RefreshToken == "" || !ok {
		writeError(w, r, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	writeJSON(w, r, http.StatusOK, s.issue(username, request.RefreshToken))
}

// issue mints a token pair for username, retiring the refresh token
// that was exchanged for it.
func (s *Server) issue(username, retired string) tokenBody {
	body := tokenBody{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresIn:    int64(s.config.TokenLifetime / time.Second),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if retired != "" {
		delete(s.refresh, retired)
	}
	s.access[body.AccessToken] = s.clock.Now().Add(s.config.TokenLifetime)
	s.refresh[body.RefreshToken] = username
	return body
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		if !strings.EqualFold(scheme, "bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, "Not authenticated")
			return
		}
		s.mu.Lock()
		expiry, ok := s.access[token]
		s.mu.Unlock()
		if !ok || !s.clock.Now().Before(expiry) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, "Token expired or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	current, err := s.frameAt(s.currentIndex())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, current.image())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	index := s.currentIndex()
	current, err := s.frameAt(index)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if index > 0 && s.clock.Now().Sub(current.capturedAt) < s.config.ResultLag {
		if current, err = s.frameAt(index - 1); err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, r, http.StatusOK, current.result())
}

func (s *Server) currentIndex() int {
	elapsed := s.clock.Now().Sub(s.start)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / s.config.FrameInterval)
}

// frameAt returns frame index, generating it on first use. Only the
// current and previous frames are kept.
func (s *Server) frameAt(index int) (*frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.frames[index]; ok {
		return cached, nil
	}
	capturedAt := s.start.Add(time.Duration(index) * s.config.FrameInterval)
	generated, err := generateFrame(index, capturedAt, s.config.Width, s.config.Height, s.config.SentinelEvery)
	if err != nil {
		return nil, err
	}
	for cached := range s.frames {
		if cached < index-1 {
			delete(s.frames, cached)
		}
	}
	s.frames[index] = generated
	return generated, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON writes value with the best encoding the client accepts.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encoding := netutil.NegotiateEncoding(r.Header.Get("Accept-Encoding"))
	compressed, err := netutil.Compress(encoding, data)
	if err != nil {
		encoding, compressed = "", data
	}

	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Add("Vary", "Accept-Encoding")
	if encoding != "" {
		header.Set("Content-Encoding", encoding)
	}
	w.WriteHeader(status)
	w.Write(compressed)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, r, status, map[string]string{"detail": detail})
}
