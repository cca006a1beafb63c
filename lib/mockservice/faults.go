// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mockservice

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Fault makes requests to Path fail with Status. Count limits how many
// requests fail; zero means every request until the fault is cleared.
type Fault struct {
	Path   string
	Status int
	Count  int
}

func (f Fault) String() string {
	if f.Count == 0 {
		return fmt.Sprintf("%s=%d", f.Path, f.Status)
	}
	return fmt.Sprintf("%s=%dx%d", f.Path, f.Status, f.Count)
}

// ParseFault parses the PATH=STATUS[xCOUNT] form used on the command
// line, e.g. "/api/results=503x2".
func ParseFault(text string) (Fault, error) {
	path, rest, ok := strings.Cut(text, "=")
	if !ok || !strings.HasPrefix(path, "/") {
		return Fault{}, fmt.Errorf("mockservice: fault %q: want PATH=STATUS[xCOUNT]", text)
	}
	statusText, countText, limited := strings.Cut(rest, "x")
	status, err := strconv.Atoi(statusText)
	if err != nil || status < 400 || status > 599 {
		return Fault{}, fmt.Errorf("mockservice: fault %q: status must be 400-599", text)
	}
	fault := Fault{Path: path, Status: status}
	if limited {
		fault.Count, err = strconv.Atoi(countText)
		if err != nil || fault.Count < 1 {
			return Fault{}, fmt.Errorf("mockservice: fault %q: count must be a positive integer", text)
		}
	}
	return fault, nil
}

// InjectFault installs fault, replacing any fault on the same path.
func (s *Server) InjectFault(fault Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[fault.Path] = &fault
	s.logger.Info("injected fault", "fault", fault.String())
}

// ClearFaults removes every installed fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// takeFault consumes one failure from the fault on path, if any.
func (s *Server) takeFault(path string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fault, ok := s.faults[path]
	if !ok {
		return 0, false
	}
	if fault.Count > 0 {
		fault.Count--
		if fault.Count == 0 {
			delete(s.faults, path)
		}
	}
	return fault.Status, true
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, ok := s.takeFault(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		s.logger.Debug("serving injected fault", "path", r.URL.Path, "status", status)
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		writeError(w, r, status, "injected fault: "+http.StatusText(status))
	})
}
