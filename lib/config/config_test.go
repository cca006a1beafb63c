// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Poll.Interval != 3*time.Second {
		t.Errorf("expected poll.interval=3s, got %v", cfg.Poll.Interval)
	}
	if cfg.Poll.ManualTimeout != 8*time.Second {
		t.Errorf("expected poll.manual_timeout=8s, got %v", cfg.Poll.ManualTimeout)
	}
	if cfg.Poll.HistoryCapacity != 100 {
		t.Errorf("expected poll.history_capacity=100, got %d", cfg.Poll.HistoryCapacity)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.BaseDelay != 300*time.Millisecond || cfg.Retry.MaxJitter != 200*time.Millisecond {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Auth.ExpiryMargin != 30*time.Second {
		t.Errorf("expected auth.expiry_margin=30s, got %v", cfg.Auth.ExpiryMargin)
	}
	if cfg.Service.BaseURL != "" {
		t.Errorf("expected no default base_url, got %q", cfg.Service.BaseURL)
	}
}

func TestLoad_RequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LIVEVIEW_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "LIVEVIEW_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithEnvVar(t *testing.T) {
	configPath := writeConfig(t, "liveview.yaml", `
service:
  base_url: http://imaging.test:8080
`)
	t.Setenv(EnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Service.BaseURL != "http://imaging.test:8080" {
		t.Errorf("expected base_url from file, got %q", cfg.Service.BaseURL)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, "liveview.yaml", `
service:
  base_url: https://imaging.example
  request_timeout: 4s

auth:
  username: operator
  password_file: /run/secrets/liveview
  expiry_margin: 1m

poll:
  interval: 500ms
  history_capacity: 20
  recheck_unresolved: true

retry:
  attempts: 5

metrics:
  listen: 127.0.0.1:9464

log:
  level: debug
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Service.RequestTimeout != 4*time.Second {
		t.Errorf("expected request_timeout=4s, got %v", cfg.Service.RequestTimeout)
	}
	if cfg.Auth.Username != "operator" || cfg.Auth.PasswordFile != "/run/secrets/liveview" {
		t.Errorf("unexpected auth: %+v", cfg.Auth)
	}
	if cfg.Auth.ExpiryMargin != time.Minute {
		t.Errorf("expected expiry_margin=1m, got %v", cfg.Auth.ExpiryMargin)
	}
	if cfg.Poll.Interval != 500*time.Millisecond || cfg.Poll.HistoryCapacity != 20 || !cfg.Poll.RecheckUnresolved {
		t.Errorf("unexpected poll: %+v", cfg.Poll)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Poll.ManualTimeout != 8*time.Second {
		t.Errorf("expected default manual_timeout=8s, got %v", cfg.Poll.ManualTimeout)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.BaseDelay != 300*time.Millisecond {
		t.Errorf("unexpected retry: %+v", cfg.Retry)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("expected metrics.listen, got %q", cfg.Metrics.Listen)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log.level=debug, got %q", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	configPath := writeConfig(t, "liveview.jsonc", `{
  // Local mock service.
  "service": {"base_url": "http://127.0.0.1:8080"},
  "poll": {
    "interval": "1s", /* faster than production */
    "history_capacity": 10,
  },
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Service.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("expected base_url from jsonc, got %q", cfg.Service.BaseURL)
	}
	if cfg.Poll.Interval != time.Second || cfg.Poll.HistoryCapacity != 10 {
		t.Errorf("unexpected poll: %+v", cfg.Poll)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown key", file: "c.yaml", content: "service:\n  base_uri: http://x\n"},
		{name: "bad duration", file: "c.yaml", content: "poll:\n  interval: soon\n"},
		{name: "not yaml", file: "c.yaml", content: "service: [\n"},
		{name: "bad json", file: "c.json", content: `{"service": {"base_url": "http://x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			if _, err := LoadFile(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("LoadFile failed on empty file: %v", err)
	}
	if cfg.Poll.Interval != 3*time.Second {
		t.Errorf("expected defaults from empty file, got %+v", cfg.Poll)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("LIVEVIEW_TEST_HOST", "imaging.internal")
	t.Setenv("LIVEVIEW_TEST_UNSET", "")
	configPath := writeConfig(t, "liveview.yaml", `
service:
  base_url: https://${LIVEVIEW_TEST_HOST}
auth:
  username: ${LIVEVIEW_TEST_UNSET:-viewer}
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Service.BaseURL != "https://imaging.internal" {
		t.Errorf("base_url = %q", cfg.Service.BaseURL)
	}
	if cfg.Auth.Username != "viewer" {
		t.Errorf("username = %q, want default", cfg.Auth.Username)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("LIVEVIEW_A", "first")
	t.Setenv("LIVEVIEW_B", "second")
	t.Setenv("LIVEVIEW_MISSING", "")

	tests := []struct {
		input    string
		expected string
	}{
		{input: "${LIVEVIEW_A}/x", expected: "first/x"},
		{input: "${LIVEVIEW_MISSING:-default}", expected: "default"},
		{input: "${LIVEVIEW_A:-default}", expected: "first"},
		{input: "${LIVEVIEW_A}/${LIVEVIEW_B}", expected: "first/second"},
		{input: "${LIVEVIEW_MISSING}", expected: ""},
		{input: "no variables here", expected: "no variables here"},
	}

	for _, tt := range tests {
		result := expandVars(tt.input)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing base url",
			modify:  func(c *Config) { c.Service.BaseURL = "" },
			wantErr: "service.base_url is required",
		},
		{
			name:    "relative base url",
			modify:  func(c *Config) { c.Service.BaseURL = "imaging.example" },
			wantErr: "absolute http or https",
		},
		{
			name:    "unsupported scheme",
			modify:  func(c *Config) { c.Service.BaseURL = "ftp://imaging.example" },
			wantErr: "absolute http or https",
		},
		{
			name:    "zero interval",
			modify:  func(c *Config) { c.Poll.Interval = 0 },
			wantErr: "poll.interval",
		},
		{
			name:    "zero history",
			modify:  func(c *Config) { c.Poll.HistoryCapacity = 0 },
			wantErr: "poll.history_capacity",
		},
		{
			name:    "no attempts",
			modify:  func(c *Config) { c.Retry.Attempts = 0 },
			wantErr: "retry.attempts",
		},
		{
			name:    "negative jitter",
			modify:  func(c *Config) { c.Retry.MaxJitter = -time.Millisecond },
			wantErr: "retry.max_jitter",
		},
		{
			name:    "jitter above base delay",
			modify:  func(c *Config) { c.Retry.BaseDelay = 100 * time.Millisecond },
			wantErr: "must not exceed retry.base_delay",
		},
		{
			name:    "negative margin",
			modify:  func(c *Config) { c.Auth.ExpiryMargin = -time.Second },
			wantErr: "auth.expiry_margin",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Service.BaseURL = "http://127.0.0.1:8080"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Poll.Interval = 0
	cfg.Retry.Attempts = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"service.base_url", "poll.interval", "retry.attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err.Error(), want)
		}
	}
}
