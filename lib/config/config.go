// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted by Load.
const EnvVar = "LIVEVIEW_CONFIG"

// Config is the complete viewer configuration.
type Config struct {
	// Service locates the imaging service.
	Service ServiceConfig `yaml:"service"`

	// Auth configures login and token refresh.
	Auth AuthConfig `yaml:"auth"`

	// Poll configures the live-update loop.
	Poll PollConfig `yaml:"poll"`

	// Retry configures transient-failure retries for image and result
	// fetches.
	Retry RetryConfig `yaml:"retry"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Log configures process logging.
	Log LogConfig `yaml:"log"`
}

// ServiceConfig locates the imaging service.
type ServiceConfig struct {
	// BaseURL is the service root, e.g. https://imaging.example:8443.
	// Required.
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds every HTTP request, including reading the
	// response body.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AuthConfig configures login and token refresh.
type AuthConfig struct {
	// Username pre-fills the login screen. Headless mode requires it.
	Username string `yaml:"username"`

	// PasswordFile is read at startup for non-interactive login. "-"
	// reads one line from stdin. Leave empty to prompt.
	PasswordFile string `yaml:"password_file"`

	// RefreshTimeout bounds one token refresh exchange.
	// Default: 10s
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`

	// ExpiryMargin is subtracted from the server-reported token
	// lifetime, so a token is treated as expired slightly early.
	// Default: 30s
	ExpiryMargin time.Duration `yaml:"expiry_margin"`
}

// PollConfig configures the live-update loop.
type PollConfig struct {
	// Interval is the pause between ticks.
	// Default: 3s
	Interval time.Duration `yaml:"interval"`

	// ManualTimeout bounds one manual refresh.
	// Default: 8s
	ManualTimeout time.Duration `yaml:"manual_timeout"`

	// HistoryCapacity caps the history list.
	// Default: 100
	HistoryCapacity int `yaml:"history_capacity"`

	// RecheckUnresolved re-fetches the result for an already-seen
	// image id that has not yet produced a valid pair.
	// Default: false
	RecheckUnresolved bool `yaml:"recheck_unresolved"`
}

// RetryConfig configures transient-failure retries.
type RetryConfig struct {
	// Attempts is the total number of attempts per fetch.
	// Default: 3
	Attempts int `yaml:"attempts"`

	// BaseDelay is multiplied by the attempt number between attempts.
	// Default: 300ms
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxJitter bounds the uniform random delay added to each backoff.
	// Default: 200ms
	MaxJitter time.Duration `yaml:"max_jitter"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address serving /metrics, e.g. 127.0.0.1:9464.
	// Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// LogConfig configures process logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// File receives JSON log records in addition to the normal
	// destination. Empty disables it.
	File string `yaml:"file"`
}

// Default returns a configuration with every optional field set. The
// service base URL has no default.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			RequestTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			RefreshTimeout: 10 * time.Second,
			ExpiryMargin:   30 * time.Second,
		},
		Poll: PollConfig{
			Interval:        3 * time.Second,
			ManualTimeout:   8 * time.Second,
			HistoryCapacity: 100,
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: 300 * time.Millisecond,
			MaxJitter: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by LIVEVIEW_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your liveview.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default. Files ending in
// .json or .jsonc are read as JSON with comments and trailing commas;
// anything else is YAML. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the yaml tags serve both.
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// string fields that name files, addresses, or accounts.
func (c *Config) expandVariables() {
	c.Service.BaseURL = expandVars(c.Service.BaseURL)
	c.Auth.Username = expandVars(c.Auth.Username)
	c.Auth.PasswordFile = expandVars(c.Auth.PasswordFile)
	c.Metrics.Listen = expandVars(c.Metrics.Listen)
	c.Log.File = expandVars(c.Log.File)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.BaseURL == "" {
		errs = append(errs, fmt.Errorf("service.base_url is required"))
	} else if parsed, err := url.Parse(c.Service.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("service.base_url: %w", err))
	} else if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("service.base_url must be an absolute http or https URL, got %q", c.Service.BaseURL))
	}
	if c.Service.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("service.request_timeout must be positive"))
	}

	if c.Auth.RefreshTimeout <= 0 {
		errs = append(errs, fmt.Errorf("auth.refresh_timeout must be positive"))
	}
	if c.Auth.ExpiryMargin < 0 {
		errs = append(errs, fmt.Errorf("auth.expiry_margin must not be negative"))
	}

	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive"))
	}
	if c.Poll.ManualTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll.manual_timeout must be positive"))
	}
	if c.Poll.HistoryCapacity <= 0 {
		errs = append(errs, fmt.Errorf("poll.history_capacity must be positive"))
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay must not be negative"))
	}
	if c.Retry.MaxJitter < 0 {
		errs = append(errs, fmt.Errorf("retry.max_jitter must not be negative"))
	} else if c.Retry.MaxJitter > c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("retry.max_jitter (%v) must not exceed retry.base_delay (%v)", c.Retry.MaxJitter, c.Retry.BaseDelay))
	}

	if !contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
