// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// liveview is a live-monitoring client for the imaging service. It
// signs in, polls the latest image and its analysis result on a fixed
// cadence, and shows each correlated, validated frame as it arrives.
//
// Two modes of operation:
//
// Interactive (default when stdout is a terminal): a full-screen TUI
// with a login screen, the current frame's analysis, a histogram
// sparkline, and the recent history. Press r to refresh immediately.
// When the session expires the login screen comes back.
//
// Headless (--headless, or when stdout is not a terminal): signs in
// with auth.username and auth.password_file (or a password prompt on
// an interactive stdin) and writes every state transition to stdout as
// one JSON object per line. Exits with status 3 when the session
// expires, 2 on configuration errors, and 1 on other failures.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/teracyte/liveview/lib/config"
	"github.com/teracyte/liveview/lib/process"
	"github.com/teracyte/liveview/lib/telemetry"
	"github.com/teracyte/liveview/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath    string
	baseURL       string
	username      string
	passwordFile  string
	pollInterval  time.Duration
	metricsListen string
	logLevel      string
	logFile       string
	headless      bool
	showVersion   bool
}

func (o *options) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.configPath, "config", "c", "", "path to the config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&o.baseURL, "base-url", "", "imaging service root, overriding service.base_url")
	flagSet.StringVarP(&o.username, "username", "u", "", "account name, overriding auth.username")
	flagSet.StringVar(&o.passwordFile, "password-file", "", `file holding the password ("-" for stdin), overriding auth.password_file`)
	flagSet.DurationVar(&o.pollInterval, "poll-interval", 0, "pause between polls, overriding poll.interval")
	flagSet.StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus /metrics on this address, overriding metrics.listen")
	flagSet.StringVar(&o.logLevel, "log-level", "", "debug, info, warn, or error, overriding log.level")
	flagSet.StringVar(&o.logFile, "log-file", "", "also write JSON log records to this file, overriding log.file")
	flagSet.BoolVar(&o.headless, "headless", false, "stream updates as JSON lines instead of running the TUI")
	flagSet.BoolVar(&o.showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("liveview", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.addFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return usageErrorf("%w", err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if opts.showVersion {
		version.Print("liveview")
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return usageErrorf("unexpected argument: %s", rest[0])
	}

	cfg, err := loadConfig(flagSet, &opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	headless := opts.headless || !isTerminal(stdout)

	logs, err := newLogging(cfg.Log, stderr, headless)
	if err != nil {
		return err
	}
	defer logs.close()
	logger := logs.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(registry)

	if cfg.Metrics.Listen != "" {
		address, shutdown, err := serveMetrics(cfg.Metrics.Listen, registry, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		logger.Info("serving metrics", "address", address.String())
	}

	viewer, err := newClient(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer viewer.close()

	logger.Info("liveview starting",
		"version", version.Info(),
		"base_url", cfg.Service.BaseURL,
		"headless", headless,
	)
	if headless {
		return runHeadless(ctx, cfg, viewer, stdout, logger)
	}
	return runTUI(ctx, cfg, viewer, logs.tui, logger)
}

// loadConfig reads the file named by --config, else the one named by
// the environment, else starts from defaults, then applies flag
// overrides and validates the result.
func loadConfig(flagSet *pflag.FlagSet, opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, usageErrorf("%w", err)
	}

	if flagSet.Changed("base-url") {
		cfg.Service.BaseURL = opts.baseURL
	}
	if flagSet.Changed("username") {
		cfg.Auth.Username = opts.username
	}
	if flagSet.Changed("password-file") {
		cfg.Auth.PasswordFile = opts.passwordFile
	}
	if flagSet.Changed("poll-interval") {
		cfg.Poll.Interval = opts.pollInterval
	}
	if flagSet.Changed("metrics-listen") {
		cfg.Metrics.Listen = opts.metricsListen
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flagSet.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, usageErrorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `liveview: live viewer for the imaging service.

Signs in, polls the latest image and analysis result, and shows each
validated frame with its metrics and a short history. Runs a terminal
UI when stdout is a terminal and streams JSON lines otherwise.

Configuration comes from --config or $%s (YAML, or JSON with
comments for .json/.jsonc files). Flags override file values.

Usage:
  liveview [flags]

Examples:
  # Interactive viewer against a local service
  liveview --base-url http://localhost:8000

  # Stream updates for a dashboard, exposing metrics
  liveview -c liveview.yaml --headless --metrics-listen 127.0.0.1:9464

Exit status:
  0  stopped by the user
  1  unexpected failure
  2  invalid flags or configuration
  3  session expired (headless mode)

Flags:
`, config.EnvVar)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
