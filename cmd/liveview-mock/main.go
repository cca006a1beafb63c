// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// liveview-mock serves an imitation imaging service for running the
// viewer without the real one. It issues expiring bearer tokens,
// rotates generated PNG frames on a fixed interval, and can be told to
// lag results, emit the sentinel label, or fail chosen endpoints.
//
// Faults use the form PATH=STATUS[xCOUNT] and may be repeated:
//
//	liveview-mock --fault /api/results=503x2 --fault /api/image=401x1
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/teracyte/liveview/lib/mockservice"
	"github.com/teracyte/liveview/lib/process"
	"github.com/teracyte/liveview/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		listen      string
		logLevel    string
		faults      []string
		showVersion bool
		config      mockservice.Config
	)
	flagSet := pflag.NewFlagSet("liveview-mock", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:8000", "address to serve on")
	flagSet.StringVar(&config.Username, "username", mockservice.DefaultUsername, "accepted username")
	flagSet.StringVar(&config.Password, "password", mockservice.DefaultPassword, "accepted password")
	flagSet.DurationVar(&config.TokenLifetime, "token-lifetime", mockservice.DefaultTokenLifetime, "lifetime of issued access tokens")
	flagSet.DurationVar(&config.FrameInterval, "frame-interval", mockservice.DefaultFrameInterval, "time between captured frames")
	flagSet.DurationVar(&config.ResultLag, "result-lag", time.Second, "delay before a frame's analysis becomes the latest result")
	flagSet.IntVar(&config.SentinelEvery, "sentinel-every", 5, "label every n-th frame UNKNOWN_CLASSIFICATION (0 disables)")
	flagSet.IntVar(&config.Width, "width", 64, "generated image width")
	flagSet.IntVar(&config.Height, "height", 48, "generated image height")
	flagSet.StringArrayVar(&faults, "fault", nil, "fail PATH with STATUS, optionally COUNT times: PATH=STATUS[xCOUNT]")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("liveview-mock")
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	config.Logger = logger

	mock, err := mockservice.New(config)
	if err != nil {
		return err
	}
	for _, text := range faults {
		fault, err := mockservice.ParseFault(text)
		if err != nil {
			return err
		}
		mock.InjectFault(fault)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	server := &http.Server{Handler: mock, ReadHeaderTimeout: 5 * time.Second}
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(listener)
	}()

	logger.Info("mock imaging service running",
		"address", listener.Addr().String(),
		"username", config.Username,
		"frame_interval", config.FrameInterval,
		"faults", len(faults),
	)

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("shutting down")

	shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
