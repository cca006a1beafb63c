// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/teracyte/liveview/lib/auth"
	"github.com/teracyte/liveview/lib/config"
	"github.com/teracyte/liveview/lib/gateway"
	"github.com/teracyte/liveview/lib/poll"
	"github.com/teracyte/liveview/lib/telemetry"
)

// client is the token manager, gateway, and poll engine wired
// together for one process.
type client struct {
	manager *auth.Manager
	engine  *poll.Engine
}

func newClient(cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*client, error) {
	httpClient := &http.Client{Timeout: cfg.Service.RequestTimeout}

	manager, err := auth.NewManager(auth.Config{
		BaseURL:        cfg.Service.BaseURL,
		HTTPClient:     httpClient,
		ExpiryMargin:   cfg.Auth.ExpiryMargin,
		RefreshTimeout: cfg.Auth.RefreshTimeout,
		Logger:         logger.With("component", "auth"),
		Metrics:        metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token manager: %w", err)
	}

	fetcher, err := gateway.New(gateway.Config{
		BaseURL:    cfg.Service.BaseURL,
		HTTPClient: httpClient,
		Tokens:     manager,
		Retry: gateway.RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay,
			MaxJitter: cfg.Retry.MaxJitter,
		},
		Logger:  logger.With("component", "gateway"),
		Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	engine, err := poll.New(poll.Config{
		Fetcher:           fetcher,
		Credentials:       manager,
		Interval:          cfg.Poll.Interval,
		ManualTimeout:     cfg.Poll.ManualTimeout,
		HistoryCapacity:   cfg.Poll.HistoryCapacity,
		RecheckUnresolved: cfg.Poll.RecheckUnresolved,
		Logger:            logger.With("component", "poll"),
		Metrics:           metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating poll engine: %w", err)
	}

	return &client{manager: manager, engine: engine}, nil
}

// close stops polling and zeroes the session tokens.
func (c *client) close() {
	c.engine.Dispose()
	c.manager.Close()
}
