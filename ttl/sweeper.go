// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ttl removes expired sessions in the background.
//
// Sessions are minted by the external auth service with an absolute expiry;
// this service only reads them. Expired rows are purged lazily on access and
// swept here periodically so tokens that are never presented again still
// disappear.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aeckhq/tutorchat/storage"
)

// SweepFunc deletes everything expired as of now and reports how many rows
// went. Injectable so tests can observe sweeps without a real store.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

// SweeperConfig holds configuration for the background sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Default: 10 minutes.
	Interval time.Duration

	// SweepTimeout bounds one sweep. Default: 30 seconds.
	SweepTimeout time.Duration
}

// DefaultSweeperConfig returns production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:     10 * time.Minute,
		SweepTimeout: 30 * time.Second,
	}
}

// Sweeper periodically deletes expired sessions. Uses the ticker + done
// channel pattern for graceful shutdown.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Only one sweep loop
// runs at a time.
type Sweeper struct {
	sweep  SweepFunc
	config SweeperConfig

	// now is injectable for tests.
	now func() time.Time

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper over the session store.
func NewSweeper(sessions storage.SessionStore, config SweeperConfig) *Sweeper {
	return NewSweeperWithFunc(sessions.DeleteExpired, config)
}

// NewSweeperWithFunc creates a sweeper with an injected sweep function.
func NewSweeperWithFunc(sweep SweepFunc, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = DefaultSweeperConfig().SweepTimeout
	}
	return &Sweeper{
		sweep:  sweep,
		config: config,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep loop. An initial sweep runs immediately.
// Returns an error if the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("session sweeper starting", "interval", s.config.Interval.String())
	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to exit. Safe to call multiple times; does
// not interrupt an in-progress sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	slog.Info("session sweeper stopping")
	close(s.done)
	s.running = false
}

// RunNow performs one sweep immediately, outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
	defer cancel()
	return s.sweep(ctx, s.now())
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("session sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

// executeSweep runs one sweep. Failures log and leave the rows for the next
// cycle; expired sessions are also rejected at validation time, so a missed
// sweep costs disk, not security.
func (s *Sweeper) executeSweep(ctx context.Context) {
	deleted, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("session sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("session sweep completed", "deleted", deleted)
	} else {
		slog.Debug("session sweep completed (nothing expired)")
	}
}
