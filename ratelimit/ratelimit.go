// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit provides the per-client request limiter for the chat
// endpoint.
//
// The limiter is a fixed window: the first request from a key opens a
// window, requests within it count against the limit, and the counter
// resets when the window elapses. This is deliberately not a token bucket;
// clients are told "N requests per minute" and the reset boundary is part
// of that contract.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow records one request against key and reports whether it is
	// within the limit.
	Allow(key string) bool
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow is a mutex-guarded fixed-window counter map.
//
// A background janitor drops windows that have lapsed so the map does not
// grow with every IP ever seen. All methods are safe for concurrent use.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window

	limit  int
	period time.Duration

	// now is injectable for tests.
	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow creates a limiter allowing limit requests per period per
// key. Call StartJanitor to enable cleanup of idle windows.
func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	return &FixedWindow{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// NewFixedWindowWithClock creates a limiter with an injected clock.
func NewFixedWindowWithClock(limit int, period time.Duration, now func() time.Time) *FixedWindow {
	fw := NewFixedWindow(limit, period)
	fw.now = now
	return fw
}

func (f *FixedWindow) Allow(key string) bool {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[key]
	if !ok || now.After(w.resetAt) || now.Equal(w.resetAt) {
		f.windows[key] = &window{count: 1, resetAt: now.Add(f.period)}
		return true
	}

	w.count++
	return w.count <= f.limit
}

// StartJanitor begins periodic removal of lapsed windows. Stop halts it.
func (f *FixedWindow) StartJanitor(interval time.Duration) {
	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
				f.sweep()
			}
		}
	}()
}

// Stop halts the janitor and waits for it to exit. Only valid after
// StartJanitor.
func (f *FixedWindow) Stop() {
	close(f.stopCh)
	<-f.doneCh
}

func (f *FixedWindow) sweep() {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, w := range f.windows {
		if now.After(w.resetAt) {
			delete(f.windows, key)
		}
	}
}

// size reports the tracked key count, for tests.
func (f *FixedWindow) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}
