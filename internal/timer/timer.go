// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package timer drives the single monotonic 1Hz tick source and dispatches
// due callbacks across all inverter agents with bounded concurrency,
// grounded in the teacher's time.NewTicker-based producer loops
// (internal/app/imu_producer.go, internal/app/gps_producer.go), generalized
// from one flat loop per producer into a shared multi-callback dispatcher.
package timer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Callback is invoked when its Every period divides the tick counter. Async
// callbacks run concurrently (bounded by the loop's concurrency cap); sync
// callbacks run inline on the loop goroutine, matching spec section 4.7's
// "sync callbacks run on the loop thread."
type Callback struct {
	Name  string
	Every int // seconds; due when t % Every == 0
	Async bool
	Run   func(ctx context.Context, t int64) error
}

// Loop is the shared tick dispatcher. Concurrency is capped at
// maxConcurrent simultaneous async callback invocations, by default the
// number of registered inverter agents.
type Loop struct {
	mu            sync.RWMutex
	callbacks     []Callback
	interval      time.Duration
	maxConcurrent int
	onError       func(name string, err error)
}

// New builds a Loop ticking at interval (1 second in production) with
// maxConcurrent async callback slots.
func New(interval time.Duration, maxConcurrent int, onError func(name string, err error)) *Loop {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Loop{interval: interval, maxConcurrent: maxConcurrent, onError: onError}
}

// Register adds a callback. Safe to call before Run; registering after Run
// has started takes effect from the next tick.
func (l *Loop) Register(cb Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, cb)
}

// Run ticks until ctx is cancelled. Cancellation is cooperative: in-flight
// async callbacks are given until their own deadline (enforced by the
// connector layer, not here) before Run returns — the loop itself only
// stops dispatching new ticks once ctx.Done() fires.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var t int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t++
			l.dispatch(ctx, t)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, t int64) {
	l.mu.RLock()
	due := make([]Callback, 0, len(l.callbacks))
	for _, cb := range l.callbacks {
		if cb.Every > 0 && t%int64(cb.Every) == 0 {
			due = append(due, cb)
		}
	}
	l.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.maxConcurrent)

	for _, cb := range due {
		cb := cb
		if !cb.Async {
			if err := cb.Run(gctx, t); err != nil && l.onError != nil {
				l.onError(cb.Name, err)
			}
			continue
		}
		g.Go(func() error {
			if err := cb.Run(gctx, t); err != nil && l.onError != nil {
				l.onError(cb.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
