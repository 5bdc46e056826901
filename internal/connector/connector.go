// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package connector implements the transport layer shared by one or more
// inverter agents: read-holding / write-holding / write-multiple over
// Modbus TCP, Modbus RTU (serial), or a UDP-encapsulated vendor dongle
// protocol, each enforcing a single in-flight request and a per-call
// timeout. Retry is always the caller's responsibility.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
)

// Connector is the contract every transport variant implements. unitID
// multiplexes multiple inverters sharing one physical connection (the Modbus
// slave/unit id; the UDP dongle variant carries it in the PDU and keys the
// envelope by the dongle serial number given at construction).
type Connector interface {
	Name() string
	Read(ctx context.Context, unitID byte, start, count uint16) ([]uint16, error)
	WriteHolding(ctx context.Context, unitID byte, addr, value uint16) error
	WriteMultiple(ctx context.Context, unitID byte, addr uint16, values []uint16) error
	Close() error
}

// Stats are the per-connector counters surfaced by the status server.
type Stats struct {
	Reads    int64
	Writes   int64
	Timeouts int64
	Errors   int64
}

// serialAccess enforces "at most one in-flight request per connector" via a
// plain mutex, grounded in the chint-mqtt-modbus-bridge gateway's
// commandMutex-guarded SendCommandAndWaitForResponse. Every concrete
// transport embeds it.
type serialAccess struct {
	mu      sync.Mutex
	timeout time.Duration
	stats   Stats
	statsMu sync.Mutex
}

func (s *serialAccess) withDeadline(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.timeout)
	if dl, ok := ctx.Deadline(); !ok || dl.After(deadline) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.bumpTimeout()
		return ctx.Err()
	}
}

func (s *serialAccess) bumpTimeout() {
	s.statsMu.Lock()
	s.stats.Timeouts++
	s.statsMu.Unlock()
}

func (s *serialAccess) bumpRead(err error)  { s.bump(&s.stats.Reads, err) }
func (s *serialAccess) bumpWrite(err error) { s.bump(&s.stats.Writes, err) }

func (s *serialAccess) bump(counter *int64, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	*counter++
	if err != nil {
		s.stats.Errors++
	}
}

// Snapshot returns a copy of the connector's current counters.
func (s *serialAccess) Snapshot() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func wrapTimeout(connName, op string, err error) error {
	if err == context.DeadlineExceeded {
		return bridgeerr.NewConnError(bridgeerr.ConnTimeout, connName, op, err)
	}
	return bridgeerr.NewConnError(bridgeerr.ConnClosed, connName, op, err)
}
