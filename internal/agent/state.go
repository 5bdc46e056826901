// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package agent implements the per-inverter state machine: scheduled reads,
// decode-and-apply to an in-memory state map, dependency propagation,
// reporting predicates, publish-event emission, and command ingress.
package agent

import "time"

// State is one node of the inverter agent's state machine (spec section 4.6).
type State int

const (
	StateInit State = iota
	StateConnecting
	StateDiscovering
	StateRunning
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateRunning:
		return "running"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// maxConsecutiveFailures is the Connecting-state escalation threshold to
// Fatal, per spec section 4.6's state table.
const maxConsecutiveFailures = 3

// fatalExitGraceSeconds is how long a Fatal agent waits before scheduling
// process exit, giving a supervisor time to observe the failure.
const fatalExitGraceSeconds = 30

// FatalExitGrace is the delay main schedules a process exit after, once any
// agent reaches the terminal Fatal state (spec section 4.6's "log and
// schedule process exit after 30s", section 7's FatalInverterError).
const FatalExitGrace = time.Duration(fatalExitGraceSeconds) * time.Second

// tickRetryLimit is how many times a read is retried within the same tick
// before the tick is abandoned, per spec section 4.6.
const tickRetryLimit = 2

// tickRetrySpacingMillis is the spacing between same-tick read retries.
const tickRetrySpacingMillis = 250
