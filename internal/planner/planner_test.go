// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSensor struct {
	id    string
	addrs []uint16
}

func (f fakeSensor) ID() string          { return f.id }
func (f fakeSensor) Addresses() []uint16 { return f.addrs }

func dueOf(addrs ...uint16) []Addressed {
	due := make([]Addressed, len(addrs))
	for i, a := range addrs {
		due[i] = fakeSensor{id: "s", addrs: []uint16{a}}
	}
	return due
}

func TestPlannerCoalesce(t *testing.T) {
	spans, _ := Plan(dueOf(10, 11, 14, 50), 10, 3)
	assert.Equal(t, []Span{{Start: 10, Count: 5}, {Start: 50, Count: 1}}, spans)
}

func TestPlannerSplitByBatch(t *testing.T) {
	addrs := make([]uint16, 25)
	for i := range addrs {
		addrs[i] = uint16(i)
	}
	spans, _ := Plan(dueOf(addrs...), 20, 0)
	assert.Equal(t, []Span{{Start: 0, Count: 20}, {Start: 20, Count: 5}}, spans)
}

func TestPlannerEverySensorCoveredNoSpanExceedsBatch(t *testing.T) {
	spans, bySensor := Plan(dueOf(1, 2, 3, 100, 101), 10, 2)
	for _, sp := range spans {
		assert.LessOrEqual(t, sp.Count, uint16(10))
	}
	for id, covering := range bySensor {
		assert.NotEmpty(t, covering, "sensor %s must have a covering span", id)
	}
}

func TestPlannerBatchSizeOneForcesOneSpanPerAddress(t *testing.T) {
	spans, _ := Plan(dueOf(1, 2, 3), 1, 10)
	assert.Len(t, spans, 3)
	for _, sp := range spans {
		assert.Equal(t, uint16(1), sp.Count)
	}
}

func TestPlannerAllowGapZeroDisablesCoalescingAcrossGaps(t *testing.T) {
	spans, _ := Plan(dueOf(1, 2, 5, 6), 10, 0)
	assert.Equal(t, []Span{{Start: 1, Count: 2}, {Start: 5, Count: 2}}, spans)
}
