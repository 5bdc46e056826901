// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePrecedence(t *testing.T) {
	def := &Schedule{Key: "default", Pattern: "*", ReadEvery: 60}
	prefix := &Schedule{Key: "power_prefix", Pattern: "power_*", ReadEvery: 5}
	exact := &Schedule{Key: "exact", Pattern: "power_grid", ReadEvery: 1}
	tbl := NewTable([]*Schedule{def, prefix, exact})

	assert.Equal(t, exact, tbl.Resolve("power_grid"))
	assert.Equal(t, prefix, tbl.Resolve("power_load"))
	assert.Equal(t, def, tbl.Resolve("battery_soc"))
}

func TestChangeByPredicate(t *testing.T) {
	s := &Schedule{ChangeBy: 5}
	assert.False(t, s.ShouldPublish(100, 104, true))
	assert.True(t, s.ShouldPublish(100, 105, true))
}

func TestChangePercentZeroLastPublishedAlwaysPublishes(t *testing.T) {
	s := &Schedule{ChangePercent: 10}
	assert.True(t, s.ShouldPublish(0, 0.001, true))
}

func TestEveryResolvesExactlyOneSchedule(t *testing.T) {
	def := &Schedule{Key: "default", Pattern: "*"}
	tbl := NewTable([]*Schedule{def})
	for _, id := range []string{"a", "b_c", "zzz"} {
		assert.NotNil(t, tbl.Resolve(id))
	}
}
