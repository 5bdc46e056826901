// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensordefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/schedule"
)

func TestByNameFallsBackToSinglePhase(t *testing.T) {
	cat := ByName("nonsense")
	assert.Equal(t, VariantSinglePhase, cat.Name)
	assert.NotNil(t, cat.Lookup("rated_power"))
}

func TestThreePhaseVariantsAddPerLegSensors(t *testing.T) {
	lv := ByName(VariantThreePhase)
	assert.NotNil(t, lv.Lookup("grid_l1_power"))
	assert.NotNil(t, lv.Lookup("grid_l2_voltage"))

	hv := ByName(VariantThreePhaseHV)
	assert.NotNil(t, hv.Lookup("battery_1_soc"))
	assert.NotNil(t, hv.Lookup("battery_1_voltage"))
}

func TestResolveExpandsGroupsAndAll(t *testing.T) {
	cat := singlePhase()
	ids := Resolve([]string{"battery"}, cat)
	assert.Contains(t, ids, "battery_type")
	assert.Contains(t, ids, "battery_resistance")

	all := Resolve([]string{"all"}, cat)
	assert.Equal(t, len(cat.All()), len(all))
}

func TestResolveDropsUnknownNamesSilently(t *testing.T) {
	cat := singlePhase()
	ids := Resolve([]string{"not_a_real_sensor", "battery_soc"}, cat)
	assert.Equal(t, []string{"battery_soc"}, ids)
}

func TestBuildOptionsPullsInDependenciesHidden(t *testing.T) {
	cat := singlePhase()
	table := schedule.NewTable([]*schedule.Schedule{{Pattern: "*", ReadEvery: 5, ReportEvery: 5}})

	opts, graph, cycles := BuildOptions(cat, []string{"export_limit_power"}, nil, true, table)
	require.Empty(t, cycles)

	require.Contains(t, opts, "export_limit_power")
	assert.False(t, opts["export_limit_power"].Hidden)

	require.Contains(t, opts, "rated_power")
	assert.True(t, opts["rated_power"].Startup)

	affected := graph.Affects("rated_power")
	assert.Contains(t, affected, "export_limit_power")
}

func TestBuildOptionsAlwaysIncludesStartupSensors(t *testing.T) {
	cat := singlePhase()
	table := schedule.NewTable(nil)
	opts, _, _ := BuildOptions(cat, []string{"battery_soc"}, nil, false, table)
	require.Contains(t, opts, "rated_power")
	require.Contains(t, opts, "serial")
	assert.True(t, opts["serial"].Hidden)
}
