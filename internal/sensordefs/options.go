// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensordefs

import (
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/agent"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/schedule"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

// AlwaysStartup are the two sensors original_source's SensorOptions always
// adds to its startup set regardless of configuration (rated_power is
// needed to scale dependency-coupled writable numbers, serial identifies
// the device in discovery payloads).
var AlwaysStartup = []string{"rated_power", "serial"}

// BuildOptions resolves a configured sensor selection into the per-inverter
// SensorOption map an Agent runs against, plus the dependency Graph
// propagation draws from. Mirrors original_source's
// SensorOptions._add_sensor_with_deps: visible sensors pull in their
// dependencies transitively as hidden entries, and the whole closure is
// handed to the graph so affects-propagation sees every edge.
func BuildOptions(cat *Catalog, visibleIDs, firstInverterOnlyIDs []string, isFirstInverter bool, table *schedule.Table) (map[string]*agent.SensorOption, *sensors.Graph, []sensors.CycleEdge) {
	visible := map[string]bool{}
	for _, id := range visibleIDs {
		visible[id] = true
	}
	if isFirstInverter {
		for _, id := range firstInverterOnlyIDs {
			visible[id] = true
		}
	}

	included := map[string]bool{}
	for _, id := range AlwaysStartup {
		included[id] = true
	}
	for id := range visible {
		included[id] = true
	}

	// Transitive dependency closure, path-limited so a cyclic dependency
	// chain can't loop forever walking the same edge back and forth.
	var walk func(id string, path map[string]bool)
	walk = func(id string, path map[string]bool) {
		if path[id] {
			return
		}
		path[id] = true
		included[id] = true
		s := cat.Lookup(id)
		if s == nil {
			return
		}
		if dep, ok := s.(sensors.DependentSensor); ok {
			for _, depID := range dep.Dependencies() {
				if cat.Lookup(depID) != nil {
					walk(depID, path)
				}
			}
		}
	}
	for id := range included {
		walk(id, map[string]bool{})
	}

	opts := make(map[string]*agent.SensorOption, len(included))
	all := make([]sensors.Sensor, 0, len(included))
	for id := range included {
		s := cat.Lookup(id)
		if s == nil {
			continue
		}
		all = append(all, s)
		opts[id] = &agent.SensorOption{
			Sensor:            s,
			Hidden:            !visible[id],
			FirstInverterOnly: containsStr(firstInverterOnlyIDs, id),
			Startup:           containsStr(AlwaysStartup, id),
			Schedule:          table.Resolve(id),
		}
	}

	graph, cycles := sensors.NewGraph(all)
	return opts, graph, cycles
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
