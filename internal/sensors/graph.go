// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "sync"

// Graph holds the dependency edges between sensors (who reads whom to
// decode or validate) and their inverse, "affects" (who must be
// re-evaluated when a sensor's value changes). Edges are computed once at
// init from each Sensor's DependentSensor.Dependencies(), then the graph is
// read-only for the process lifetime.
type Graph struct {
	mu        sync.RWMutex
	dependsOn map[string][]string
	affects   map[string][]string
}

// NewGraph builds the dependency graph for a set of sensors, computing the
// inverse "affects" edges and dropping cyclic back-edges per the codec's
// cycle policy: a detected cycle is logged by the caller (Graph itself
// returns the dropped edges so the caller can log them) and the offending
// edge is not added, leaving the sensor still decodable with stale
// dependency data.
func NewGraph(all []Sensor) (*Graph, []CycleEdge) {
	g := &Graph{
		dependsOn: make(map[string][]string),
		affects:   make(map[string][]string),
	}

	raw := make(map[string][]string, len(all))
	for _, s := range all {
		if d, ok := s.(DependentSensor); ok {
			raw[s.ID()] = d.Dependencies()
		}
	}

	var dropped []CycleEdge
	for id, deps := range raw {
		for _, dep := range deps {
			if pathExists(g.dependsOn, dep, id, map[string]bool{}) {
				dropped = append(dropped, CycleEdge{From: id, To: dep})
				continue
			}
			g.dependsOn[id] = append(g.dependsOn[id], dep)
			g.affects[dep] = append(g.affects[dep], id)
		}
	}
	return g, dropped
}

// CycleEdge names a dependency edge dropped because it would close a cycle.
type CycleEdge struct {
	From, To string
}

// pathExists reports whether a directed path from -> to exists in raw,
// using an explicit visited set and an iterative stack rather than
// recursion, per the design notes' preference for iterative DFS.
func pathExists(raw map[string][]string, from, to string, visited map[string]bool) bool {
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, raw[n]...)
	}
	return false
}

// Dependencies returns the sensors id depends on.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependsOn[id]
}

// Affects returns the sensors that must be re-evaluated (discovery info
// re-queued) when id's value changes.
func (g *Graph) Affects(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.affects[id]
}
