// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeDependent struct {
	id   string
	deps []string
}

func (f *fakeDependent) ID() string          { return f.id }
func (f *fakeDependent) Addresses() []uint16 { return nil }
func (f *fakeDependent) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	return Absent, false
}
func (f *fakeDependent) Dependencies() []string { return f.deps }

func TestGraphAffectsIsInverseOfDependsOn(t *testing.T) {
	a := &fakeDependent{id: "a", deps: []string{"b"}}
	b := &fakeDependent{id: "b"}
	g, dropped := NewGraph([]Sensor{a, b})
	assert.Empty(t, dropped)
	assert.ElementsMatch(t, []string{"b"}, g.Dependencies("a"))
	assert.ElementsMatch(t, []string{"a"}, g.Affects("b"))
}

func TestGraphCycleIsDroppedNotFatal(t *testing.T) {
	a := &fakeDependent{id: "a", deps: []string{"b"}}
	b := &fakeDependent{id: "b", deps: []string{"a"}}
	g, dropped := NewGraph([]Sensor{a, b})
	assert.Len(t, dropped, 1)
	// Both sensors remain present in the graph, just with one edge missing.
	total := len(g.Dependencies("a")) + len(g.Dependencies("b"))
	assert.Equal(t, 1, total)
}
