// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package planner groups the sensors due in a tick into a minimal-cardinality
// set of register spans, each a single protocol read transaction, honoring a
// batch-size ceiling and an allowed-gap budget between addresses coalesced
// into the same span.
package planner

import "sort"

// Span is a contiguous register-address window issued as one read.
type Span struct {
	Start uint16
	Count uint16
}

// End returns the address one past the last register in the span.
func (s Span) End() uint16 { return s.Start + s.Count }

// contains reports whether addr falls within the span.
func (s Span) contains(addr uint16) bool {
	return addr >= s.Start && addr < s.End()
}

// Addressed is anything the planner can place into a span: a stable id and
// the ordered tuple of register addresses it needs.
type Addressed interface {
	ID() string
	Addresses() []uint16
}

// Plan unions the address words of every due sensor, walks them in sorted
// order coalescing into spans bounded by batchSize and allowGap, then maps
// each sensor back onto every span that covers part of its address tuple
// (a sensor whose tuple was fragmented by batchSize gets more than one span,
// and the planner does not re-merge those since batchSize forbids a single
// wider span).
func Plan(due []Addressed, batchSize, allowGap uint16) ([]Span, map[string][]Span) {
	if batchSize == 0 {
		batchSize = 1
	}

	addrSet := map[uint16]struct{}{}
	for _, s := range due {
		for _, a := range s.Addresses() {
			addrSet[a] = struct{}{}
		}
	}
	addrs := make([]uint16, 0, len(addrSet))
	for a := range addrSet {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var spans []Span
	i := 0
	for i < len(addrs) {
		start := addrs[i]
		last := addrs[i]
		j := i + 1
		for j < len(addrs) {
			gap := addrs[j] - last
			count := addrs[j] - start + 1
			if gap > allowGap+1 || count > batchSize {
				break
			}
			last = addrs[j]
			j++
		}
		spans = append(spans, Span{Start: start, Count: last - start + 1})
		i = j
	}

	bySensor := make(map[string][]Span, len(due))
	for _, s := range due {
		covering := coveringSpans(spans, s.Addresses(), batchSize)
		bySensor[s.ID()] = covering
	}
	return spans, bySensor
}

// coveringSpans returns the spans that together cover every address in
// want. Most sensors are fully covered by a single emitted span; a sensor
// whose own tuple straddles a span boundary is mapped to every emitted span
// it touches, and no single wider span is synthesized for it. Since Plan
// builds spans from the union of every due sensor's addresses, each address
// in want already lies in an emitted span when called from Plan.
func coveringSpans(spans []Span, want []uint16, batchSize uint16) []Span {
	var result []Span
	seen := map[Span]bool{}
	remaining := map[uint16]bool{}
	for _, a := range want {
		remaining[a] = true
	}

	for _, sp := range spans {
		hit := false
		for _, a := range want {
			if sp.contains(a) {
				hit = true
				delete(remaining, a)
			}
		}
		if hit && !seen[sp] {
			seen[sp] = true
			result = append(result, sp)
		}
	}

	if len(remaining) == 0 {
		return result
	}

	// Addresses not covered by any of the given spans: build contiguous
	// spans (each within batchSize) over just those addresses.
	leftover := make([]uint16, 0, len(remaining))
	for a := range remaining {
		leftover = append(leftover, a)
	}
	sort.Slice(leftover, func(i, j int) bool { return leftover[i] < leftover[j] })
	i := 0
	for i < len(leftover) {
		start := leftover[i]
		last := leftover[i]
		j := i + 1
		for j < len(leftover) && leftover[j]-start+1 <= batchSize && leftover[j]-last <= 1 {
			last = leftover[j]
			j++
		}
		result = append(result, Span{Start: start, Count: last - start + 1})
		i = j
	}
	return result
}
