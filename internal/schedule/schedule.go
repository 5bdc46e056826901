// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package schedule resolves each sensor id to exactly one Schedule: a named
// policy controlling how often it is read, how often (and under what
// predicate) a read is reported onward.
package schedule

import "strings"

// Schedule is a read/report policy. ChangeAny, ChangeBy and ChangePercent
// are the reporting predicates evaluated by the inverter agent each report
// tick; at most a combination of them is meaningful, but all are carried
// independently so the agent can evaluate them in the fixed precedence
// order of spec section 4.6.
type Schedule struct {
	Key           string
	Pattern       string
	ReadEvery     int
	ReportEvery   int
	ChangeAny     bool
	ChangeBy      float64
	ChangePercent float64
}

// Table resolves sensor ids to schedules by pattern. The * glob is anchored
// and patterns are precompiled (split into prefix/suffix) at construction,
// per the design notes.
type Table struct {
	exact    map[string]*Schedule
	prefixes []*Schedule // Pattern "foo*"
	suffixes []*Schedule // Pattern "*foo"
	def      *Schedule
}

// NewTable builds a resolution table from a configuration-ordered list of
// schedules. The last schedule with no pattern (or pattern "*") found is
// used as the default. Configuration order is preserved for prefix/suffix
// tie-breaking, matching "ties broken by configuration order."
func NewTable(all []*Schedule) *Table {
	t := &Table{exact: make(map[string]*Schedule)}
	for _, s := range all {
		switch {
		case s.Pattern == "" || s.Pattern == "*":
			t.def = s
		case strings.HasSuffix(s.Pattern, "*") && strings.HasPrefix(s.Pattern, "*"):
			// "*foo*" is stored as a prefix pattern: only its trailing '*'
			// is a wildcard, so the leading '*' is compared literally and it
			// matches only ids that begin with "*foo".
			t.prefixes = append(t.prefixes, s)
		case strings.HasSuffix(s.Pattern, "*"):
			t.prefixes = append(t.prefixes, s)
		case strings.HasPrefix(s.Pattern, "*"):
			t.suffixes = append(t.suffixes, s)
		default:
			t.exact[s.Pattern] = s
		}
	}
	return t
}

// Resolve returns the schedule matching id: exact-name match wins over
// prefix* wins over *suffix wins over the default.
func (t *Table) Resolve(id string) *Schedule {
	if s, ok := t.exact[id]; ok {
		return s
	}
	for _, s := range t.prefixes {
		if strings.HasPrefix(id, strings.TrimSuffix(s.Pattern, "*")) {
			return s
		}
	}
	for _, s := range t.suffixes {
		if strings.HasSuffix(id, strings.TrimPrefix(s.Pattern, "*")) {
			return s
		}
	}
	return t.def
}

// ShouldPublish evaluates a schedule's reporting predicate against the last
// published and current values, in the fixed precedence order: change_any,
// then change_by, then change_percent, then unconditional-at-period.
// last_published == 0 under change_percent always publishes.
func (s *Schedule) ShouldPublish(lastPublished, current float64, hasLastPublished bool) bool {
	switch {
	case s.ChangeAny:
		return !hasLastPublished || current != lastPublished
	case s.ChangeBy > 0:
		return !hasLastPublished || absf(current-lastPublished) >= s.ChangeBy
	case s.ChangePercent > 0:
		if !hasLastPublished || lastPublished == 0 {
			return true
		}
		return absf(current-lastPublished)*100 >= s.ChangePercent*absf(lastPublished)
	default:
		return true
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
