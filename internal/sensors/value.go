// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors implements the register codec and sensor model: decoding
// raw Modbus register tuples into typed values, encoding desired values back
// into register payloads for writable sensors, and tracking the dependency
// graph between sensors.
package sensors

import (
	"encoding/json"
	"fmt"
)

// Kind tags the concrete type carried by a Value.
type Kind int

const (
	// KindAbsent marks a value that could not be decoded (e.g. a width
	// mismatch). An enum lookup miss is not absent: it decodes to the string
	// "unknown <n>".
	KindAbsent Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

// Value is the decoded reading (or encode input) for a sensor. Exactly one
// of Int, Float, Bool, Str is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// Absent is the zero Value, returned whenever a decode cannot produce a
// reading.
var Absent = Value{Kind: KindAbsent}

func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func BoolValue(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// IsAbsent reports whether the value carries no reading.
func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }

// Float64 returns the value coerced to float64, for predicate arithmetic
// over change_by/change_percent. Non-numeric kinds return 0, false.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Equal reports whether two values carry the same kind and payload, used by
// the change_any reporting predicate.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	default:
		return true // two Absent values compare equal
	}
}

// UnmarshalJSON decodes a bare JSON scalar (number, bool, or string) as sent
// on a command topic's payload into the matching Value kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case float64:
		if i, ok := normalizeNumeric(t); ok {
			*v = IntValue(i)
		} else {
			*v = FloatValue(t)
		}
	case bool:
		*v = BoolValue(t)
	case string:
		*v = StringValue(t)
	default:
		*v = Absent
	}
	return nil
}

// MarshalJSON emits the bare scalar payload a command acknowledgement or
// cached-value response carries.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return json.Marshal(nil)
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindString:
		return v.Str
	default:
		return "<absent>"
	}
}
