// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
)

// Sensor is the tagged-variant interface every concrete sensor shape
// implements. Decode dispatches on the concrete type rather than on a type
// tag field, avoiding the inheritance hierarchy the design notes warn
// against.
type Sensor interface {
	ID() string
	Addresses() []uint16
	Decode(regs []uint16, deps DepLookup) (Value, bool)
}

// DependentSensor is implemented by sensors whose decode or validation needs
// another sensor's current value (e.g. a writable number scaled by a rated
// power sensor, or a zero-export flag that toggles a power sensor's sign).
type DependentSensor interface {
	Dependencies() []string
}

// WritableSensor is implemented by sensors that accept a command value and
// turn it into a register-write payload.
type WritableSensor interface {
	Sensor
	Encode(value Value, deps DepLookup) ([]uint16, error)
}

// DepLookup resolves another sensor's current value by id. Supplied by the
// inverter agent's state map at decode/encode time.
type DepLookup func(sensorID string) (Value, bool)

// widthMismatch is returned whenever a sensor receives a register tuple of
// the wrong length; the caller logs the failed decode and leaves the
// sensor's prior value untouched.
func widthMismatch(_ string, _, _ int) (Value, bool) {
	return Absent, false
}

// --- Scalar ---------------------------------------------------------------

// Scalar is a single- or multi-register numeric sensor. A negative Factor
// selects signed two's-complement decode over the combined register width;
// AbsValue additionally folds the result to its absolute value, optionally
// gated by a dependency sensor (zero_export_absolute-style coupling).
type Scalar struct {
	IDName      string
	Addrs       []uint16
	Factor      float64
	Mask        uint32
	AbsValue    bool
	AbsValueDep string // if set, AbsValue only applies when this sensor is truthy
}

func (s *Scalar) ID() string          { return s.IDName }
func (s *Scalar) Addresses() []uint16 { return s.Addrs }

func (s *Scalar) Dependencies() []string {
	if s.AbsValueDep == "" {
		return nil
	}
	return []string{s.AbsValueDep}
}

func (s *Scalar) Decode(regs []uint16, deps DepLookup) (Value, bool) {
	if len(regs) != len(s.Addrs) {
		return widthMismatch(s.IDName, len(regs), len(s.Addrs))
	}
	v := decodeNumeric(regs, s.Mask, s.Factor)
	if s.applyAbs(deps) {
		v = absValue(v)
	}
	return v, true
}

func (s *Scalar) applyAbs(deps DepLookup) bool {
	if !s.AbsValue {
		return false
	}
	if s.AbsValueDep == "" {
		return true
	}
	if deps == nil {
		return false
	}
	gate, ok := deps(s.AbsValueDep)
	if !ok {
		return false
	}
	b, _ := gate.Float64()
	return b != 0
}

func absValue(v Value) Value {
	switch v.Kind {
	case KindInt:
		if v.Int < 0 {
			v.Int = -v.Int
		}
	case KindFloat:
		if v.Float < 0 {
			v.Float = -v.Float
		}
	}
	return v
}

// --- Math ------------------------------------------------------------------

// Math is a weighted sum over several single-register fields: value =
// Σ weight_i * reg_i.
type Math struct {
	IDName  string
	Addrs   []uint16
	Weights []float64
}

func (m *Math) ID() string          { return m.IDName }
func (m *Math) Addresses() []uint16 { return m.Addrs }

func (m *Math) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(m.Addrs) || len(regs) != len(m.Weights) {
		return widthMismatch(m.IDName, len(regs), len(m.Addrs))
	}
	var sum float64
	for i, r := range regs {
		sum += float64(r) * m.Weights[i]
	}
	if i, ok := normalizeNumeric(sum); ok {
		return IntValue(i), true
	}
	return FloatValue(sum), true
}

// --- Temperature -------------------------------------------------------------

// Temperature is a scalar decode followed by a fixed offset subtraction
// (most inverter temperature registers are reported with a zero-Kelvin-ish
// bias baked in by the device firmware).
type Temperature struct {
	IDName string
	Addrs  []uint16
	Factor float64
	Offset float64
}

func (t *Temperature) ID() string          { return t.IDName }
func (t *Temperature) Addresses() []uint16 { return t.Addrs }

func (t *Temperature) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(t.Addrs) {
		return widthMismatch(t.IDName, len(regs), len(t.Addrs))
	}
	v := decodeNumeric(regs, 0, t.Factor)
	f, _ := v.Float64()
	f -= t.Offset
	if i, ok := normalizeNumeric(f); ok {
		return IntValue(i), true
	}
	return FloatValue(f), true
}

// --- Binary ------------------------------------------------------------------

// Binary reduces a single register to a boolean using either an "off"
// sentinel (anything else is true) or an explicit "on" match (anything else
// is false).
type Binary struct {
	IDName  string
	Addrs   []uint16
	OffWhen *uint16
	OnWhen  *uint16
}

func (b *Binary) ID() string          { return b.IDName }
func (b *Binary) Addresses() []uint16 { return b.Addrs }

func (b *Binary) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != 1 {
		return widthMismatch(b.IDName, len(regs), 1)
	}
	r := regs[0]
	switch {
	case b.OffWhen != nil:
		return BoolValue(r != *b.OffWhen), true
	case b.OnWhen != nil:
		return BoolValue(r == *b.OnWhen), true
	default:
		return BoolValue(r != 0), true
	}
}

// --- Enum / text -------------------------------------------------------------

// Enum maps the combined register integer to a label. Unmatched values
// surface as "unknown <n>" rather than failing the decode.
type Enum struct {
	IDName string
	Addrs  []uint16
	Labels map[int64]string
}

func (e *Enum) ID() string          { return e.IDName }
func (e *Enum) Addresses() []uint16 { return e.Addrs }

func (e *Enum) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(e.Addrs) {
		return widthMismatch(e.IDName, len(regs), len(e.Addrs))
	}
	n := int64(combineWords(regs))
	if label, ok := e.Labels[n]; ok {
		return StringValue(label), true
	}
	return StringValue(fmt.Sprintf("unknown %d", n)), true
}

// --- Fault bitmap ------------------------------------------------------------

// FaultBitmap iterates every bit of the register tuple and emits the
// comma-joined labels of set bits found in the table. Labels are keyed by
// word*16 + (1<<bit), matching sensors.py's off + (1<<bit) convention, not
// by the bit's plain position.
type FaultBitmap struct {
	IDName string
	Addrs  []uint16
	Labels map[int]string
}

func (f *FaultBitmap) ID() string          { return f.IDName }
func (f *FaultBitmap) Addresses() []uint16 { return f.Addrs }

func (f *FaultBitmap) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(f.Addrs) {
		return widthMismatch(f.IDName, len(regs), len(f.Addrs))
	}
	var active []string
	for word, r := range regs {
		for bit := 0; bit < 16; bit++ {
			if r&(1<<uint(bit)) == 0 {
				continue
			}
			idx := word*16 + (1 << uint(bit))
			if label, ok := f.Labels[idx]; ok {
				active = append(active, label)
			}
		}
	}
	return StringValue(strings.Join(active, ", ")), true
}

// --- Serial ------------------------------------------------------------------

// Serial concatenates register bytes (high byte first within each word) as
// ASCII, trimming trailing NUL padding.
type Serial struct {
	IDName string
	Addrs  []uint16
}

func (s *Serial) ID() string          { return s.IDName }
func (s *Serial) Addresses() []uint16 { return s.Addrs }

func (s *Serial) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(s.Addrs) {
		return widthMismatch(s.IDName, len(regs), len(s.Addrs))
	}
	b := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		b = append(b, byte(r>>8), byte(r))
	}
	return StringValue(strings.TrimRight(string(b), "\x00")), true
}

// --- Writable scalar ---------------------------------------------------------

// WritableScalar is a Scalar with a [Min,Max] acceptance range enforced on
// encode.
type WritableScalar struct {
	Scalar
	Min, Max float64
}

func (w *WritableScalar) Encode(value Value, _ DepLookup) ([]uint16, error) {
	f, ok := value.Float64()
	if !ok {
		return nil, &bridgeerr.InvalidValue{SensorID: w.IDName, Value: value.String(), Reason: "not numeric"}
	}
	if f < w.Min || f > w.Max {
		return nil, &bridgeerr.InvalidValue{
			SensorID: w.IDName, Value: value.String(),
			Reason: fmt.Sprintf("out of range [%g,%g]", w.Min, w.Max),
		}
	}
	return encodeNumeric(f, w.Factor, len(w.Addrs)), nil
}

// --- Writable select ---------------------------------------------------------

// WritableSelect accepts only a value present in Allowed.
type WritableSelect struct {
	IDName  string
	Addrs   []uint16
	Allowed map[int64]string
}

func (w *WritableSelect) ID() string          { return w.IDName }
func (w *WritableSelect) Addresses() []uint16 { return w.Addrs }

func (w *WritableSelect) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(w.Addrs) {
		return widthMismatch(w.IDName, len(regs), len(w.Addrs))
	}
	n := int64(combineWords(regs))
	if label, ok := w.Allowed[n]; ok {
		return StringValue(label), true
	}
	return StringValue(fmt.Sprintf("unknown %d", n)), true
}

func (w *WritableSelect) Encode(value Value, _ DepLookup) ([]uint16, error) {
	for n, label := range w.Allowed {
		if label == value.Str {
			return []uint16{uint16(n)}, nil
		}
	}
	return nil, &bridgeerr.InvalidValue{SensorID: w.IDName, Value: value.String(), Reason: "not in allowed set"}
}

// --- Writable time -----------------------------------------------------------

// WritableTime packs an HH:MM time-of-day into a single register as
// hour*100+minute, the inverter program-slot convention.
type WritableTime struct {
	IDName string
	Addrs  []uint16
}

func (w *WritableTime) ID() string          { return w.IDName }
func (w *WritableTime) Addresses() []uint16 { return w.Addrs }

func (w *WritableTime) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != 1 {
		return widthMismatch(w.IDName, len(regs), 1)
	}
	n := regs[0]
	return StringValue(fmt.Sprintf("%02d:%02d", n/100, n%100)), true
}

func (w *WritableTime) Encode(value Value, _ DepLookup) ([]uint16, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(value.Str, "%d:%d", &hh, &mm); err != nil {
		return nil, &bridgeerr.InvalidValue{SensorID: w.IDName, Value: value.String(), Reason: "expected HH:MM"}
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return nil, &bridgeerr.InvalidValue{SensorID: w.IDName, Value: value.String(), Reason: "out of range"}
	}
	return []uint16{uint16(hh*100 + mm)}, nil
}

// --- Writable number ---------------------------------------------------------

// WritableNumber is a writable scalar whose effective Max is scaled by a
// dependency sensor's current value (e.g. a percentage-of-rated-power
// setting whose absolute ceiling tracks the inverter's rated-power sensor).
type WritableNumber struct {
	IDName     string
	Addrs      []uint16
	Factor     float64
	Min        float64
	MaxBase    float64
	ScaleByDep string // dependency sensor id; Max = MaxBase * dep value, when set
}

func (w *WritableNumber) ID() string          { return w.IDName }
func (w *WritableNumber) Addresses() []uint16 { return w.Addrs }
func (w *WritableNumber) Dependencies() []string {
	if w.ScaleByDep == "" {
		return nil
	}
	return []string{w.ScaleByDep}
}

func (w *WritableNumber) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != len(w.Addrs) {
		return widthMismatch(w.IDName, len(regs), len(w.Addrs))
	}
	return decodeNumeric(regs, 0, w.Factor), true
}

func (w *WritableNumber) effectiveMax(deps DepLookup) float64 {
	if w.ScaleByDep == "" || deps == nil {
		return w.MaxBase
	}
	dv, ok := deps(w.ScaleByDep)
	if !ok {
		return w.MaxBase
	}
	scale, ok := dv.Float64()
	if !ok || scale == 0 {
		return w.MaxBase
	}
	return w.MaxBase * scale
}

func (w *WritableNumber) Encode(value Value, deps DepLookup) ([]uint16, error) {
	f, ok := value.Float64()
	if !ok {
		return nil, &bridgeerr.InvalidValue{SensorID: w.IDName, Value: value.String(), Reason: "not numeric"}
	}
	max := w.effectiveMax(deps)
	if f < w.Min || f > max {
		return nil, &bridgeerr.InvalidValue{
			SensorID: w.IDName, Value: value.String(),
			Reason: fmt.Sprintf("out of range [%g,%g]", w.Min, max),
		}
	}
	return encodeNumeric(f, w.Factor, len(w.Addrs)), nil
}

// --- Writable program slot ----------------------------------------------------

// WritableProgramSlot is a small fixed-width integer selecting one of
// SlotCount program slots (e.g. battery charge/discharge schedule slots).
type WritableProgramSlot struct {
	IDName    string
	Addrs     []uint16
	SlotCount int
}

func (w *WritableProgramSlot) ID() string          { return w.IDName }
func (w *WritableProgramSlot) Addresses() []uint16 { return w.Addrs }

func (w *WritableProgramSlot) Decode(regs []uint16, _ DepLookup) (Value, bool) {
	if len(regs) != 1 {
		return widthMismatch(w.IDName, len(regs), 1)
	}
	return IntValue(int64(regs[0])), true
}

func (w *WritableProgramSlot) Encode(value Value, _ DepLookup) ([]uint16, error) {
	n, ok := value.Float64()
	if !ok || n < 0 || int(n) >= w.SlotCount {
		return nil, &bridgeerr.InvalidValue{
			SensorID: w.IDName, Value: value.String(),
			Reason: fmt.Sprintf("slot out of range [0,%d)", w.SlotCount),
		}
	}
	return []uint16{uint16(n)}, nil
}
