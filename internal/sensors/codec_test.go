// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignedDecode(t *testing.T) {
	s := &Scalar{IDName: "grid_power", Addrs: []uint16{0x0010}, Factor: -0.1}
	v, ok := s.Decode([]uint16{0xFFFE}, nil)
	assert.True(t, ok)
	f, _ := v.Float64()
	assert.InDelta(t, -0.2, f, 1e-9)
}

func TestMultiWordUnsigned(t *testing.T) {
	s := &Scalar{IDName: "energy_total", Addrs: []uint16{0x0020, 0x0021}, Factor: 1}
	v, ok := s.Decode([]uint16{0x0001, 0x0002}, nil)
	assert.True(t, ok)
	assert.Equal(t, int64(131073), v.Int)
}

func TestFaultBitmapCrossesWords(t *testing.T) {
	f := &FaultBitmap{
		IDName: "fault",
		Addrs:  []uint16{0x0030, 0x0031},
		Labels: map[int]string{2: "F02 X", 17: "F17 Y"},
	}
	v, ok := f.Decode([]uint16{0x0002, 0x0001}, nil)
	assert.True(t, ok)
	assert.Equal(t, "F02 X, F17 Y", v.Str)
}

func TestSignedDecodePositiveHighBitIsNegative(t *testing.T) {
	s := &Scalar{IDName: "any", Addrs: []uint16{0x0001}, Factor: -1}
	v, _ := s.Decode([]uint16{0x8000}, nil)
	assert.Less(t, v.Int, int64(0))
}

func TestWritableScalarRoundTrip(t *testing.T) {
	w := &WritableScalar{
		Scalar: Scalar{IDName: "prog_soc", Addrs: []uint16{0x0040}, Factor: 1},
		Min:    0, Max: 100,
	}
	regs, err := w.Encode(IntValue(57), nil)
	assert.NoError(t, err)
	v, ok := w.Decode(regs, nil)
	assert.True(t, ok)
	assert.Equal(t, int64(57), v.Int)
}

func TestWritableScalarOutOfRange(t *testing.T) {
	w := &WritableScalar{
		Scalar: Scalar{IDName: "prog_soc", Addrs: []uint16{0x0040}, Factor: 1},
		Min:    0, Max: 100,
	}
	_, err := w.Encode(IntValue(150), nil)
	assert.Error(t, err)
}

func TestScalarWidthMismatchIsAbsent(t *testing.T) {
	s := &Scalar{IDName: "x", Addrs: []uint16{1, 2}, Factor: 1}
	v, ok := s.Decode([]uint16{1}, nil)
	assert.False(t, ok)
	assert.True(t, v.IsAbsent())
}
