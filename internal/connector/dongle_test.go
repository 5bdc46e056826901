// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDongleFrameRoundTrip(t *testing.T) {
	c := &DongleConnector{name: "dongle0", serial: 12345678}
	pdu := []byte{0x01, 0x03, 0x00, 0x10, 0x00, 0x02}
	frame := c.encodeFrame(pdu)
	decoded, err := c.decodeFrame(frame)
	assert.NoError(t, err)
	assert.Equal(t, pdu, decoded)
}

func TestDongleFrameRejectsSerialMismatch(t *testing.T) {
	c := &DongleConnector{name: "dongle0", serial: 1}
	other := &DongleConnector{name: "dongle0", serial: 2}
	frame := other.encodeFrame([]byte{0x01, 0x03})
	_, err := c.decodeFrame(frame)
	assert.Error(t, err)
}
