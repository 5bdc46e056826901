// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package connector

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
)

// dongleMagic opens every envelope frame; it has no protocol meaning beyond
// letting a listener discard stray UDP traffic on the same port.
const dongleMagic uint16 = 0x5A5A

const (
	pduReadHolding     = 0x03
	pduWriteSingle     = 0x06
	pduWriteMultiple   = 0x10
	dongleHeaderLength = 2 + 8 + 2 // magic + serial + length
)

// DongleConnector multiplexes a Modbus PDU through a vendor UDP envelope
// keyed by an 8-byte big-endian dongle serial number, per spec section 6.
// No library in the reference pack implements this vendor framing, so it is
// a hand-rolled net.UDPConn reader/writer (see DESIGN.md).
type DongleConnector struct {
	serialAccess
	name   string
	serial uint64
	conn   *net.UDPConn
}

// NewDongleConnector dials addr (host:port) over UDP for the dongle
// identified by serialNumber.
func NewDongleConnector(name, addr string, serialNumber uint64, timeout time.Duration) (*DongleConnector, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, bridgeerr.NewConnError(bridgeerr.ConnRefused, name, "resolve", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, bridgeerr.NewConnError(bridgeerr.ConnRefused, name, "dial", err)
	}
	c := &DongleConnector{name: name, serial: serialNumber, conn: conn}
	c.timeout = timeout
	return c, nil
}

func (c *DongleConnector) Name() string { return c.name }

func (c *DongleConnector) roundTrip(ctx context.Context, pdu []byte) ([]byte, error) {
	var resp []byte
	err := c.withDeadline(ctx, func() error {
		frame := c.encodeFrame(pdu)
		if _, werr := c.conn.Write(frame); werr != nil {
			return bridgeerr.NewConnError(bridgeerr.ConnClosed, c.name, "dongle_write", werr)
		}
		buf := make([]byte, 512)
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		n, rerr := c.conn.Read(buf)
		if rerr != nil {
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "dongle_read", rerr)
		}
		pduResp, derr := c.decodeFrame(buf[:n])
		if derr != nil {
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "dongle_decode", derr)
		}
		resp = pduResp
		return nil
	})
	return resp, err
}

func (c *DongleConnector) encodeFrame(pdu []byte) []byte {
	frame := make([]byte, dongleHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], dongleMagic)
	binary.BigEndian.PutUint64(frame[2:10], c.serial)
	binary.BigEndian.PutUint16(frame[10:12], uint16(len(pdu)))
	copy(frame[dongleHeaderLength:], pdu)
	return frame
}

func (c *DongleConnector) decodeFrame(b []byte) ([]byte, error) {
	if len(b) < dongleHeaderLength {
		return nil, fmt.Errorf("short dongle frame: %d bytes", len(b))
	}
	if binary.BigEndian.Uint16(b[0:2]) != dongleMagic {
		return nil, fmt.Errorf("bad dongle magic")
	}
	serial := binary.BigEndian.Uint64(b[2:10])
	if serial != c.serial {
		return nil, fmt.Errorf("dongle serial mismatch: got %d, want %d", serial, c.serial)
	}
	n := int(binary.BigEndian.Uint16(b[10:12]))
	if dongleHeaderLength+n > len(b) {
		return nil, fmt.Errorf("dongle frame length %d exceeds buffer", n)
	}
	return b[dongleHeaderLength : dongleHeaderLength+n], nil
}

func (c *DongleConnector) Read(ctx context.Context, unitID byte, start, count uint16) ([]uint16, error) {
	pdu := make([]byte, 6)
	pdu[0] = unitID
	pdu[1] = pduReadHolding
	binary.BigEndian.PutUint16(pdu[2:4], start)
	binary.BigEndian.PutUint16(pdu[4:6], count)
	resp, err := c.roundTrip(ctx, pdu)
	c.bumpRead(err)
	if err == context.DeadlineExceeded {
		return nil, wrapTimeout(c.name, "read", err)
	}
	if err != nil {
		return nil, err
	}
	if len(resp) < 3 {
		return nil, bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "read", fmt.Errorf("short response"))
	}
	byteCount := int(resp[2])
	return bytesToRegisters(resp[3 : 3+byteCount]), nil
}

func (c *DongleConnector) WriteHolding(ctx context.Context, unitID byte, addr, value uint16) error {
	pdu := make([]byte, 6)
	pdu[0] = unitID
	pdu[1] = pduWriteSingle
	binary.BigEndian.PutUint16(pdu[2:4], addr)
	binary.BigEndian.PutUint16(pdu[4:6], value)
	_, err := c.roundTrip(ctx, pdu)
	c.bumpWrite(err)
	if err == context.DeadlineExceeded {
		return wrapTimeout(c.name, "write_holding", err)
	}
	return err
}

func (c *DongleConnector) WriteMultiple(ctx context.Context, unitID byte, addr uint16, values []uint16) error {
	payload := registersToBytes(values)
	pdu := make([]byte, 7+len(payload))
	pdu[0] = unitID
	pdu[1] = pduWriteMultiple
	binary.BigEndian.PutUint16(pdu[2:4], addr)
	binary.BigEndian.PutUint16(pdu[4:6], uint16(len(values)))
	pdu[6] = byte(len(payload))
	copy(pdu[7:], payload)
	_, err := c.roundTrip(ctx, pdu)
	c.bumpWrite(err)
	if err == context.DeadlineExceeded {
		return wrapTimeout(c.name, "write_multiple", err)
	}
	return err
}

func (c *DongleConnector) Close() error { return c.conn.Close() }
