// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package connector

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/goburrow/modbus"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
)

// TCPConnector is a Modbus TCP connector. It keeps a single long-lived
// socket and reconnects lazily on the first failure after an error, rather
// than eagerly on every call.
type TCPConnector struct {
	serialAccess
	name    string
	addr    string
	handler *modbus.TCPClientHandler
	client  modbus.Client
	failed  bool
}

// NewTCPConnector dials addr (host:port) with the given per-call timeout.
// Grounded in the sigenergy Modbus client's NewTCPClient construction.
func NewTCPConnector(name, addr string, timeout time.Duration) (*TCPConnector, error) {
	c := &TCPConnector{name: name, addr: addr}
	c.timeout = timeout
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *TCPConnector) connect() error {
	handler := modbus.NewTCPClientHandler(c.addr)
	handler.Timeout = c.timeout
	if err := handler.Connect(); err != nil {
		return bridgeerr.NewConnError(bridgeerr.ConnRefused, c.name, "connect", err)
	}
	c.handler = handler
	c.client = modbus.NewClient(handler)
	c.failed = false
	return nil
}

func (c *TCPConnector) Name() string { return c.name }

func (c *TCPConnector) Read(ctx context.Context, unitID byte, start, count uint16) ([]uint16, error) {
	c.handler.SlaveId = unitID
	var regs []uint16
	err := c.withDeadline(ctx, func() error {
		if c.failed {
			if rerr := c.connect(); rerr != nil {
				return rerr
			}
		}
		b, rerr := c.client.ReadHoldingRegisters(start, count)
		if rerr != nil {
			c.failed = true
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "read", rerr)
		}
		regs = bytesToRegisters(b)
		return nil
	})
	c.bumpRead(err)
	if err == context.DeadlineExceeded {
		return nil, wrapTimeout(c.name, "read", err)
	}
	return regs, err
}

func (c *TCPConnector) WriteHolding(ctx context.Context, unitID byte, addr, value uint16) error {
	c.handler.SlaveId = unitID
	err := c.withDeadline(ctx, func() error {
		if c.failed {
			if rerr := c.connect(); rerr != nil {
				return rerr
			}
		}
		_, werr := c.client.WriteSingleRegister(addr, value)
		if werr != nil {
			c.failed = true
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "write_holding", werr)
		}
		return nil
	})
	c.bumpWrite(err)
	if err == context.DeadlineExceeded {
		return wrapTimeout(c.name, "write_holding", err)
	}
	return err
}

func (c *TCPConnector) WriteMultiple(ctx context.Context, unitID byte, addr uint16, values []uint16) error {
	c.handler.SlaveId = unitID
	err := c.withDeadline(ctx, func() error {
		if c.failed {
			if rerr := c.connect(); rerr != nil {
				return rerr
			}
		}
		_, werr := c.client.WriteMultipleRegisters(addr, uint16(len(values)), registersToBytes(values))
		if werr != nil {
			c.failed = true
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "write_multiple", werr)
		}
		return nil
	})
	c.bumpWrite(err)
	if err == context.DeadlineExceeded {
		return wrapTimeout(c.name, "write_multiple", err)
	}
	return err
}

func (c *TCPConnector) Close() error { return c.handler.Close() }

// RTUConnector is a Modbus RTU connector over a local serial device. Framing
// errors surface as ConnError::Frame rather than being retried internally.
type RTUConnector struct {
	serialAccess
	name    string
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// SerialParams mirrors the fields the teacher populated on
// jacobsa/go-serial's OpenOptions, translated onto goburrow/modbus's RTU
// handler, which owns the port directly.
type SerialParams struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits int
}

// NewRTUConnector opens device with the given serial parameters and
// per-call timeout.
func NewRTUConnector(name string, p SerialParams, timeout time.Duration) (*RTUConnector, error) {
	handler := modbus.NewRTUClientHandler(p.Device)
	handler.BaudRate = p.BaudRate
	handler.DataBits = p.DataBits
	handler.Parity = p.Parity
	handler.StopBits = p.StopBits
	handler.Timeout = timeout
	if err := handler.Connect(); err != nil {
		return nil, bridgeerr.NewConnError(bridgeerr.ConnRefused, name, "connect", err)
	}
	c := &RTUConnector{name: name, handler: handler, client: modbus.NewClient(handler)}
	c.timeout = timeout
	return c, nil
}

func (c *RTUConnector) Name() string { return c.name }

func (c *RTUConnector) Read(ctx context.Context, unitID byte, start, count uint16) ([]uint16, error) {
	c.handler.SlaveId = unitID
	var regs []uint16
	err := c.withDeadline(ctx, func() error {
		b, rerr := c.client.ReadHoldingRegisters(start, count)
		if rerr != nil {
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "read", rerr)
		}
		regs = bytesToRegisters(b)
		return nil
	})
	c.bumpRead(err)
	if err == context.DeadlineExceeded {
		return nil, wrapTimeout(c.name, "read", err)
	}
	return regs, err
}

func (c *RTUConnector) WriteHolding(ctx context.Context, unitID byte, addr, value uint16) error {
	c.handler.SlaveId = unitID
	err := c.withDeadline(ctx, func() error {
		_, werr := c.client.WriteSingleRegister(addr, value)
		if werr != nil {
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "write_holding", werr)
		}
		return nil
	})
	c.bumpWrite(err)
	if err == context.DeadlineExceeded {
		return wrapTimeout(c.name, "write_holding", err)
	}
	return err
}

func (c *RTUConnector) WriteMultiple(ctx context.Context, unitID byte, addr uint16, values []uint16) error {
	c.handler.SlaveId = unitID
	err := c.withDeadline(ctx, func() error {
		_, werr := c.client.WriteMultipleRegisters(addr, uint16(len(values)), registersToBytes(values))
		if werr != nil {
			return bridgeerr.NewConnError(bridgeerr.ConnFrame, c.name, "write_multiple", werr)
		}
		return nil
	})
	c.bumpWrite(err)
	if err == context.DeadlineExceeded {
		return wrapTimeout(c.name, "write_multiple", err)
	}
	return err
}

func (c *RTUConnector) Close() error { return c.handler.Close() }

func bytesToRegisters(b []byte) []uint16 {
	regs := make([]uint16, len(b)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return regs
}

func registersToBytes(regs []uint16) []byte {
	b := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(b[i*2:], r)
	}
	return b
}
