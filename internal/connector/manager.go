// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package connector

import (
	"fmt"
	"sync"
	"time"
)

// Spec describes one configured connector, the union of the fields a
// config-file connectors[] entry may carry.
type Spec struct {
	Name         string
	Type         string // "tcp", "serial", "solarman" (UDP dongle)
	Host         string
	Port         int
	Device       string
	BaudRate     int
	DongleSerial uint64
	Timeout      time.Duration
}

// Manager lazily builds and caches one Connector per configured name, so
// multiple inverter agents sharing a connector name get the same instance
// instead of opening independent transports to the same physical link.
// Grounded in original_source driver.py's ConnectorManager.get_connector.
type Manager struct {
	mu    sync.Mutex
	specs map[string]Spec
	live  map[string]Connector
}

// NewManager builds a manager from the configured connector specs.
func NewManager(specs []Spec) *Manager {
	m := &Manager{specs: make(map[string]Spec, len(specs)), live: make(map[string]Connector)}
	for _, s := range specs {
		m.specs[s.Name] = s
	}
	return m
}

// Get returns the live connector for name, opening it on first use.
func (m *Manager) Get(name string) (Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.live[name]; ok {
		return c, nil
	}
	spec, ok := m.specs[name]
	if !ok {
		return nil, fmt.Errorf("unknown connector %q", name)
	}
	c, err := open(spec)
	if err != nil {
		return nil, err
	}
	m.live[name] = c
	return c, nil
}

func open(s Spec) (Connector, error) {
	switch s.Type {
	case "tcp":
		return NewTCPConnector(s.Name, fmt.Sprintf("%s:%d", s.Host, s.Port), s.Timeout)
	case "serial":
		return NewRTUConnector(s.Name, SerialParams{
			Device: s.Device, BaudRate: s.BaudRate, DataBits: 8, Parity: "N", StopBits: 1,
		}, s.Timeout)
	case "solarman":
		return NewDongleConnector(s.Name, fmt.Sprintf("%s:%d", s.Host, s.Port), s.DongleSerial, s.Timeout)
	default:
		return nil, fmt.Errorf("unknown connector type %q for %q", s.Type, s.Name)
	}
}

// CloseAll shuts down every opened connector, used during process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.live {
		_ = c.Close()
	}
}

// Snapshot returns per-connector Stats for the status server, keyed by name.
func (m *Manager) Snapshot() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.live))
	for name, c := range m.live {
		if sn, ok := c.(interface{ Snapshot() Stats }); ok {
			out[name] = sn.Snapshot()
		}
	}
	return out
}
