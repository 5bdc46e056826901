// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package statusserver is the read-only HTTP diagnostics mirror
// supplemented from original_source's web_gui/server.go (get_status,
// get_sensor_values handlers) and grounded in the teacher's
// internal/app/web.go REST-endpoint-over-mutex-guarded-state idiom. It is
// not the full configuration GUI named in spec section 6, which stays a
// collaborator boundary; this only exposes current state for observability.
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/agent"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/connector"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/logger"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

// AgentView is the subset of *agent.Agent the status server reads. Declared
// as an interface so tests can supply a fake instead of a live agent.
type AgentView interface {
	State() agent.State
	TickCount() int64
	FailureCount() int64
	Snapshot() map[string]sensors.Value
}

// StatusEntry is one inverter's row in the /api/status response.
type StatusEntry struct {
	HAPrefix      string `json:"ha_prefix"`
	State         string `json:"state"`
	TickCount     int64  `json:"tick_count"`
	FailureCount  int64  `json:"failure_count"`
}

// Server serves the read-only diagnostics endpoints.
type Server struct {
	agents  map[string]AgentView
	conns   *connector.Manager
	log     *logger.Logger
	upgrade websocket.Upgrader
}

// New builds a Server over the given named agents and connector manager.
func New(agents map[string]AgentView, conns *connector.Manager, log *logger.Logger) *Server {
	return &Server{
		agents: agents,
		conns:  conns,
		log:    log,
		upgrade: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Handler returns the mux to mount at the status server's listen address.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sensors", s.handleSensors)
	mux.HandleFunc("/api/connectors", s.handleConnectors)
	mux.HandleFunc("/api/status/ws", s.handleStatusWS)
	return mux
}

func (s *Server) statusSnapshot() []StatusEntry {
	entries := make([]StatusEntry, 0, len(s.agents))
	for haPrefix, a := range s.agents {
		entries = append(entries, StatusEntry{
			HAPrefix:     haPrefix,
			State:        a.State().String(),
			TickCount:    a.TickCount(),
			FailureCount: a.FailureCount(),
		})
	}
	return entries
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.statusSnapshot())
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	haPrefix := r.URL.Query().Get("inverter")
	a, ok := s.agents[haPrefix]
	if !ok {
		http.Error(w, "no such inverter", http.StatusNotFound)
		return
	}
	writeJSON(w, a.Snapshot())
}

// handleConnectors exposes each shared connector's read/write/timeout/error
// counters, the per-call timeout accounting spec section 4.5 requires.
func (s *Server) handleConnectors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.conns.Snapshot())
}

// handleStatusWS pushes the status snapshot every second, grounded in the
// teacher's register_debug_handler.go websocket read/write loop, simplified
// to a one-way push (this surface is read-only, unlike the register debug
// console's command dispatch).
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("statusserver: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.drainClientClose(conn, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.statusSnapshot()); err != nil {
				return
			}
		}
	}
}

// drainClientClose reads (and discards) until the client disconnects, the
// gorilla/websocket idiom for noticing a close frame on a write-only loop.
func (s *Server) drainClientClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
