// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package statusserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/agent"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/connector"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/logger"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

type fakeAgent struct {
	state   agent.State
	ticks   int64
	fails   int64
	values  map[string]sensors.Value
}

func (f *fakeAgent) State() agent.State                      { return f.state }
func (f *fakeAgent) TickCount() int64                         { return f.ticks }
func (f *fakeAgent) FailureCount() int64                      { return f.fails }
func (f *fakeAgent) Snapshot() map[string]sensors.Value        { return f.values }

func TestHandleStatusReturnsEveryInverter(t *testing.T) {
	agents := map[string]AgentView{
		"inv1": &fakeAgent{state: agent.StateRunning, ticks: 42},
	}
	s := New(agents, connector.NewManager(nil), logger.New(logger.LevelSilent))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []StatusEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "running", entries[0].State)
	assert.Equal(t, int64(42), entries[0].TickCount)
}

func TestHandleSensorsUnknownInverter404(t *testing.T) {
	s := New(map[string]AgentView{}, connector.NewManager(nil), logger.New(logger.LevelSilent))
	req := httptest.NewRequest(http.MethodGet, "/api/sensors?inverter=nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
