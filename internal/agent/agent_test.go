// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/logger"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/schedule"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

type fakeConn struct {
	regs map[uint16]uint16
}

func (f *fakeConn) Name() string { return "fake" }
func (f *fakeConn) Read(_ context.Context, _ byte, start, count uint16) ([]uint16, error) {
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.regs[start+uint16(i)]
	}
	return out, nil
}
func (f *fakeConn) WriteHolding(_ context.Context, _ byte, addr, value uint16) error {
	f.regs[addr] = value
	return nil
}
func (f *fakeConn) WriteMultiple(_ context.Context, _ byte, addr uint16, values []uint16) error {
	for i, v := range values {
		f.regs[addr+uint16(i)] = v
	}
	return nil
}
func (f *fakeConn) Close() error { return nil }

type fakePublisher struct {
	discoveryCount int
	published      map[string]sensors.Value
}

func newFakePublisher() *fakePublisher { return &fakePublisher{published: map[string]sensors.Value{}} }

func (p *fakePublisher) PublishDiscovery(context.Context, string, string, *SensorOption) error {
	p.discoveryCount++
	return nil
}
func (p *fakePublisher) PublishState(_ context.Context, _, sensorID string, v sensors.Value, _ time.Time) error {
	p.published[sensorID] = v
	return nil
}
func (p *fakePublisher) PublishAvailability(context.Context, string, bool) error { return nil }

func newTestAgent(conn *fakeConn, pub *fakePublisher) *Agent {
	power := &sensors.Scalar{IDName: "grid_power", Addrs: []uint16{10}, Factor: 1}
	opts := map[string]*SensorOption{
		"grid_power": {Sensor: power, Schedule: &schedule.Schedule{ChangeBy: 5}},
	}
	g, _ := sensors.NewGraph([]sensors.Sensor{power})
	a := New("inv1", 0, 1, "conn0", opts, g, logger.New(logger.LevelSilent))
	a.conn = conn
	a.publisher = pub
	a.setState(StateRunning)
	return a
}

func TestTickReadsDecodesAndPublishesOnChangeBy(t *testing.T) {
	conn := &fakeConn{regs: map[uint16]uint16{10: 100}}
	pub := newFakePublisher()
	a := newTestAgent(conn, pub)

	require.NoError(t, a.Tick(context.Background(), 1, []string{"grid_power"}, []string{"grid_power"}))
	assert.Equal(t, int64(100), pub.published["grid_power"].Int)

	conn.regs[10] = 104
	require.NoError(t, a.Tick(context.Background(), 2, []string{"grid_power"}, []string{"grid_power"}))
	assert.Equal(t, int64(100), pub.published["grid_power"].Int, "change_by=5 must not publish for a delta of 4")

	conn.regs[10] = 105
	require.NoError(t, a.Tick(context.Background(), 3, []string{"grid_power"}, []string{"grid_power"}))
	assert.Equal(t, int64(105), pub.published["grid_power"].Int, "delta of 5 must publish")
}

func TestHandleCommandWritesAndRereads(t *testing.T) {
	conn := &fakeConn{regs: map[uint16]uint16{20: 0}}
	pub := newFakePublisher()
	writable := &sensors.WritableScalar{
		Scalar: sensors.Scalar{IDName: "soc_limit", Addrs: []uint16{20}, Factor: 1},
		Min:    0, Max: 100,
	}
	g, _ := sensors.NewGraph([]sensors.Sensor{writable})
	a := New("inv1", 0, 1, "conn0", map[string]*SensorOption{"soc_limit": {Sensor: writable}}, g, logger.New(logger.LevelSilent))
	a.conn = conn
	a.publisher = pub
	a.setState(StateRunning)

	err := a.HandleCommand(context.Background(), "soc_limit", sensors.IntValue(42))
	require.NoError(t, err)
	assert.Equal(t, uint16(42), conn.regs[20])

	snap := a.Snapshot()
	assert.Equal(t, int64(42), snap["soc_limit"].Int)
}

func TestHandleCommandRejectsOutOfRange(t *testing.T) {
	conn := &fakeConn{regs: map[uint16]uint16{}}
	writable := &sensors.WritableScalar{
		Scalar: sensors.Scalar{IDName: "soc_limit", Addrs: []uint16{20}, Factor: 1},
		Min:    0, Max: 100,
	}
	g, _ := sensors.NewGraph([]sensors.Sensor{writable})
	a := New("inv1", 0, 1, "conn0", map[string]*SensorOption{"soc_limit": {Sensor: writable}}, g, logger.New(logger.LevelSilent))
	a.conn = conn
	a.setState(StateRunning)

	err := a.HandleCommand(context.Background(), "soc_limit", sensors.IntValue(150))
	assert.Error(t, err)
}
