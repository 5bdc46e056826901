// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/connector"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/logger"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/planner"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/schedule"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

// SensorOption wraps a sensor with the metadata spec section 3 assigns it:
// visibility (hidden dependencies are read but never published), whether it
// is exposed only on the first configured inverter, whether it must be read
// once at startup regardless of its schedule, and its resolved schedule.
type SensorOption struct {
	Sensor            sensors.Sensor
	Hidden            bool
	FirstInverterOnly bool
	Startup           bool
	Schedule          *schedule.Schedule
}

// Publisher is the MQTT-facing collaborator an Agent drives. Concrete
// implementation lives in internal/mqttbridge; the agent only depends on
// this interface, so its tests use a fake.
type Publisher interface {
	PublishDiscovery(ctx context.Context, haPrefix, sensorID string, opt *SensorOption) error
	PublishState(ctx context.Context, haPrefix, sensorID string, v sensors.Value, ts time.Time) error
	PublishAvailability(ctx context.Context, haPrefix string, online bool) error
}

// Agent is the per-inverter task driving the read/decode/report pipeline.
type Agent struct {
	HAPrefix         string
	Index            int
	UnitID           byte
	ConnectorName    string
	ReadBatchSize    uint16
	ReadAllowGap     uint16
	SerialSensorID   string
	RatedPowerSensor string

	conn      connector.Connector
	publisher Publisher
	opts      map[string]*SensorOption
	graph     *sensors.Graph
	log       *logger.Logger

	mu              sync.RWMutex
	state           State
	values          map[string]sensors.Value
	lastPublished   map[string]sensors.Value
	lastPublishTime map[string]time.Time
	consecutiveFail int
	failureCounter  int64
	tickCount       int64
	discoveryQueue  map[string]struct{}
}

// New builds an Agent. opts must already carry each sensor's resolved
// Schedule (the schedule table is applied once by the options builder at
// startup, per spec section 4.2's "computed once at init").
func New(haPrefix string, index int, unitID byte, connectorName string, opts map[string]*SensorOption, graph *sensors.Graph, log *logger.Logger) *Agent {
	return &Agent{
		HAPrefix:        haPrefix,
		Index:           index,
		UnitID:          unitID,
		ConnectorName:   connectorName,
		ReadBatchSize:   20,
		ReadAllowGap:    2,
		opts:            opts,
		graph:           graph,
		log:             log,
		state:           StateInit,
		values:          make(map[string]sensors.Value),
		lastPublished:   make(map[string]sensors.Value),
		lastPublishTime: make(map[string]time.Time),
		discoveryQueue:  make(map[string]struct{}),
	}
}

// State returns the agent's current state-machine node.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Connect drives Init -> Connecting -> Discovering -> Running, per spec
// section 4.6's state table. conn and publisher are supplied by the caller
// (the connector Manager and the MQTT bridge) so Agent itself never builds
// a transport.
func (a *Agent) Connect(ctx context.Context, conn connector.Connector, publisher Publisher) error {
	a.conn = conn
	a.publisher = publisher
	a.setState(StateConnecting)

	for attempt := 0; attempt < maxConsecutiveFailures; attempt++ {
		if err := a.readStartupSensors(ctx); err != nil {
			a.log.Warn("inverter %s: connecting attempt %d/%d failed: %v", a.HAPrefix, attempt+1, maxConsecutiveFailures, err)
			continue
		}
		a.setState(StateDiscovering)
		if err := a.publishAllDiscovery(ctx); err != nil {
			a.log.Warn("inverter %s: discovery publish failed: %v", a.HAPrefix, err)
		}
		a.setState(StateRunning)
		return nil
	}

	a.setState(StateFatal)
	return &bridgeerr.FatalInverterError{HAPrefix: a.HAPrefix, Err: fmt.Errorf("%d consecutive connect failures", maxConsecutiveFailures)}
}

func (a *Agent) readStartupSensors(ctx context.Context) error {
	var due []planner.Addressed
	for id, opt := range a.opts {
		if opt.Startup || id == a.SerialSensorID || id == a.RatedPowerSensor {
			due = append(due, opt.Sensor)
		}
	}
	if len(due) == 0 {
		return nil
	}
	return a.readAndApply(ctx, due)
}

func (a *Agent) publishAllDiscovery(ctx context.Context) error {
	var firstErr error
	for id, opt := range a.opts {
		if opt.Hidden {
			continue
		}
		if opt.FirstInverterOnly && a.Index != 0 {
			continue
		}
		if err := a.publisher.PublishDiscovery(ctx, a.HAPrefix, id, opt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DueSensors computes the read_groups/report_groups modulo split spec
// section 4.3 describes: a sensor is due to read (resp. report) at tick t
// when its resolved schedule's ReadEvery (resp. ReportEvery) divides t.
// Hidden sensors never report directly, but still read (a dependency may
// need their value).
func (a *Agent) DueSensors(t int64) (dueRead, dueReport []string) {
	for id, opt := range a.opts {
		if opt.Schedule == nil {
			continue
		}
		if opt.Schedule.ReadEvery > 0 && t%int64(opt.Schedule.ReadEvery) == 0 {
			dueRead = append(dueRead, id)
		}
		if !opt.Hidden && opt.Schedule.ReportEvery > 0 && t%int64(opt.Schedule.ReportEvery) == 0 {
			dueReport = append(dueReport, id)
		}
	}
	return dueRead, dueReport
}

// Tick runs one pass of spec section 4.6's per-tick algorithm for tick t
// (seconds since start). due is the pre-computed set of sensors whose read
// period divides t (read_groups) and report period divides t
// (report_groups) — the caller (the agent's owner, wiring read_groups and
// report_groups per spec section 4.3) supplies both.
func (a *Agent) Tick(ctx context.Context, t int64, dueRead, dueReport []string) error {
	a.mu.Lock()
	a.tickCount = t
	a.mu.Unlock()

	if a.State() != StateRunning {
		return nil
	}

	if len(dueRead) > 0 {
		sensorsSet := make([]planner.Addressed, 0, len(dueRead))
		for _, id := range dueRead {
			if opt, ok := a.opts[id]; ok {
				sensorsSet = append(sensorsSet, opt.Sensor)
			}
		}
		if err := a.readWithRetry(ctx, sensorsSet); err != nil {
			a.handleTransientFailure(err)
		} else {
			a.handleSuccess()
		}
	}

	if len(dueReport) > 0 {
		a.evaluateReports(ctx, dueReport)
	}

	a.flushDiscoveryQueue(ctx)
	return nil
}

func (a *Agent) readWithRetry(ctx context.Context, due []planner.Addressed) error {
	var err error
	for attempt := 0; attempt <= tickRetryLimit; attempt++ {
		if err = a.readAndApply(ctx, due); err == nil {
			return nil
		}
		if attempt < tickRetryLimit {
			select {
			case <-time.After(tickRetrySpacingMillis * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func (a *Agent) readAndApply(ctx context.Context, due []planner.Addressed) error {
	spans, bySensor := planner.Plan(due, a.ReadBatchSize, a.ReadAllowGap)
	spanData := make(map[planner.Span][]uint16, len(spans))
	for _, span := range spans {
		regs, err := a.conn.Read(ctx, a.UnitID, span.Start, span.Count)
		if err != nil {
			return err
		}
		spanData[span] = regs
	}

	for _, s := range due {
		opt, ok := a.opts[s.ID()]
		if !ok {
			continue
		}
		regs, ok := extractForSensor(s, spanData, bySensor[s.ID()])
		if !ok {
			continue
		}
		v, ok := opt.Sensor.Decode(regs, a.depLookup)
		if !ok {
			a.log.Trace("inverter %s: decode failed for %s", a.HAPrefix, s.ID())
			continue
		}
		a.applyValue(s.ID(), v)
	}
	return nil
}

// extractForSensor reassembles a sensor's own register tuple out of the
// span(s) that cover it. A sensor's addresses are contiguous even when the
// planner needed more than one overlapping span to reach that coverage.
func extractForSensor(s planner.Addressed, spanData map[planner.Span][]uint16, covering []planner.Span) ([]uint16, bool) {
	addrs := s.Addresses()
	if len(addrs) == 0 {
		return nil, false
	}
	regs := make([]uint16, len(addrs))
	for i, addr := range addrs {
		found := false
		for _, span := range covering {
			if addr >= span.Start && addr < span.End() {
				data := spanData[span]
				idx := int(addr - span.Start)
				if idx < len(data) {
					regs[i] = data[idx]
					found = true
				}
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return regs, true
}

func (a *Agent) depLookup(sensorID string) (sensors.Value, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[sensorID]
	return v, ok
}

// applyValue stores a freshly decoded value and, if it differs from the
// prior stored value, propagates affected sensors into the discovery
// republish queue, per spec section 4.6 step 3 / section 4.8.
func (a *Agent) applyValue(id string, v sensors.Value) {
	a.mu.Lock()
	prev, hadPrev := a.values[id]
	changed := !hadPrev || !prev.Equal(v)
	a.values[id] = v
	if changed {
		for _, affected := range a.graph.Affects(id) {
			if opt, ok := a.opts[affected]; ok {
				if _, isWritable := opt.Sensor.(sensors.WritableSensor); isWritable {
					a.discoveryQueue[affected] = struct{}{}
				}
			}
		}
	}
	a.mu.Unlock()
}

func (a *Agent) flushDiscoveryQueue(ctx context.Context) {
	a.mu.Lock()
	if len(a.discoveryQueue) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.discoveryQueue
	a.discoveryQueue = make(map[string]struct{})
	a.mu.Unlock()

	for id := range pending {
		opt, ok := a.opts[id]
		if !ok {
			continue
		}
		if err := a.publisher.PublishDiscovery(ctx, a.HAPrefix, id, opt); err != nil {
			a.log.Warn("inverter %s: re-publish discovery for %s failed: %v", a.HAPrefix, id, err)
		}
	}
}

// evaluateReports runs each due sensor's schedule predicate against
// (last_published, current) and enqueues a publish on a true result, per
// spec section 4.6 step 4.
func (a *Agent) evaluateReports(ctx context.Context, dueReport []string) {
	for _, id := range dueReport {
		opt, ok := a.opts[id]
		if !ok || opt.Hidden {
			continue
		}
		a.mu.RLock()
		current, hasCurrent := a.values[id]
		lastPublished, hasLastPublished := a.lastPublished[id]
		a.mu.RUnlock()
		if !hasCurrent {
			continue
		}

		curF, curOK := current.Float64()
		lastF, _ := lastPublished.Float64()
		var shouldPublish bool
		if opt.Schedule != nil && curOK {
			shouldPublish = opt.Schedule.ShouldPublish(lastF, curF, hasLastPublished)
		} else {
			shouldPublish = !hasLastPublished || !lastPublished.Equal(current)
		}
		if !shouldPublish {
			continue
		}

		if err := a.publisher.PublishState(ctx, a.HAPrefix, id, current, time.Now()); err != nil {
			a.log.Warn("inverter %s: publish %s failed: %v", a.HAPrefix, id, err)
			continue
		}
		a.mu.Lock()
		a.lastPublished[id] = current
		a.lastPublishTime[id] = time.Now()
		a.mu.Unlock()
	}
}

func (a *Agent) handleSuccess() {
	a.mu.Lock()
	a.consecutiveFail = 0
	a.mu.Unlock()
}

// handleTransientFailure applies the Running-state rule: transient error ->
// stay Running (bounded retry already exhausted by readWithRetry);
// persistent error (maxConsecutiveFailures failed ticks in a row) -> demote
// back to Connecting, per spec section 4.6's state table. failureCounter
// only accumulates the cumulative total.
func (a *Agent) handleTransientFailure(err error) {
	a.mu.Lock()
	a.consecutiveFail++
	a.failureCounter++
	fail := a.consecutiveFail
	a.mu.Unlock()

	a.log.Warn("inverter %s: tick read failed (%d consecutive): %v", a.HAPrefix, fail, err)
	if fail >= maxConsecutiveFailures {
		a.setState(StateConnecting)
	}
}

// HandleCommand is the command-ingress path: an MQTT writable-sensor
// command arrives as (sensorID, desired); the agent encodes it and issues
// the register write, then schedules an immediate re-read of the affected
// addresses, per spec section 4.6.
func (a *Agent) HandleCommand(ctx context.Context, sensorID string, desired sensors.Value) error {
	opt, ok := a.opts[sensorID]
	if !ok {
		return &bridgeerr.InvalidValue{SensorID: sensorID, Value: desired.String(), Reason: "unknown sensor"}
	}
	writable, ok := opt.Sensor.(sensors.WritableSensor)
	if !ok {
		return &bridgeerr.InvalidValue{SensorID: sensorID, Value: desired.String(), Reason: "not writable"}
	}

	regs, err := writable.Encode(desired, a.depLookup)
	if err != nil {
		return err
	}

	addrs := writable.Addresses()
	if len(addrs) == 1 {
		err = a.conn.WriteHolding(ctx, a.UnitID, addrs[0], regs[0])
	} else {
		err = a.conn.WriteMultiple(ctx, a.UnitID, addrs[0], regs)
	}
	if err != nil {
		return err
	}

	return a.readAndApply(ctx, []planner.Addressed{writable})
}

// WritableSensorIDs returns the ids of every visible writable sensor this
// agent exposes, used to wire up MQTT command-topic subscriptions at
// startup.
func (a *Agent) WritableSensorIDs() []string {
	var ids []string
	for id, opt := range a.opts {
		if opt.Hidden {
			continue
		}
		if _, ok := opt.Sensor.(sensors.WritableSensor); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// TickCount returns the most recent tick number seen by this agent, used by
// the status server.
func (a *Agent) TickCount() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tickCount
}

// FailureCount returns the cumulative read-failure counter.
func (a *Agent) FailureCount() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failureCounter
}

// Snapshot returns a copy of every currently decoded sensor value, for the
// status server's /api/sensors endpoint.
func (a *Agent) Snapshot() map[string]sensors.Value {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]sensors.Value, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}
