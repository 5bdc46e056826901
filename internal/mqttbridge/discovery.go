// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttbridge implements the MQTT-facing collaborator named in spec
// section 6: Home-Assistant discovery payloads, retained state publish, the
// availability last-will topic, and writable-sensor command subscription.
// Built on github.com/eclipse/paho.mqtt.golang, the teacher's own MQTT
// client, and on the discovery-payload shape found in the
// chint-mqtt-modbus-bridge reference project's energy_topic.go.
package mqttbridge

import (
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/agent"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

// DeviceInfo groups the sensors published for one inverter under a single
// Home-Assistant device card.
type DeviceInfo struct {
	Name         string `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// DiscoveryPayload is the HA MQTT-discovery config document, grounded in
// chint-mqtt-modbus-bridge's SensorConfig.
type DiscoveryPayload struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	CommandTopic        string     `json:"command_topic,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	ValueTemplate       string     `json:"value_template"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	Min                 *float64   `json:"min,omitempty"`
	Max                 *float64   `json:"max,omitempty"`
	Options             []string   `json:"options,omitempty"`
	Mode                string     `json:"mode,omitempty"`
}

// component selects the HA discovery component for a sensor: writable
// numbers/selects become editable entities, everything else a read-only
// sensor.
func component(s sensors.Sensor) string {
	switch s.(type) {
	case *sensors.WritableScalar, *sensors.WritableNumber:
		return "number"
	case *sensors.WritableSelect:
		return "select"
	case *sensors.WritableTime:
		return "text"
	case *sensors.WritableProgramSlot:
		return "number"
	default:
		return "sensor"
	}
}

// buildPayload constructs the discovery document for one sensor under
// haPrefix, following the topic layout of spec section 6. numberEntityMode
// is the configured HA "number" entity mode (auto/slider/box); it applies
// only to sensors that discover as the "number" component.
func buildPayload(haPrefix, sensorID string, opt *agent.SensorOption, device DeviceInfo, numberEntityMode string) DiscoveryPayload {
	p := DiscoveryPayload{
		Name:                sensorID,
		UniqueID:            haPrefix + "_" + sensorID,
		StateTopic:          stateTopic(haPrefix, sensorID),
		ValueTemplate:       "{{ value_json.value }}",
		Device:              device,
		AvailabilityTopic:   availabilityTopic(haPrefix),
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
	}
	if _, writable := opt.Sensor.(sensors.WritableSensor); writable {
		p.CommandTopic = commandTopic(haPrefix, sensorID)
	}
	switch w := opt.Sensor.(type) {
	case *sensors.WritableScalar:
		p.Min, p.Max = &w.Min, &w.Max
		p.Mode = numberEntityMode
	case *sensors.WritableNumber:
		// Discovery metadata is static; the dependency-scaled ceiling is
		// only evaluated live on encode. MaxBase is the advertised bound
		// here and is re-queued for republish by the dependency
		// propagator whenever the scaling sensor changes (spec 4.8).
		p.Min, p.Max = &w.Min, &w.MaxBase
		p.Mode = numberEntityMode
	case *sensors.WritableSelect:
		for _, label := range w.Allowed {
			p.Options = append(p.Options, label)
		}
	case *sensors.WritableProgramSlot:
		p.Mode = numberEntityMode
	}
	return p
}

func discoveryTopic(discoveryPrefix, haPrefix, sensorID string, s sensors.Sensor) string {
	return discoveryPrefix + "/" + component(s) + "/" + haPrefix + "_" + sensorID + "/config"
}

func stateTopic(haPrefix, sensorID string) string {
	return "SUNSYNK/" + haPrefix + "/" + sensorID
}

func commandTopic(haPrefix, sensorID string) string {
	return "SUNSYNK/" + haPrefix + "/" + sensorID + "/set"
}

func availabilityTopic(haPrefixOfFirst string) string {
	return "SUNSYNK/availability_" + haPrefixOfFirst
}
