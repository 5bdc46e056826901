// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/agent"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/connector"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/logger"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

// CommandHandler receives a decoded writable-sensor command.
type CommandHandler func(ctx context.Context, haPrefix, sensorID string, desired sensors.Value) error

// Options configures the broker connection, grounded in the teacher's
// imu_producer.go mqtt.NewClientOptions().AddBroker(...) idiom.
type Options struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	// Devices maps ha_prefix to the HA device card its sensors are grouped
	// under. A prefix absent from this map falls back to DefaultDevice.
	Devices       map[string]DeviceInfo
	DefaultDevice DeviceInfo
	// NumberEntityMode is the configured HA "number" entity mode
	// (auto/slider/box), threaded into every writable-number discovery
	// payload's "mode" field.
	NumberEntityMode string
}

// Bridge is the concrete agent.Publisher backed by paho.mqtt.golang.
type Bridge struct {
	client mqtt.Client
	opt    Options
	log    *logger.Logger
	onCmd  CommandHandler
}

func (b *Bridge) deviceFor(haPrefix string) DeviceInfo {
	if d, ok := b.opt.Devices[haPrefix]; ok {
		return d
	}
	return b.opt.DefaultDevice
}

// New connects to the broker and returns a ready Bridge. firstInverterWill
// is the ha_prefix used for the single availability last-will topic, per
// spec section 6 ("availability_<ha_prefix_of_first>").
func New(opt Options, firstInverterWill string, log *logger.Logger, onCmd CommandHandler) (*Bridge, error) {
	willTopic := availabilityTopic(firstInverterWill)
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetWill(willTopic, "offline", 0, true)
	if opt.Username != "" {
		clientOpts.SetUsername(opt.Username)
		clientOpts.SetPassword(opt.Password)
	}

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	b := &Bridge{client: client, opt: opt, log: log, onCmd: onCmd}
	if token := client.Publish(willTopic, 0, true, "online"); token.Wait() && token.Error() != nil {
		log.Warn("mqtt: initial availability publish failed: %v", token.Error())
	}
	return b, nil
}

// Subscribe wires the command topic for one inverter's writable sensors.
// sensorIDs restricts the subscription to known writable sensors so a
// malformed topic never reaches HandleCommand with an unknown id.
func (b *Bridge) Subscribe(haPrefix string, sensorIDs []string) error {
	for _, id := range sensorIDs {
		topic := commandTopic(haPrefix, id)
		sensorID := id
		token := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			b.dispatchCommand(haPrefix, sensorID, msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
		}
	}
	return nil
}

func (b *Bridge) dispatchCommand(haPrefix, sensorID string, payload []byte) {
	if b.onCmd == nil {
		return
	}
	var desired sensors.Value
	if err := json.Unmarshal(payload, &desired); err != nil {
		desired = sensors.StringValue(string(payload))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.onCmd(ctx, haPrefix, sensorID, desired); err != nil {
		var invalid *bridgeerr.InvalidValue
		if asInvalidValue(err, &invalid) {
			b.publishCommandError(haPrefix, sensorID, invalid)
		}
		b.log.Warn("mqtt: command %s/%s failed: %v", haPrefix, sensorID, err)
	}
}

func asInvalidValue(err error, target **bridgeerr.InvalidValue) bool {
	iv, ok := err.(*bridgeerr.InvalidValue)
	if ok {
		*target = iv
	}
	return ok
}

func (b *Bridge) publishCommandError(haPrefix, sensorID string, err *bridgeerr.InvalidValue) {
	topic := commandTopic(haPrefix, sensorID) + "/error"
	b.client.Publish(topic, 0, true, err.Error())
}

// PublishDiscovery implements agent.Publisher.
func (b *Bridge) PublishDiscovery(_ context.Context, haPrefix, sensorID string, opt *agent.SensorOption) error {
	payload := buildPayload(haPrefix, sensorID, opt, b.deviceFor(haPrefix), b.opt.NumberEntityMode)
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	topic := discoveryTopic(b.opt.DiscoveryPrefix, haPrefix, sensorID, opt.Sensor)
	token := b.client.Publish(topic, 0, true, data)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// statePayload is the retained value document published to the state topic.
type statePayload struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishState implements agent.Publisher.
func (b *Bridge) PublishState(_ context.Context, haPrefix, sensorID string, v sensors.Value, ts time.Time) error {
	data, err := json.Marshal(statePayload{Value: valueForJSON(v), Timestamp: ts})
	if err != nil {
		return err
	}
	token := b.client.Publish(stateTopic(haPrefix, sensorID), 0, true, data)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// PublishAvailability implements agent.Publisher.
func (b *Bridge) PublishAvailability(_ context.Context, haPrefix string, online bool) error {
	payload := "offline"
	if online {
		payload = "online"
	}
	token := b.client.Publish(availabilityTopic(haPrefix), 0, true, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// PublishStats publishes a connector's cumulative read/write/timeout/error
// counters to a retained "_stats" topic, grounded in original_source
// driver.py's callback_discovery_info firing AInverter.publish_stats every
// 120 ticks.
func (b *Bridge) PublishStats(haPrefix, connectorName string, stats connector.Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	token := b.client.Publish("SUNSYNK/"+haPrefix+"/_stats/"+connectorName, 0, true, data)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Close flushes and disconnects the client, per spec section 5's shutdown
// ordering ("the MQTT client is flushed and closed").
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

func valueForJSON(v sensors.Value) any {
	switch v.Kind {
	case sensors.KindInt:
		return v.Int
	case sensors.KindFloat:
		return v.Float
	case sensors.KindBool:
		return v.Bool
	case sensors.KindString:
		return v.Str
	default:
		return nil
	}
}
