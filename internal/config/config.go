// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the bridge's flat KEY=VALUE option file, in the
// teacher's bufio.Scanner + setValue-switch idiom, extended with the
// repeated-index convention (CONNECTOR_0_NAME=..., CONNECTOR_1_NAME=...)
// needed to represent the connectors[]/inverters[]/schedules[] option
// groups spec section 6 names, since the flat-file format has no native
// array syntax.
package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
)

// ConnectorSpec mirrors one connectors[] entry.
type ConnectorSpec struct {
	Name         string
	Type         string // tcp, serial, solarman
	Host         string
	Port         int
	Device       string
	BaudRate     int
	Timeout      int
	DongleSerial uint64
}

// InverterSpec mirrors one inverters[] entry.
type InverterSpec struct {
	Connector           string
	Port                string
	ModbusID            byte
	HAPrefix            string
	SerialNr            string
	DongleSerialNumber  uint64
}

// ScheduleSpec mirrors one schedules[] entry.
type ScheduleSpec struct {
	Key           string
	Pattern       string
	ReadEvery     int
	ReportEvery   int
	ChangeAny     bool
	ChangeBy      float64
	ChangePercent float64
}

// Config holds every recognized option from spec section 6.
type Config struct {
	MQTTHost     string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string

	Driver string // legacy top-level driver: pymodbus, umodbus, solarman

	Connectors []ConnectorSpec
	Inverters  []InverterSpec
	Schedules  []ScheduleSpec

	SensorDefinitions    string // single-phase, three-phase, three-phase-hv
	Sensors              []string
	SensorsFirstInverter []string

	ReadSensorsBatchSize int
	ReadAllowGap         int
	Timeout              int
	Debug                int
	Manufacturer         string
	NumberEntityMode     string // auto, slider, box
	ProgTimeInterval     int    // minutes

	DiscoveryPrefix  string
	StatusServerPort int
}

func defaults() *Config {
	return &Config{
		MQTTPort:             1883,
		ReadSensorsBatchSize: 20,
		ReadAllowGap:         2,
		Timeout:              10,
		NumberEntityMode:     "auto",
		DiscoveryPrefix:      "homeassistant",
		StatusServerPort:     8090,
		SensorDefinitions:    "single-phase",
	}
}

// Load reads and parses the option file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := defaults()
	connectors := map[int]*ConnectorSpec{}
	inverters := map[int]*InverterSpec{}
	schedules := map[int]*ScheduleSpec{}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &bridgeerr.ConfigError{Key: fmt.Sprintf("line %d", lineNo), Reason: "missing '='"}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := cfg.setValue(key, value, connectors, inverters, schedules); err != nil {
			return nil, &bridgeerr.ConfigError{Key: key, Reason: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	cfg.Connectors = flattenConnectors(connectors)
	cfg.Inverters = flattenInverters(inverters)
	cfg.Schedules = flattenSchedules(schedules)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue dispatches one KEY=VALUE pair. Indexed keys of the form
// PREFIX_<n>_FIELD populate the corresponding group map; everything else is
// a scalar top-level field.
func (c *Config) setValue(key, value string, connectors map[int]*ConnectorSpec, inverters map[int]*InverterSpec, schedules map[int]*ScheduleSpec) error {
	if idx, field, ok := indexedKey(key, "CONNECTOR"); ok {
		return setConnectorField(connectors, idx, field, value)
	}
	if idx, field, ok := indexedKey(key, "INVERTER"); ok {
		return setInverterField(inverters, idx, field, value)
	}
	if idx, field, ok := indexedKey(key, "SCHEDULE"); ok {
		return setScheduleField(schedules, idx, field, value)
	}

	switch key {
	case "MQTT_HOST":
		c.MQTTHost = value
	case "MQTT_PORT":
		return parseIntInto(&c.MQTTPort, value, 1, 65535)
	case "MQTT_USERNAME":
		c.MQTTUsername = value
	case "MQTT_PASSWORD":
		c.MQTTPassword = value
	case "DRIVER":
		if value != "pymodbus" && value != "umodbus" && value != "solarman" {
			return fmt.Errorf("invalid DRIVER: %s. Expected umodbus, pymodbus, solarman", value)
		}
		c.Driver = value
	case "SENSOR_DEFINITIONS":
		c.SensorDefinitions = value
	case "SENSORS":
		c.Sensors = splitList(value)
	case "SENSORS_FIRST_INVERTER":
		c.SensorsFirstInverter = splitList(value)
	case "READ_SENSORS_BATCH_SIZE":
		return parseIntInto(&c.ReadSensorsBatchSize, value, 1, 125)
	case "READ_ALLOW_GAP":
		return parseIntInto(&c.ReadAllowGap, value, 0, 125)
	case "TIMEOUT":
		return parseIntInto(&c.Timeout, value, 1, 300)
	case "DEBUG":
		return parseIntInto(&c.Debug, value, 0, 3)
	case "MANUFACTURER":
		c.Manufacturer = value
	case "NUMBER_ENTITY_MODE":
		if value != "auto" && value != "slider" && value != "box" {
			return fmt.Errorf("invalid NUMBER_ENTITY_MODE: %s", value)
		}
		c.NumberEntityMode = value
	case "PROG_TIME_INTERVAL":
		return parseIntInto(&c.ProgTimeInterval, value, 1, 60)
	case "DISCOVERY_PREFIX":
		c.DiscoveryPrefix = value
	case "STATUS_SERVER_PORT":
		return parseIntInto(&c.StatusServerPort, value, 1, 65535)
	default:
		return fmt.Errorf("unrecognized option %q", key)
	}
	return nil
}

// validate enforces spec section 7's ConfigError conditions: required
// fields and referential integrity (unknown connector name, duplicate
// ha_prefix).
func (c *Config) validate() error {
	if c.MQTTHost == "" {
		return &bridgeerr.ConfigError{Key: "MQTT_HOST", Reason: "required"}
	}
	if len(c.Inverters) == 0 {
		return &bridgeerr.ConfigError{Key: "INVERTER_n_*", Reason: "at least one entry is required"}
	}

	connectorNames := make(map[string]bool, len(c.Connectors))
	for _, conn := range c.Connectors {
		connectorNames[conn.Name] = true
	}

	seenPrefix := map[string]bool{}
	for _, inv := range c.Inverters {
		if inv.HAPrefix == "" {
			return &bridgeerr.ConfigError{Key: "INVERTER_n_HA_PREFIX", Reason: "required"}
		}
		if seenPrefix[inv.HAPrefix] {
			return &bridgeerr.ConfigError{Key: "INVERTER_n_HA_PREFIX", Reason: fmt.Sprintf("duplicate ha_prefix %q", inv.HAPrefix)}
		}
		seenPrefix[inv.HAPrefix] = true

		if inv.Connector != "" && !connectorNames[inv.Connector] {
			return &bridgeerr.ConfigError{Key: "INVERTER_n_CONNECTOR", Reason: fmt.Sprintf("%s references unknown connector %q", inv.HAPrefix, inv.Connector)}
		}
		if inv.Connector == "" && inv.Port == "" && c.Driver == "" {
			return &bridgeerr.ConfigError{Key: "INVERTER_n_CONNECTOR", Reason: fmt.Sprintf("%s has neither connector, port, nor legacy DRIVER", inv.HAPrefix)}
		}
	}
	return nil
}

func indexedKey(key, prefix string) (int, string, bool) {
	if !strings.HasPrefix(key, prefix+"_") {
		return 0, "", false
	}
	rest := key[len(prefix)+1:]
	idxStr, field, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", false
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, "", false
	}
	return idx, field, true
}

func setConnectorField(m map[int]*ConnectorSpec, idx int, field, value string) error {
	s, ok := m[idx]
	if !ok {
		s = &ConnectorSpec{}
		m[idx] = s
	}
	switch field {
	case "NAME":
		s.Name = value
	case "TYPE":
		s.Type = value
	case "HOST":
		s.Host = value
	case "PORT":
		return parseIntInto(&s.Port, value, 1, 65535)
	case "DEVICE":
		s.Device = value
	case "BAUDRATE":
		return parseIntInto(&s.BaudRate, value, 110, 921600)
	case "TIMEOUT":
		return parseIntInto(&s.Timeout, value, 1, 300)
	case "DONGLE_SERIAL":
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid DONGLE_SERIAL: %w", err)
		}
		s.DongleSerial = n
	default:
		return fmt.Errorf("unrecognized connector field %q", field)
	}
	return nil
}

func setInverterField(m map[int]*InverterSpec, idx int, field, value string) error {
	s, ok := m[idx]
	if !ok {
		s = &InverterSpec{}
		m[idx] = s
	}
	switch field {
	case "CONNECTOR":
		s.Connector = value
	case "PORT":
		s.Port = value
	case "MODBUS_ID":
		n, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid MODBUS_ID: %w", err)
		}
		s.ModbusID = byte(n)
	case "HA_PREFIX":
		s.HAPrefix = value
	case "SERIAL_NR":
		s.SerialNr = value
	case "DONGLE_SERIAL_NUMBER":
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid DONGLE_SERIAL_NUMBER: %w", err)
		}
		s.DongleSerialNumber = n
	default:
		return fmt.Errorf("unrecognized inverter field %q", field)
	}
	return nil
}

func setScheduleField(m map[int]*ScheduleSpec, idx int, field, value string) error {
	s, ok := m[idx]
	if !ok {
		s = &ScheduleSpec{}
		m[idx] = s
	}
	var err error
	switch field {
	case "KEY":
		s.Key = value
	case "PATTERN":
		s.Pattern = value
	case "READ_EVERY":
		err = parseIntInto(&s.ReadEvery, value, 1, 86400)
	case "REPORT_EVERY":
		err = parseIntInto(&s.ReportEvery, value, 1, 86400)
	case "CHANGE_ANY":
		s.ChangeAny = value == "true" || value == "1"
	case "CHANGE_BY":
		s.ChangeBy, err = strconv.ParseFloat(value, 64)
	case "CHANGE_PERCENT":
		s.ChangePercent, err = strconv.ParseFloat(value, 64)
	default:
		return fmt.Errorf("unrecognized schedule field %q", field)
	}
	return err
}

func parseIntInto(dst *int, value string, min, max int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %w", err)
	}
	if n < min || n > max {
		return fmt.Errorf("out of range [%d,%d]: %d", min, max, n)
	}
	*dst = n
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func flattenConnectors(m map[int]*ConnectorSpec) []ConnectorSpec {
	return sortedValues(m, func(s *ConnectorSpec) ConnectorSpec { return *s })
}
func flattenInverters(m map[int]*InverterSpec) []InverterSpec {
	return sortedValues(m, func(s *InverterSpec) InverterSpec { return *s })
}
func flattenSchedules(m map[int]*ScheduleSpec) []ScheduleSpec {
	return sortedValues(m, func(s *ScheduleSpec) ScheduleSpec { return *s })
}

func sortedValues[T any](m map[int]*T, deref func(*T) T) []T {
	idxs := make([]int, 0, len(m))
	for i := range m {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]T, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, deref(m[i]))
	}
	return out
}

// Global singleton, mirroring the teacher's InitGlobal/Get pattern so
// existing call sites across the process can reach config without threading
// a *Config through every function — reserved for the cmd/bridge entrypoint
// and the status server; testable components take an explicit *Config.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// InitGlobal loads path once for the process lifetime.
func InitGlobal(path string) error {
	var err error
	configOnce.Do(func() {
		var cfg *Config
		cfg, err = Load(path)
		if err != nil {
			return
		}
		configMu.Lock()
		globalConfig = cfg
		configMu.Unlock()
	})
	return err
}

// Get returns the global config loaded by InitGlobal. Callers must not
// mutate the returned value.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
