// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "options.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesConnectorsInvertersAndSchedules(t *testing.T) {
	path := writeTempConfig(t, `
MQTT_HOST=broker.local
CONNECTOR_0_NAME=main
CONNECTOR_0_TYPE=tcp
CONNECTOR_0_HOST=10.0.0.5
CONNECTOR_0_PORT=502
INVERTER_0_CONNECTOR=main
INVERTER_0_MODBUS_ID=1
INVERTER_0_HA_PREFIX=inv1
SCHEDULE_0_KEY=fast
SCHEDULE_0_PATTERN=power_*
SCHEDULE_0_READ_EVERY=5
SCHEDULE_0_REPORT_EVERY=5
SCHEDULE_0_CHANGE_BY=1.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Connectors, 1)
	assert.Equal(t, "main", cfg.Connectors[0].Name)
	assert.Equal(t, 502, cfg.Connectors[0].Port)

	require.Len(t, cfg.Inverters, 1)
	assert.Equal(t, "inv1", cfg.Inverters[0].HAPrefix)
	assert.Equal(t, byte(1), cfg.Inverters[0].ModbusID)

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "power_*", cfg.Schedules[0].Pattern)
	assert.InDelta(t, 1.5, cfg.Schedules[0].ChangeBy, 1e-9)
}

func TestLoadRejectsUnknownConnectorReference(t *testing.T) {
	path := writeTempConfig(t, `
MQTT_HOST=broker.local
INVERTER_0_CONNECTOR=missing
INVERTER_0_HA_PREFIX=inv1
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateHAPrefix(t *testing.T) {
	path := writeTempConfig(t, `
MQTT_HOST=broker.local
CONNECTOR_0_NAME=main
CONNECTOR_0_TYPE=tcp
INVERTER_0_CONNECTOR=main
INVERTER_0_HA_PREFIX=inv1
INVERTER_1_CONNECTOR=main
INVERTER_1_HA_PREFIX=inv1
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
MQTT_HOST=broker.local
CONNECTOR_0_NAME=main
CONNECTOR_0_TYPE=tcp
INVERTER_0_CONNECTOR=main
INVERTER_0_HA_PREFIX=inv1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.ReadSensorsBatchSize)
	assert.Equal(t, 2, cfg.ReadAllowGap)
	assert.Equal(t, 10, cfg.Timeout)
}
