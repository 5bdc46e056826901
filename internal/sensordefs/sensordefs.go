// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensordefs supplies the concrete, register-backed sensor catalog
// spec section 6's SENSOR_DEFINITIONS option selects between (single-phase,
// three-phase, three-phase-hv), grounded in original_source's
// sunsynk/definitions/{single_phase,three_phase_lv,three_phase_hv}.py
// variants and sunsynk/sensors.py's Sensor subclasses, plus the named
// sensor groups original_source's sensor_options.py resolves SENSORS[]
// against (energy_management, power_flow_card, settings, generator,
// diagnostics, battery).
package sensordefs

import (
	"fmt"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
)

// Catalog is one SENSOR_DEFINITIONS variant's full set of addressable
// sensors, keyed by id.
type Catalog struct {
	Name    string
	Sensors map[string]sensors.Sensor
}

// Lookup returns the named sensor, or nil if the catalog doesn't define it.
func (c *Catalog) Lookup(id string) sensors.Sensor {
	return c.Sensors[id]
}

// All returns every sensor id the catalog defines, in no particular order.
func (c *Catalog) All() []string {
	ids := make([]string, 0, len(c.Sensors))
	for id := range c.Sensors {
		ids = append(ids, id)
	}
	return ids
}

const (
	VariantSinglePhase  = "single-phase"
	VariantThreePhase   = "three-phase"
	VariantThreePhaseHV = "three-phase-hv"
)

// ByName resolves a SENSOR_DEFINITIONS option value to its catalog. Unknown
// names fall back to single-phase, the teacher's default posture for an
// unrecognized variant selector.
func ByName(name string) *Catalog {
	switch name {
	case VariantThreePhase:
		return threePhaseLV()
	case VariantThreePhaseHV:
		return threePhaseHV()
	default:
		return singlePhase()
	}
}

// faultLabels keys by word*16 + (1<<bit), matching sensors.py's off + msk
// convention: each set bit across the fault register tuple maps to this
// table's key, not to its plain bit position.
var faultLabels = map[int]string{
	1:    "grid voltage fault",
	2:    "grid frequency fault",
	4:    "dc transformer over temperature",
	8:    "radiator over temperature",
	16:   "battery voltage high",
	32:   "battery voltage low",
	8192: "ac over current",
	24:   "fan fault",
	4112: "parallel communication fault",
}

var overallStateLabels = map[int64]string{
	0: "standby",
	1: "self-test",
	2: "normal",
	3: "alarm",
	4: "fault",
}

var batteryTypeLabels = map[int64]string{
	0: "lead_acid",
	1: "lithium",
	2: "no_battery",
}

// singlePhase mirrors sunsynk/definitions/single_phase.py's register map:
// one phase's worth of grid/load/inverter telemetry plus the shared
// battery/PV/settings block every variant carries.
func singlePhase() *Catalog {
	s := map[string]sensors.Sensor{
		// --- startup / identity ---
		"rated_power": &sensors.Scalar{IDName: "rated_power", Addrs: []uint16{16}, Factor: 0.1},
		"serial":      &sensors.Serial{IDName: "serial", Addrs: []uint16{3, 4, 5}},

		// --- diagnostics / energy_management / power_flow_card ---
		"overall_state": &sensors.Enum{IDName: "overall_state", Addrs: []uint16{59}, Labels: overallStateLabels},
		"fault":         &sensors.FaultBitmap{IDName: "fault", Addrs: []uint16{103, 104}, Labels: faultLabels},

		"grid_voltage":   &sensors.Scalar{IDName: "grid_voltage", Addrs: []uint16{150}, Factor: 0.1},
		"grid_current":   &sensors.Scalar{IDName: "grid_current", Addrs: []uint16{151}, Factor: 0.01, Mask: 0xFFFF},
		"grid_frequency": &sensors.Scalar{IDName: "grid_frequency", Addrs: []uint16{152}, Factor: 0.01},
		"grid_power": &sensors.Scalar{
			IDName: "grid_power", Addrs: []uint16{169}, Factor: -1,
			AbsValue: true, AbsValueDep: "zero_export_absolute",
		},
		"grid_ct_power":     &sensors.Scalar{IDName: "grid_ct_power", Addrs: []uint16{172}, Factor: -1},
		"grid_connected":    &sensors.Binary{IDName: "grid_connected", Addrs: []uint16{194}},
		"grid_relay_status": &sensors.Binary{IDName: "grid_relay_status", Addrs: []uint16{194}},

		"load_power":      &sensors.Scalar{IDName: "load_power", Addrs: []uint16{178}, Factor: 1},
		"load_frequency":  &sensors.Scalar{IDName: "load_frequency", Addrs: []uint16{192}, Factor: 0.01},
		"essential_power": &sensors.Scalar{IDName: "essential_power", Addrs: []uint16{176}, Factor: 1},
		"non_essential_power": &sensors.Math{
			IDName: "non_essential_power", Addrs: []uint16{178, 176}, Weights: []float64{1, -1},
		},

		"inverter_power":        &sensors.Scalar{IDName: "inverter_power", Addrs: []uint16{175}, Factor: 1},
		"inverter_voltage":      &sensors.Scalar{IDName: "inverter_voltage", Addrs: []uint16{154}, Factor: 0.1},
		"inverter_current":      &sensors.Scalar{IDName: "inverter_current", Addrs: []uint16{164}, Factor: 0.01},
		"inverter_relay_status": &sensors.Binary{IDName: "inverter_relay_status", Addrs: []uint16{193}},

		"pv_power":    &sensors.Math{IDName: "pv_power", Addrs: []uint16{186, 187}, Weights: []float64{1, 1}},
		"pv1_voltage": &sensors.Scalar{IDName: "pv1_voltage", Addrs: []uint16{109}, Factor: 0.1},
		"pv1_current": &sensors.Scalar{IDName: "pv1_current", Addrs: []uint16{110}, Factor: 0.1},
		"pv1_power":   &sensors.Scalar{IDName: "pv1_power", Addrs: []uint16{186}, Factor: 1},
		"pv2_voltage": &sensors.Scalar{IDName: "pv2_voltage", Addrs: []uint16{111}, Factor: 0.1},
		"pv2_current": &sensors.Scalar{IDName: "pv2_current", Addrs: []uint16{112}, Factor: 0.1},
		"pv2_power":   &sensors.Scalar{IDName: "pv2_power", Addrs: []uint16{187}, Factor: 1},

		"battery_voltage": &sensors.Scalar{IDName: "battery_voltage", Addrs: []uint16{183}, Factor: 0.01},
		"battery_current": &sensors.Scalar{IDName: "battery_current", Addrs: []uint16{191}, Factor: -0.01},
		"battery_power":   &sensors.Scalar{IDName: "battery_power", Addrs: []uint16{190}, Factor: -1},
		"battery_soc":     &sensors.Scalar{IDName: "battery_soc", Addrs: []uint16{184}, Factor: 1},
		"battery_temperature": &sensors.Temperature{
			IDName: "battery_temperature", Addrs: []uint16{182}, Factor: 0.1, Offset: 100,
		},
		"battery_type":           &sensors.Enum{IDName: "battery_type", Addrs: []uint16{34}, Labels: batteryTypeLabels},
		"battery_bms_alarm_flag": &sensors.Scalar{IDName: "battery_bms_alarm_flag", Addrs: []uint16{223}, Factor: 1},
		"battery_bms_fault_flag": &sensors.Scalar{IDName: "battery_bms_fault_flag", Addrs: []uint16{224}, Factor: 1},
		"battery_bms_soh":        &sensors.Scalar{IDName: "battery_bms_soh", Addrs: []uint16{225}, Factor: 1},

		"day_pv_energy":           &sensors.Scalar{IDName: "day_pv_energy", Addrs: []uint16{108}, Factor: 0.1},
		"day_battery_charge":      &sensors.Scalar{IDName: "day_battery_charge", Addrs: []uint16{70}, Factor: 0.1},
		"day_battery_discharge":   &sensors.Scalar{IDName: "day_battery_discharge", Addrs: []uint16{71}, Factor: 0.1},
		"day_grid_export":         &sensors.Scalar{IDName: "day_grid_export", Addrs: []uint16{76}, Factor: 0.1},
		"day_grid_import":         &sensors.Scalar{IDName: "day_grid_import", Addrs: []uint16{77}, Factor: 0.1},
		"day_load_energy":         &sensors.Scalar{IDName: "day_load_energy", Addrs: []uint16{84}, Factor: 0.1},
		"total_pv_energy":         &sensors.Math{IDName: "total_pv_energy", Addrs: []uint16{96, 97}, Weights: []float64{0.1, 6553.6}},
		"total_battery_charge":    &sensors.Math{IDName: "total_battery_charge", Addrs: []uint16{72, 73}, Weights: []float64{0.1, 6553.6}},
		"total_battery_discharge": &sensors.Math{IDName: "total_battery_discharge", Addrs: []uint16{74, 75}, Weights: []float64{0.1, 6553.6}},
		"total_grid_export":       &sensors.Math{IDName: "total_grid_export", Addrs: []uint16{78, 79}, Weights: []float64{0.1, 6553.6}},
		"total_grid_import":       &sensors.Math{IDName: "total_grid_import", Addrs: []uint16{80, 81}, Weights: []float64{0.1, 6553.6}},

		"dc_transformer_temperature": &sensors.Temperature{
			IDName: "dc_transformer_temperature", Addrs: []uint16{90}, Factor: 0.1, Offset: 100,
		},
		"radiator_temperature": &sensors.Temperature{
			IDName: "radiator_temperature", Addrs: []uint16{91}, Factor: 0.1, Offset: 100,
		},
		"fan_warning":                            &sensors.Binary{IDName: "fan_warning", Addrs: []uint16{226}},
		"grid_phase_warning":                     &sensors.Binary{IDName: "grid_phase_warning", Addrs: []uint16{227}},
		"lithium_battery_loss_warning":           &sensors.Binary{IDName: "lithium_battery_loss_warning", Addrs: []uint16{228}},
		"parallel_communication_quality_warning": &sensors.Binary{IDName: "parallel_communication_quality_warning", Addrs: []uint16{229}},
		"priority_load":                          &sensors.Binary{IDName: "priority_load", Addrs: []uint16{243}},
		"aux_power":                              &sensors.Scalar{IDName: "aux_power", Addrs: []uint16{166}, Factor: 1},

		// --- zero-export gating flag (dependency-only, hidden) ---
		"zero_export_absolute": &sensors.Binary{IDName: "zero_export_absolute", Addrs: []uint16{242}},

		// --- writable settings group ---
		"grid_charge_enabled": &sensors.Binary{IDName: "grid_charge_enabled", Addrs: []uint16{230}},
		"use_timer":           &sensors.Binary{IDName: "use_timer", Addrs: []uint16{250}},
		"date_time":           &sensors.WritableTime{IDName: "date_time", Addrs: []uint16{22}},
		"load_limit": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "load_limit", Addrs: []uint16{128}, Factor: 1}, Min: 0, Max: 100,
		},
		"export_limit_power": &sensors.WritableNumber{
			IDName: "export_limit_power", Addrs: []uint16{143}, Factor: 1, Min: 0, MaxBase: 100, ScaleByDep: "rated_power",
		},
		"solar_export": &sensors.WritableSelect{
			IDName: "solar_export", Addrs: []uint16{247},
			Allowed: map[int64]string{0: "disabled", 1: "enabled"},
		},
		"battery_max_charge_current": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_max_charge_current", Addrs: []uint16{108 + 1}, Factor: 1}, Min: 0, Max: 185,
		},
		"battery_max_discharge_current": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_max_discharge_current", Addrs: []uint16{191 + 1}, Factor: 1}, Min: 0, Max: 185,
		},
		"battery_capacity_current": &sensors.Scalar{IDName: "battery_capacity_current", Addrs: []uint16{156}, Factor: 1},
		"battery_shutdown_capacity": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_shutdown_capacity", Addrs: []uint16{157}, Factor: 1}, Min: 0, Max: 100,
		},
		"battery_restart_capacity": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_restart_capacity", Addrs: []uint16{158}, Factor: 1}, Min: 0, Max: 100,
		},
		"battery_low_capacity": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_low_capacity", Addrs: []uint16{217}, Factor: 1}, Min: 0, Max: 100,
		},
		"battery_equalization_voltage": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_equalization_voltage", Addrs: []uint16{304}, Factor: 0.01}, Min: 40, Max: 60,
		},
		"battery_absorption_voltage": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_absorption_voltage", Addrs: []uint16{305}, Factor: 0.01}, Min: 40, Max: 60,
		},
		"battery_float_voltage": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_float_voltage", Addrs: []uint16{306}, Factor: 0.01}, Min: 40, Max: 60,
		},
		"battery_shutdown_voltage": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_shutdown_voltage", Addrs: []uint16{216}, Factor: 0.01}, Min: 40, Max: 60,
		},
		"battery_low_voltage": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_low_voltage", Addrs: []uint16{218}, Factor: 0.01}, Min: 40, Max: 60,
		},
		"battery_restart_voltage": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_restart_voltage", Addrs: []uint16{219}, Factor: 0.01}, Min: 40, Max: 60,
		},
		"battery_wake_up":         &sensors.Binary{IDName: "battery_wake_up", Addrs: []uint16{220}},
		"battery_resistance":      &sensors.Scalar{IDName: "battery_resistance", Addrs: []uint16{154 + 60}, Factor: 0.001},
		"battery_charge_efficiency": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "battery_charge_efficiency", Addrs: []uint16{221}, Factor: 0.1}, Min: 80, Max: 100,
		},
		"battery_equalization_days":  &sensors.Scalar{IDName: "battery_equalization_days", Addrs: []uint16{222}, Factor: 1},
		"battery_equalization_hours": &sensors.Scalar{IDName: "battery_equalization_hours", Addrs: []uint16{307}, Factor: 1},

		"grid_charge_battery_current": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "grid_charge_battery_current", Addrs: []uint16{231}, Factor: 1}, Min: 0, Max: 185,
		},
		"grid_charge_start_battery_soc": &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: "grid_charge_start_battery_soc", Addrs: []uint16{232}, Factor: 1}, Min: 0, Max: 100,
		},
		"grid_standard":             &sensors.Scalar{IDName: "grid_standard", Addrs: []uint16{133}, Factor: 1},
		"configured_grid_frequency": &sensors.Scalar{IDName: "configured_grid_frequency", Addrs: []uint16{134}, Factor: 1},
		"configured_grid_phases":    &sensors.Scalar{IDName: "configured_grid_phases", Addrs: []uint16{135}, Factor: 1},
		"ups_delay_time":            &sensors.Scalar{IDName: "ups_delay_time", Addrs: []uint16{136}, Factor: 1},

		// --- generator ---
		"generator_port_usage":               &sensors.Enum{IDName: "generator_port_usage", Addrs: []uint16{235}, Labels: map[int64]string{0: "none", 1: "generator", 2: "smart-load"}},
		"generator_off_soc":                  &sensors.WritableScalar{Scalar: sensors.Scalar{IDName: "generator_off_soc", Addrs: []uint16{236}, Factor: 1}, Min: 0, Max: 100},
		"generator_on_soc":                   &sensors.WritableScalar{Scalar: sensors.Scalar{IDName: "generator_on_soc", Addrs: []uint16{237}, Factor: 1}, Min: 0, Max: 100},
		"generator_max_operating_time":       &sensors.Scalar{IDName: "generator_max_operating_time", Addrs: []uint16{238}, Factor: 1},
		"generator_cooling_time":             &sensors.Scalar{IDName: "generator_cooling_time", Addrs: []uint16{239}, Factor: 1},
		"min_pv_power_for_gen_start":         &sensors.Scalar{IDName: "min_pv_power_for_gen_start", Addrs: []uint16{240}, Factor: 1},
		"generator_charge_enabled":           &sensors.Binary{IDName: "generator_charge_enabled", Addrs: []uint16{241}},
		"generator_charge_start_battery_soc": &sensors.WritableScalar{Scalar: sensors.Scalar{IDName: "generator_charge_start_battery_soc", Addrs: []uint16{244}, Factor: 1}, Min: 0, Max: 100},
		"generator_charge_battery_current":   &sensors.WritableScalar{Scalar: sensors.Scalar{IDName: "generator_charge_battery_current", Addrs: []uint16{245}, Factor: 1}, Min: 0, Max: 185},
		"gen_signal_on":                      &sensors.Binary{IDName: "gen_signal_on", Addrs: []uint16{246}},
	}

	for slot := 1; slot <= 6; slot++ {
		base := uint16(250 + slot*10)
		s[progID(slot, "time")] = &sensors.WritableTime{IDName: progID(slot, "time"), Addrs: []uint16{base}}
		s[progID(slot, "power")] = &sensors.WritableNumber{
			IDName: progID(slot, "power"), Addrs: []uint16{base + 1}, Factor: 1, Min: 0, MaxBase: 100, ScaleByDep: "rated_power",
		}
		s[progID(slot, "capacity")] = &sensors.WritableScalar{
			Scalar: sensors.Scalar{IDName: progID(slot, "capacity"), Addrs: []uint16{base + 2}, Factor: 1}, Min: 0, Max: 100,
		}
		s[progID(slot, "charge")] = &sensors.WritableProgramSlot{
			IDName: progID(slot, "charge"), Addrs: []uint16{base + 3}, SlotCount: 4,
		}
	}

	return &Catalog{Name: VariantSinglePhase, Sensors: s}
}

func progID(slot int, suffix string) string {
	return fmt.Sprintf("prog%d_%s", slot, suffix)
}

// threePhaseLV extends singlePhase with the per-leg grid/load/inverter power
// and voltage registers the 3-phase low-voltage register map adds, per
// original_source's sunsynk/definitions/three_phase_lv.py.
func threePhaseLV() *Catalog {
	c := singlePhase()
	c.Name = VariantThreePhase
	addThreePhaseLegs(c, 0.01, false)
	return c
}

// threePhaseHV is the 3-phase high-voltage battery register map: the same
// per-leg additions, plus battery_1_soc/battery_1_voltage added alongside
// the shared single-battery-bank fields, which stay in the catalog (an HV
// inverter reports per-module battery telemetry), per three_phase_hv.py.
func threePhaseHV() *Catalog {
	c := singlePhase()
	c.Name = VariantThreePhaseHV
	addThreePhaseLegs(c, 0.1, true)
	c.Sensors["battery_1_soc"] = &sensors.Scalar{IDName: "battery_1_soc", Addrs: []uint16{588}, Factor: 1}
	c.Sensors["battery_1_voltage"] = &sensors.Scalar{IDName: "battery_1_voltage", Addrs: []uint16{587}, Factor: 0.01}
	return c
}

func addThreePhaseLegs(c *Catalog, voltageFactor float64, hv bool) {
	legBase := uint16(160)
	if hv {
		legBase = 560
	}
	for i, leg := range []string{"l1", "l2", "l3"} {
		off := uint16(i * 2)
		c.Sensors["grid_"+leg+"_power"] = &sensors.Scalar{IDName: "grid_" + leg + "_power", Addrs: []uint16{legBase + off}, Factor: 1}
		c.Sensors["load_"+leg+"_power"] = &sensors.Scalar{IDName: "load_" + leg + "_power", Addrs: []uint16{legBase + off + 20}, Factor: 1}
		c.Sensors["load_"+leg+"_voltage"] = &sensors.Scalar{IDName: "load_" + leg + "_voltage", Addrs: []uint16{legBase + off + 40}, Factor: voltageFactor}
		c.Sensors["grid_"+leg+"_voltage"] = &sensors.Scalar{IDName: "grid_" + leg + "_voltage", Addrs: []uint16{legBase + off + 60}, Factor: voltageFactor}
	}
}
