// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensordefs

// Groups mirrors original_source's sensor_options.py SENSOR_GROUPS dict: a
// handful of named shortcuts the sensors[] / sensors_first_inverter[]
// options can reference instead of spelling out every id. "all" is handled
// specially by Resolve rather than stored here, since it depends on the
// selected catalog rather than being a fixed list.
var Groups = map[string][]string{
	"energy_management": {
		"total_battery_charge",
		"total_battery_discharge",
		"total_grid_export",
		"total_grid_import",
		"total_pv_energy",
	},
	"power_flow_card": {
		"aux_power", "battery_current", "battery_power", "battery_soc", "battery_voltage",
		"day_battery_charge", "day_battery_discharge", "day_grid_export", "day_grid_import",
		"day_load_energy", "day_pv_energy", "essential_power", "grid_connected", "grid_ct_power",
		"grid_frequency", "grid_power", "grid_voltage", "grid_current", "inverter_current",
		"inverter_power", "inverter_voltage", "load_frequency", "load_power", "non_essential_power",
		"overall_state", "priority_load", "pv_power", "pv1_current", "pv1_power", "pv1_voltage",
		"pv2_current", "pv2_power", "pv2_voltage", "use_timer",
	},
	"settings": {
		"load_limit",
		"prog1_capacity", "prog1_charge", "prog1_power", "prog1_time",
		"prog2_capacity", "prog2_charge", "prog2_power", "prog2_time",
		"prog3_capacity", "prog3_charge", "prog3_power", "prog3_time",
		"prog4_capacity", "prog4_charge", "prog4_power", "prog4_time",
		"prog5_capacity", "prog5_charge", "prog5_power", "prog5_time",
		"prog6_capacity", "prog6_charge", "prog6_power", "prog6_time",
		"date_time", "grid_charge_battery_current", "grid_charge_start_battery_soc",
		"grid_charge_enabled", "use_timer", "solar_export", "export_limit_power",
		"battery_max_charge_current", "battery_max_discharge_current", "battery_capacity_current",
		"battery_shutdown_capacity", "battery_restart_capacity", "battery_low_capacity",
		"battery_type", "battery_wake_up", "battery_resistance", "battery_charge_efficiency",
		"grid_standard", "configured_grid_frequency", "configured_grid_phases", "ups_delay_time",
	},
	"generator": {
		"generator_port_usage", "generator_off_soc", "generator_on_soc",
		"generator_max_operating_time", "generator_cooling_time", "min_pv_power_for_gen_start",
		"generator_charge_enabled", "generator_charge_start_battery_soc",
		"generator_charge_battery_current", "gen_signal_on",
	},
	"diagnostics": {
		"grid_voltage", "battery_temperature", "battery_voltage", "battery_soc", "battery_power",
		"battery_current", "fault", "dc_transformer_temperature", "radiator_temperature",
		"grid_relay_status", "inverter_relay_status", "battery_bms_alarm_flag",
		"battery_bms_fault_flag", "battery_bms_soh", "fan_warning", "grid_phase_warning",
		"lithium_battery_loss_warning", "parallel_communication_quality_warning",
	},
	"battery": {
		"battery_type", "battery_capacity_current", "battery_max_charge_current",
		"battery_max_discharge_current", "battery_shutdown_capacity", "battery_restart_capacity",
		"battery_low_capacity", "battery_equalization_voltage", "battery_absorption_voltage",
		"battery_float_voltage", "battery_shutdown_voltage", "battery_low_voltage",
		"battery_restart_voltage", "battery_wake_up", "battery_resistance",
		"battery_charge_efficiency", "battery_equalization_days", "battery_equalization_hours",
	},
}

// Resolve expands a sensors[] option list (ids and/or group names, "all"
// included) against a catalog into a deduplicated set of sensor ids. Unknown
// names are dropped rather than rejected: the original's get_sensors only
// warns on an unresolved name, it never fails config load over it.
func Resolve(names []string, cat *Catalog) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, name := range names {
		switch {
		case name == "all":
			for _, id := range cat.All() {
				add(id)
			}
		case Groups[name] != nil:
			for _, id := range Groups[name] {
				if cat.Lookup(id) != nil {
					add(id)
				}
			}
		default:
			if cat.Lookup(name) != nil {
				add(name)
			}
		}
	}
	return out
}
