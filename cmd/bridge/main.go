// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command bridge is the sunsynk-mqtt-bridge process entrypoint: it loads
// the flat-file configuration, opens the configured connectors, builds one
// inverter agent per configured inverter, wires them to the MQTT bridge and
// the shared 1Hz timer loop, serves the read-only status HTTP API, and
// shuts everything down cleanly on SIGINT/SIGTERM. Grounded in the
// teacher's internal/app/console_mqtt.go RunConsoleMQTT entrypoint pattern
// (mqtt.NewClientOptions -> connect -> block on signal channel -> clean
// disconnect), generalized from one producer to many concurrent inverter
// agents coordinated by a single timer.Loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/agent"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/bridgeerr"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/config"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/connector"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/logger"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/mqttbridge"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/schedule"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensordefs"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/sensors"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/statusserver"
	"github.com/relabs-tech/sunsynk-mqtt-bridge/internal/timer"
)

func main() {
	configPath := flag.String("config", "sunsynk_config.txt", "path to the flat KEY=VALUE option file")
	flag.Parse()

	log.Println("starting sunsynk-mqtt-bridge")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	lg := logger.New(logger.LevelFromDebug(cfg.Debug))

	if err := run(cfg, lg); err != nil {
		lg.Fatal("%v", err)
	}
}

func run(cfg *config.Config, lg *logger.Logger) error {
	legacySpecs := resolveLegacyConnectors(cfg)

	catalog := sensordefs.ByName(cfg.SensorDefinitions)
	table := buildScheduleTable(cfg)
	conns := connector.NewManager(append(buildConnectorSpecs(cfg), legacySpecs...))
	devices := buildDeviceInfo(cfg)

	agents, agentViews := buildAgents(cfg, catalog, table, lg)

	var firstPrefix string
	if len(cfg.Inverters) > 0 {
		firstPrefix = cfg.Inverters[0].HAPrefix
	}

	bridge, err := mqttbridge.New(mqttbridge.Options{
		Broker:           fmt.Sprintf("tcp://%s:%d", cfg.MQTTHost, cfg.MQTTPort),
		Username:         cfg.MQTTUsername,
		Password:         cfg.MQTTPassword,
		ClientID:         "sunsynk-mqtt-bridge",
		DiscoveryPrefix:  cfg.DiscoveryPrefix,
		Devices:          devices,
		DefaultDevice:    mqttbridge.DeviceInfo{Name: "Sunsynk inverter", Manufacturer: "Sunsynk"},
		NumberEntityMode: cfg.NumberEntityMode,
	}, firstPrefix, lg, onCommand(agents))
	if err != nil {
		return fmt.Errorf("mqtt bridge: %w", err)
	}
	defer bridge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scheduleFatalExit sync.Once

	for _, inv := range cfg.Inverters {
		a := agents[inv.HAPrefix]
		conn, err := conns.Get(inv.Connector)
		if err != nil {
			return fmt.Errorf("inverter %s: %w", inv.HAPrefix, err)
		}
		if err := a.Connect(ctx, conn, bridge); err != nil {
			lg.Error("inverter %s: connect failed: %v", inv.HAPrefix, err)
			var fatal *bridgeerr.FatalInverterError
			if errors.As(err, &fatal) {
				scheduleFatalExit.Do(func() {
					lg.Error("scheduling process exit in %s: %v", agent.FatalExitGrace, fatal)
					time.AfterFunc(agent.FatalExitGrace, func() {
						lg.Error("exiting: inverter connection failure at startup, after grace")
						os.Exit(2)
					})
				})
			}
			continue
		}
		if err := bridge.Subscribe(inv.HAPrefix, a.WritableSensorIDs()); err != nil {
			lg.Warn("inverter %s: command subscribe failed: %v", inv.HAPrefix, err)
		}
		_ = bridge.PublishAvailability(ctx, inv.HAPrefix, true)
	}

	loop := buildTimerLoop(agents, lg)
	loop.Register(timer.Callback{
		Name: "stats", Every: 120, Async: false,
		Run: func(ctx context.Context, _ int64) error {
			for _, inv := range cfg.Inverters {
				c, err := conns.Get(inv.Connector)
				if err != nil {
					continue
				}
				if sn, ok := c.(interface{ Snapshot() connector.Stats }); ok {
					if err := bridge.PublishStats(inv.HAPrefix, inv.Connector, sn.Snapshot()); err != nil {
						lg.Warn("stats publish for %s failed: %v", inv.HAPrefix, err)
					}
				}
			}
			return nil
		},
	})

	status := statusserver.New(agentViews, conns, lg)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.StatusServerPort), Handler: status.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("status server: %v", err)
		}
	}()

	lg.Info("sunsynk-mqtt-bridge running: %d inverter(s), status on :%d", len(agents), cfg.StatusServerPort)

	runErr := loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	for haPrefix := range agents {
		_ = bridge.PublishAvailability(shutdownCtx, haPrefix, false)
	}
	conns.CloseAll()

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

// onCommand routes an incoming MQTT command to the agent owning haPrefix.
func onCommand(agents map[string]*agent.Agent) mqttbridge.CommandHandler {
	return func(ctx context.Context, haPrefix, sensorID string, desired sensors.Value) error {
		a, ok := agents[haPrefix]
		if !ok {
			return fmt.Errorf("command for unknown inverter %q", haPrefix)
		}
		return a.HandleCommand(ctx, sensorID, desired)
	}
}

func buildScheduleTable(cfg *config.Config) *schedule.Table {
	scheds := make([]*schedule.Schedule, 0, len(cfg.Schedules))
	for i := range cfg.Schedules {
		s := cfg.Schedules[i]
		scheds = append(scheds, &schedule.Schedule{
			Key: s.Key, Pattern: s.Pattern, ReadEvery: s.ReadEvery, ReportEvery: s.ReportEvery,
			ChangeAny: s.ChangeAny, ChangeBy: s.ChangeBy, ChangePercent: s.ChangePercent,
		})
	}
	if len(scheds) == 0 {
		scheds = append(scheds, &schedule.Schedule{Pattern: "*", ReadEvery: 5, ReportEvery: 60})
	}
	return schedule.NewTable(scheds)
}

// resolveLegacyConnectors synthesizes one connector.Spec per inverter that
// has no connectors[] reference, from the top-level legacy DRIVER option,
// per original_source driver.py's _create_legacy_connection: pymodbus ->
// tcp, umodbus -> serial, solarman -> UDP dongle keyed by the inverter's
// dongle serial number. Each
// inverter's Connector field is pointed at the synthesized spec so the rest
// of the wiring never has to know about the legacy path.
func resolveLegacyConnectors(cfg *config.Config) []connector.Spec {
	var specs []connector.Spec
	for i := range cfg.Inverters {
		inv := &cfg.Inverters[i]
		if inv.Connector != "" {
			continue
		}
		name := "legacy_" + inv.HAPrefix
		spec := connector.Spec{Name: name, Timeout: timeoutOrDefault(0, cfg.Timeout)}
		switch cfg.Driver {
		case "umodbus":
			spec.Type = "serial"
			spec.Device = inv.Port
			spec.BaudRate = 9600
		case "solarman":
			spec.Type = "solarman"
			host, port := splitHostPort(inv.Port)
			spec.Host, spec.Port = host, port
			spec.DongleSerial = inv.DongleSerialNumber
		default: // "pymodbus" and unset both default to a plain TCP connection
			spec.Type = "tcp"
			host, port := splitHostPort(inv.Port)
			spec.Host, spec.Port = host, port
		}
		inv.Connector = name
		specs = append(specs, spec)
	}
	return specs
}

func splitHostPort(port string) (string, int) {
	host, portStr, err := net.SplitHostPort(port)
	if err != nil {
		return port, 502
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 502
	}
	return host, p
}

func buildConnectorSpecs(cfg *config.Config) []connector.Spec {
	specs := make([]connector.Spec, 0, len(cfg.Connectors))
	for _, c := range cfg.Connectors {
		specs = append(specs, connector.Spec{
			Name: c.Name, Type: c.Type, Host: c.Host, Port: c.Port,
			Device: c.Device, BaudRate: c.BaudRate, DongleSerial: c.DongleSerial,
			Timeout: timeoutOrDefault(c.Timeout, cfg.Timeout),
		})
	}
	return specs
}

func buildDeviceInfo(cfg *config.Config) map[string]mqttbridge.DeviceInfo {
	devices := make(map[string]mqttbridge.DeviceInfo, len(cfg.Inverters))
	for _, inv := range cfg.Inverters {
		devices[inv.HAPrefix] = mqttbridge.DeviceInfo{
			Name:         "Sunsynk " + inv.HAPrefix,
			Identifiers:  []string{inv.SerialNr, inv.HAPrefix},
			Manufacturer: defaultString(cfg.Manufacturer, "Sunsynk"),
			Model:        cfg.SensorDefinitions,
		}
	}
	return devices
}

func buildAgents(cfg *config.Config, catalog *sensordefs.Catalog, table *schedule.Table, lg *logger.Logger) (map[string]*agent.Agent, map[string]statusserver.AgentView) {
	agents := make(map[string]*agent.Agent, len(cfg.Inverters))
	views := make(map[string]statusserver.AgentView, len(cfg.Inverters))
	visibleIDs := sensordefs.Resolve(cfg.Sensors, catalog)
	firstInverterIDs := sensordefs.Resolve(cfg.SensorsFirstInverter, catalog)

	for i, inv := range cfg.Inverters {
		opts, graph, cycles := sensordefs.BuildOptions(catalog, visibleIDs, firstInverterIDs, i == 0, table)
		for _, ce := range cycles {
			lg.Warn("inverter %s: dropped cyclic dependency %s -> %s", inv.HAPrefix, ce.From, ce.To)
		}

		a := agent.New(inv.HAPrefix, i, inv.ModbusID, inv.Connector, opts, graph, lg)
		a.ReadBatchSize = uint16(cfg.ReadSensorsBatchSize)
		a.ReadAllowGap = uint16(cfg.ReadAllowGap)
		a.SerialSensorID = "serial"
		a.RatedPowerSensor = "rated_power"

		agents[inv.HAPrefix] = a
		views[inv.HAPrefix] = a
	}
	return agents, views
}

func buildTimerLoop(agents map[string]*agent.Agent, lg *logger.Logger) *timer.Loop {
	loop := timer.New(time.Second, len(agents), func(name string, err error) {
		lg.Warn("tick callback %s failed: %v", name, err)
	})
	for haPrefix, a := range agents {
		a := a
		loop.Register(timer.Callback{
			Name: haPrefix, Every: 1, Async: true,
			Run: func(ctx context.Context, t int64) error {
				dueRead, dueReport := a.DueSensors(t)
				return a.Tick(ctx, t, dueRead, dueReport)
			},
		})
	}
	return loop
}

func timeoutOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
