package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/autonomy"
	"github.com/cklxx/autonomy/internal/config"
	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/logging"
	"github.com/cklxx/autonomy/internal/metrics"
)

// heartbeatBattery is the engine's out-of-the-box battery: a single
// Informational task that only records that the cycle ran. Concrete task
// bodies are an embedding application's concern (spec.md §1); a host
// binary that links this engine as a library supplies its own batteries
// via autonomy.WithBattery instead of relying on this default.
func heartbeatBattery(kind cycle.Kind) autonomy.Battery {
	taskID := "heartbeat-" + string(kind)
	return autonomy.Battery{
		Tasks: []cycle.Task{{ID: taskID, Name: "heartbeat", HDMLevel: approval.Informational}},
		Handlers: cycle.Handlers{
			taskID: func(cycle.HandlerContext) (any, error) { return "ok", nil },
		},
	}
}

// buildEngine loads configuration from flags and constructs an
// *autonomy.Engine ready for Initialize, wiring a shared Prometheus
// registry so the daemon's metrics server and the engine's own counters
// observe the same registerer.
func buildEngine(flags *globalFlags, logger logging.Logger) (*autonomy.Engine, *prometheus.Registry, error) {
	var opts []config.Option
	if flags.configPath != "" {
		opts = append(opts, config.WithConfigPath(flags.configPath))
	}
	override, err := flags.hdmOverride()
	if err != nil {
		return nil, nil, err
	}
	if override != nil {
		opts = append(opts, config.WithOverrides(config.Overrides{HDMLevel: override}))
	}

	cfg, _, err := config.Load(flags.rootDir, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	engineOpts := []autonomy.Option{
		autonomy.WithHDMLevel(cfg.HDMLevel),
		autonomy.WithMaxHistory(cfg.MaxHistory),
		autonomy.WithLogger(logger),
		autonomy.WithMetrics(collector),
	}
	for kind, sched := range cfg.Schedules {
		engineOpts = append(engineOpts, autonomy.WithSchedule(kind, sched))
	}
	for _, kind := range []cycle.Kind{cycle.Daily, cycle.Weekly, cycle.Monthly, cycle.Manual} {
		engineOpts = append(engineOpts, autonomy.WithBattery(kind, heartbeatBattery(kind)))
	}

	engine := autonomy.New(cfg.RootDir, engineOpts...)
	return engine, reg, nil
}
