package main

import (
	"fmt"
	"os"

	"github.com/danmuck/satpctl/internal/binding"
	"github.com/danmuck/satpctl/internal/config"
	"github.com/danmuck/satpctl/internal/craft"
	"github.com/danmuck/satpctl/internal/dissect"
	"github.com/danmuck/satpctl/internal/logging"
	"github.com/danmuck/satpctl/internal/observability"
	"github.com/danmuck/satpctl/internal/protocol/satp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// runtime is the wiring shared by every subcommand.
type runtime struct {
	cfg      config.Config
	registry *binding.Registry
	prom     *prometheus.Registry
	metrics  *observability.Metrics
	engine   *dissect.Engine
	builder  *craft.Builder
}

func newRuntime(path string) (*runtime, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		log.Info().Str("path", path).Msg("loaded satpctl config")
	}
	if os.Getenv(logging.EnvLogLevel) == "" && !logging.SetLevel(cfg.LogLevel) {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("ignoring unknown log level")
	}

	reg := binding.NewRegistry()
	if err := satp.Bind(reg); err != nil {
		return nil, fmt.Errorf("bind satp: %w", err)
	}
	if err := config.ApplyBindings(reg, cfg.Bindings); err != nil {
		return nil, err
	}

	prom := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(prom)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &runtime{
		cfg:      cfg,
		registry: reg,
		prom:     prom,
		metrics:  metrics,
		engine: dissect.NewEngine(reg,
			dissect.WithMetrics(metrics),
			dissect.WithLogger(observability.ComponentLogger("satpctl", "dissect")),
		),
		builder:  craft.NewBuilder(metrics),
	}, nil
}

func (rt *runtime) finish() {
	if !*dumpMetric {
		return
	}
	if err := observability.WriteText(os.Stderr, rt.prom); err != nil {
		log.Error().Err(err).Msg("metrics dump failed")
	}
}
