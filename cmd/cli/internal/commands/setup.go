package commands

import (
	"context"
	"time"

	"github.com/atendo/atendo/internal/config"
	"github.com/atendo/atendo/internal/logger"
	"github.com/atendo/atendo/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger and, when enabled by flag or config,
// the OpenTelemetry exporters. The returned func flushes telemetry.
func Setup(ctx context.Context, globals *Globals) func() {
	log.Logger = logger.Setup(globals.Debug)

	enabled := globals.Telemetry
	if !enabled {
		if cfg, err := config.Load(globals.Config); err == nil {
			enabled = cfg.Telemetry
		}
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName: "atendo-cli",
		Version:     globals.Version,
		Metrics:     enabled,
		Traces:      enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize telemetry, continuing without it")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}
}
