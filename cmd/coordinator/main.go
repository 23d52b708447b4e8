// Package main is the entry point for the LacyLights swarm coordinator.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/app"
	"github.com/bbernstein/lacylights-swarm/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		setupLogger(os.Stderr, "info", true)
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogger(os.Stdout, cfg.LogLevel, cfg.IsDevelopment())
	if envErr != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	printBanner(os.Stdout, cfg)

	coordinator, err := app.New(cfg, Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start coordinator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Coordinator failed")
		stop()
		os.Exit(1)
	}
}

// setupLogger configures the global zerolog logger. An unknown level falls
// back to info.
func setupLogger(out io.Writer, level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	_, _ = fmt.Fprintln(w, "============================================")
	_, _ = fmt.Fprintln(w, "  LacyLights Swarm Coordinator")
	_, _ = fmt.Fprintf(w, "  Version: %s\n", Version)
	_, _ = fmt.Fprintf(w, "  Build:   %s\n", BuildTime)
	_, _ = fmt.Fprintf(w, "  Commit:  %s\n", GitCommit)
	_, _ = fmt.Fprintln(w, "============================================")
	_, _ = fmt.Fprintf(w, "  Environment: %s\n", cfg.Env)
	if cfg.HTTPEnabled {
		_, _ = fmt.Fprintf(w, "  HTTP API:    :%s\n", cfg.Port)
	} else {
		_, _ = fmt.Fprintln(w, "  HTTP API:    disabled")
	}
	_, _ = fmt.Fprintf(w, "  Database:    %s\n", cfg.DatabaseURL)
	_, _ = fmt.Fprintf(w, "  Nodes:       %d on port %d (beacons on %d)\n", cfg.NodeCapacity, cfg.BasePort, cfg.BeaconPort())
	_, _ = fmt.Fprintf(w, "  Sync:        %s\n", cfg.SyncBroadcast)
	_, _ = fmt.Fprintf(w, "  Tick:        %v\n", cfg.TickPeriod)
	_, _ = fmt.Fprintln(w, "============================================")
}
