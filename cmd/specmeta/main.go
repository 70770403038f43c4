package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beamline-tools/specmeta/internal/config"
	"github.com/beamline-tools/specmeta/internal/counters"
	"github.com/beamline-tools/specmeta/internal/observability"
	"github.com/beamline-tools/specmeta/internal/offset"
	"github.com/beamline-tools/specmeta/internal/service"
	"github.com/beamline-tools/specmeta/internal/writer"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Msg("Starting specmeta ingester")

	// Initialize tracer (if enabled)
	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "specmeta",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	// Offset store for restart resume
	offsets, err := offset.NewBoltDBStore(cfg.OffsetDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open offset store")
	}

	// Downstream artifact writer (optional)
	var scanWriter writer.ScanWriter
	if cfg.OutputDBPath != "" {
		scanWriter, err = writer.NewSQLiteWriter(cfg.OutputDBPath, cfg.Overwrite)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open scan writer")
		}
	}

	// Counter post-processing hook (optional)
	var hook counters.Hook = counters.NopHook{}
	if cfg.CountersPath != "" {
		hook, err = counters.Load(cfg.CountersPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load counter definitions")
		}
	}

	ingestor, err := service.NewIngestor(cfg, offsets, scanWriter, hook)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ingestor")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := ingestor.Start(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	log.Info().Msg("Ingestor started successfully")

	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("Ingestor error")
	}

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if err := ingestor.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Ingestor stopped")
}
