package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PcapSentry/internal/api"
	"PcapSentry/internal/config"
	"PcapSentry/internal/engine/manager"
	"PcapSentry/internal/pkg/logger"
	"PcapSentry/internal/probe"

	"github.com/nats-io/nats.go"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Logging), "ns-api")

	var nc *nats.Conn
	if cfg.SinkEnabled("nats") {
		bus, err := probe.Connect(cfg.NATS, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer bus.Close()
		nc = bus.Conn()
	}

	pipeline, err := manager.NewPipeline(cfg, nc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pipeline")
	}
	defer pipeline.Close()

	opts := api.Options{
		Analyzer:       pipeline.Manager,
		Gatherer:       pipeline.Registry,
		UploadDir:      cfg.Analysis.UploadDir,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		Logger:         log,
	}
	if mem := pipeline.Sinks.Memory(); mem != nil {
		opts.Alerts = mem
	}

	// Start HTTP server
	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewHandler(opts).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("API server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("API server exited")
}
