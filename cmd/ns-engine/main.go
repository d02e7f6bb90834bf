package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/engine/manager"
	"PcapSentry/internal/engine/streamaggregator"
	"PcapSentry/internal/pkg/logger"
	"PcapSentry/internal/probe"
	"PcapSentry/internal/snapshot"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "pcapsentry.engine"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Logging), "ns-engine")
	log.Info().Msg("starting ns-engine")

	// 2. Connect to NATS, or start an embedded server
	bus, err := probe.Connect(cfg.NATS, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer bus.Close()

	// 3. Build the analysis pipeline
	pipeline, err := manager.NewPipeline(cfg, bus.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pipeline")
	}
	defer pipeline.Close()

	writer := snapshot.NewWriter()
	onReport := func(r *manager.Report) {
		if cfg.Analysis.ReportDir == "" {
			return
		}
		if _, err := writer.Write(r, cfg.Analysis.ReportDir, time.Now().Format("2006-01-02_15-04-05")); err != nil {
			log.Error().Err(err).Str("path", r.Path).Msg("failed to write report")
		}
	}

	// 4. Start the stream aggregator
	streamAgg := streamaggregator.NewStreamAggregator(bus.Conn(), pipeline.Manager, streamaggregator.Options{
		Subject:  cfg.Probe.Subject,
		Queue:    "pcapsentry-engines",
		OnReport: onReport,
	}, log)
	if err := streamAgg.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start stream aggregator")
	}

	// 5. Expose gRPC health
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.API.GRPCListenAddr).Msg("failed to listen")
	}
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server starting")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	// 6. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutdown signal received, stopping aggregator")
	healthServer.Shutdown()
	streamAgg.Stop()
	grpcServer.GracefulStop()
	log.Info().Msg("shutdown complete")
}
