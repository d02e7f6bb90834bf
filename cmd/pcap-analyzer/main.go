package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/engine/manager"
	"PcapSentry/internal/pkg/logger"
	"PcapSentry/internal/probe"
	"PcapSentry/internal/snapshot"

	"github.com/nats-io/nats.go"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	reportDir := flag.String("report-dir", "", "Directory for the analysis report (overrides analysis.report_dir).")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Logging), "pcap-analyzer")
	if *reportDir != "" {
		cfg.Analysis.ReportDir = *reportDir
	}

	// 2. Connect to NATS only when a sink publishes there
	var nc *nats.Conn
	if cfg.SinkEnabled("nats") {
		bus, err := probe.Connect(cfg.NATS, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer bus.Close()
		nc = bus.Conn()
	}

	// 3. Initialize the pipeline
	pipeline, err := manager.NewPipeline(cfg, nc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pipeline")
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Analyse the capture
	report, err := pipeline.Manager.AnalyzeCapture(ctx, pcapFilePath)
	if err != nil {
		log.Error().Err(err).Str("path", pcapFilePath).Msg("analysis failed")
		pipeline.Close()
		os.Exit(1)
	}

	// 5. Persist the report
	if cfg.Analysis.ReportDir != "" {
		dir, err := snapshot.NewWriter().Write(report, cfg.Analysis.ReportDir, time.Now().Format("2006-01-02_15-04-05"))
		if err != nil {
			log.Error().Err(err).Msg("failed to write report")
		} else {
			log.Info().Str("dir", dir).Msg("report written")
		}
	}

	for _, f := range report.Findings {
		fmt.Printf("%-15s %-15s %s\n", f.Kind, f.SourceIP, f.Context)
	}
	fmt.Printf("%d packets, %d findings, %d alerts emitted, %d failed\n",
		report.Decoded, len(report.Findings), report.AlertsEmitted, report.AlertsFailed)
}
