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
	"PcapSentry/internal/pkg/logger"
	"PcapSentry/internal/probe"
	"PcapSentry/internal/probe/live"
	"PcapSentry/internal/probe/persistent"

	"github.com/rs/zerolog"
)

func main() {
	// --- Command-Line Flag Parsing ---
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and announce files, 'sub' to print announcements.")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides probe.interface).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *iface != "" {
		cfg.Probe.Interface = *iface
	}
	log := logger.Component(logger.New(cfg.Logging), "ns-probe")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		err = runProbe(ctx, cfg, log)
	case "sub":
		err = runSubscriber(ctx, cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("ns-probe failed")
	}
}

// runProbe captures from the interface, drains the buffer into a capture
// file every drain interval and announces each file on NATS.
func runProbe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	interval, err := time.ParseDuration(cfg.Probe.DrainInterval)
	if err != nil {
		return err
	}

	bus, err := probe.Connect(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer bus.Close()
	pub := probe.NewPublisher(bus.Conn(), cfg.Probe.Subject)

	capture, err := live.OpenLive(cfg.Probe, log)
	if err != nil {
		return err
	}
	defer capture.Close()

	buf, err := persistent.NewBuffer(persistent.Options{
		Dir:      cfg.Probe.OutputDir,
		LinkType: capture.LinkType(),
		SnapLen:  uint32(cfg.Probe.SnapLen),
	}, log)
	if err != nil {
		return err
	}
	buf.Start()

	captureErr := make(chan error, 1)
	go func() { captureErr <- capture.Run(ctx, buf) }()

	drain := func() {
		path, n, err := buf.Drain(time.Now())
		if err != nil {
			log.Error().Err(err).Msg("failed to save capture")
			return
		}
		if path == "" {
			return
		}
		if err := pub.Publish(probe.CaptureNotice{Path: path, Packets: n, CapturedAt: time.Now()}); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to announce capture")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			drain()
		case err := <-captureErr:
			buf.Stop()
			drain()
			return err
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, saving remaining packets")
			buf.Stop()
			<-captureErr
			drain()
			return nil
		}
	}
}

// runSubscriber prints every capture announcement.
func runSubscriber(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	bus, err := probe.Connect(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	sub := probe.NewSubscriber(bus.Conn(), cfg.Probe.Subject, "", log)
	if err := sub.Start(func(n probe.CaptureNotice) {
		log.Info().Str("path", n.Path).Int("packets", n.Packets).Time("captured_at", n.CapturedAt).Msg("capture announced")
	}); err != nil {
		return err
	}
	defer sub.Close()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, cleaning up")
	return nil
}
