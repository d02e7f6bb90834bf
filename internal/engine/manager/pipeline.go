package manager

import (
	"fmt"

	"PcapSentry/internal/alerter"
	"PcapSentry/internal/config"
	"PcapSentry/internal/factory"
	"PcapSentry/internal/metrics"
	"PcapSentry/internal/notification"
	"PcapSentry/internal/sink"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Pipeline is a Manager wired to the sinks, notifier and metrics of a config.
type Pipeline struct {
	Manager    *Manager
	Sinks      sink.Multi
	Dispatcher *alerter.Dispatcher
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
}

// NewPipeline builds every enabled sink, starts the notification dispatcher
// when configured and creates the Manager. nc may be nil when no sink
// needs NATS.
func NewPipeline(cfg *config.Config, nc *nats.Conn, logger zerolog.Logger) (*Pipeline, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sinks, err := factory.Create(cfg.Sinks, factory.Deps{NATS: nc, Logger: logger})
	if err != nil {
		return nil, err
	}
	multi := sink.Multi(sinks)
	if len(multi) == 0 {
		logger.Warn().Msg("no alert sink enabled, alerts will only be counted")
	}

	var dispatcher *alerter.Dispatcher
	if cfg.Notification.Enabled {
		notifier, err := notification.FromConfig(cfg.Notification)
		if err != nil {
			multi.Close()
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		if notifier != nil {
			dispatcher = alerter.NewDispatcher(cfg.Notification, notifier, m, logger)
			dispatcher.Start()
		} else {
			logger.Warn().Msg("notification is enabled in config, but no notifiers are configured")
		}
	}

	mgr, err := NewManager(cfg, multi, dispatcher, m, logger)
	if err != nil {
		if dispatcher != nil {
			dispatcher.Stop()
		}
		multi.Close()
		return nil, err
	}

	return &Pipeline{
		Manager:    mgr,
		Sinks:      multi,
		Dispatcher: dispatcher,
		Metrics:    m,
		Registry:   reg,
	}, nil
}

// Close flushes pending notifications and closes the sinks.
func (p *Pipeline) Close() error {
	if p.Dispatcher != nil {
		p.Dispatcher.Stop()
	}
	return p.Sinks.Close()
}
