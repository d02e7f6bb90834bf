// Package sink holds the alert sinks selectable from the sinks section of the config.
package sink

import (
	"context"
	"errors"

	"PcapSentry/internal/config"
	"PcapSentry/internal/factory"
	"PcapSentry/internal/model"

	"github.com/rs/zerolog"
)

func init() {
	factory.RegisterSink("log", func(_ config.SinkDef, deps factory.Deps) (model.AlertSink, error) {
		return NewLogSink(deps.Logger), nil
	})
	factory.RegisterSink("memory", func(def config.SinkDef, _ factory.Deps) (model.AlertSink, error) {
		return NewMemorySink(def.Capacity), nil
	})
	factory.RegisterSink("clickhouse", func(def config.SinkDef, deps factory.Deps) (model.AlertSink, error) {
		return NewClickHouseSink(def.ClickHouse, deps.Logger)
	})
	factory.RegisterSink("redis", func(def config.SinkDef, deps factory.Deps) (model.AlertSink, error) {
		return NewRedisSink(def.Redis, deps.Logger)
	})
	factory.RegisterSink("nats", func(def config.SinkDef, deps factory.Deps) (model.AlertSink, error) {
		if deps.NATS == nil {
			return nil, errors.New("nats sink requires a NATS connection")
		}
		return NewNATSSink(deps.NATS, def.NATS)
	})
}

// Multi forwards each alert to every sink in order. An alert counts as saved
// when at least one sink accepted it.
type Multi []model.AlertSink

// SaveAlert implements model.AlertSink.
func (m Multi) SaveAlert(ctx context.Context, alert *model.AlertRecord) error {
	if len(m) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m {
		if err := s.SaveAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}

// Close closes every sink that holds a connection.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Memory returns the first in-memory sink, if one is configured.
func (m Multi) Memory() *MemorySink {
	for _, s := range m {
		if ms, ok := s.(*MemorySink); ok {
			return ms
		}
	}
	return nil
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{log: logger.With().Str("component", "log_sink").Logger()}
}

// SaveAlert implements model.AlertSink.
func (s *LogSink) SaveAlert(_ context.Context, alert *model.AlertRecord) error {
	s.log.Warn().
		Str("id", alert.ID).
		Str("kind", alert.KindName).
		Str("category", alert.Category).
		Str("source_ip", alert.SourceIP).
		Str("context", alert.Context).
		Time("timestamp", alert.Timestamp).
		Int("evidence_bytes", len(alert.Evidence)).
		Msg("security alert")
	return nil
}
