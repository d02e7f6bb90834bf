package alerter

import (
	"context"
	"time"

	"PcapSentry/internal/metrics"
	"PcapSentry/internal/model"

	"github.com/rs/zerolog"
)

// Emitter turns detector results into AlertRecords and hands them to the sink.
// Delivery is at most once: sink failures are logged and never retried.
type Emitter struct {
	sink       model.AlertSink
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewEmitter creates an emitter. dispatcher and m may be nil.
func NewEmitter(sink model.AlertSink, dispatcher *Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *Emitter {
	return &Emitter{
		sink:       sink,
		dispatcher: dispatcher,
		metrics:    m,
		log:        logger.With().Str("component", "emitter").Logger(),
		now:        time.Now,
	}
}

// SetClock replaces the timestamp source.
func (e *Emitter) SetClock(now func() time.Time) {
	e.now = now
}

// Emit builds and forwards one alert. It panics when kind is not a defined
// DetectorKind and returns false when the sink rejects the alert.
func (e *Emitter) Emit(ctx context.Context, kind model.DetectorKind, evidence, sourceIP, contextLabel string) bool {
	alert := model.NewAlertRecord(kind, evidence, sourceIP, contextLabel, e.now())

	if err := e.sink.SaveAlert(ctx, alert); err != nil {
		e.log.Error().Err(err).Str("kind", kind.String()).Str("source_ip", alert.SourceIP).Msg("failed to save alert")
		if e.metrics != nil {
			e.metrics.AlertsFailed.WithLabelValues(kind.String()).Inc()
		}
		return false
	}

	if e.metrics != nil {
		e.metrics.AlertsEmitted.WithLabelValues(kind.String()).Inc()
	}
	e.log.Info().Str("id", alert.ID).Str("kind", kind.String()).Str("source_ip", alert.SourceIP).Str("context", contextLabel).Msg("alert emitted")

	if e.dispatcher != nil {
		e.dispatcher.Submit(alert)
	}
	return true
}
