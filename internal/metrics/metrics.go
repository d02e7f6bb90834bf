package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the analysis counters exported at /metrics.
type Metrics struct {
	PacketsRead      prometheus.Counter
	FramesSkipped    prometheus.Counter
	FlowsTracked     *prometheus.CounterVec
	AlertsEmitted    *prometheus.CounterVec
	AlertsFailed     *prometheus.CounterVec
	Analyses         *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	NotifyDropped    prometheus.Counter
	NotifyFailed     prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "packets_read_total",
			Help:      "Packets decoded from analysed captures.",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "frames_skipped_total",
			Help:      "Frames skipped because they could not be decoded.",
		}),
		FlowsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "flows_tracked_total",
			Help:      "Flows aggregated per analysis target.",
		}, []string{"target"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "alerts_emitted_total",
			Help:      "Alerts accepted by the sink, by detector kind.",
		}, []string{"kind"}),
		AlertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "alerts_failed_total",
			Help:      "Alerts the sink rejected, by detector kind.",
		}, []string{"kind"}),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "analyses_total",
			Help:      "Capture analyses by result.",
		}, []string{"result"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pcapsentry",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one capture analysis.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NotifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
		NotifyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcapsentry",
			Name:      "notifications_failed_total",
			Help:      "Notifications the notifier failed to deliver.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PacketsRead, m.FramesSkipped, m.FlowsTracked,
			m.AlertsEmitted, m.AlertsFailed, m.Analyses,
			m.AnalysisDuration, m.NotifyDropped, m.NotifyFailed,
		)
	}
	return m
}
