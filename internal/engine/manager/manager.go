package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"PcapSentry/internal/alerter"
	"PcapSentry/internal/config"
	"PcapSentry/internal/engine/detector"
	"PcapSentry/internal/engine/flowaggregator"
	"PcapSentry/internal/engine/protocol"
	"PcapSentry/internal/metrics"
	"PcapSentry/internal/model"
	"PcapSentry/pkg/pcap"

	"github.com/rs/zerolog"
)

// Report summarizes one AnalyzeCapture call.
type Report struct {
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`

	Frames    int  `json:"frames"`
	Decoded   int  `json:"decoded"`
	Skipped   int  `json:"skipped"`
	Truncated bool `json:"truncated"`
	Accepted  int  `json:"accepted"`

	StreamFlows      int `json:"stream_flows"`
	TruncatedStreams int `json:"truncated_streams"`
	TCPFlows         int `json:"tcp_flows"`
	UDPFlows         int `json:"udp_flows"`

	Findings      []detector.Finding `json:"findings"`
	AlertsEmitted int                `json:"alerts_emitted"`
	AlertsFailed  int                `json:"alerts_failed"`
}

// Manager runs the analysis pipeline over capture files. The filter table,
// rules and thresholds are fixed at construction; every call builds its
// aggregates from scratch, so calls share no flow state.
type Manager struct {
	filter         protocol.Filter
	target         net.IP
	numWorkers     int
	channelSize    int
	maxStreamBytes int

	signature  *detector.SignatureDetector
	volumetric *detector.VolumetricDetector
	emitter    *alerter.Emitter
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewManager builds a Manager from cfg. dispatcher and m may be nil.
func NewManager(cfg *config.Config, sink model.AlertSink, dispatcher *alerter.Dispatcher, m *metrics.Metrics, logger zerolog.Logger) (*Manager, error) {
	log := logger.With().Str("component", "manager").Logger()

	table, err := protocol.NewFilterTable(cfg.Protocols)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol table: %w", err)
	}
	filter, unknown := table.Resolve(cfg.Analysis.PayloadLabels)
	for _, l := range unknown {
		log.Warn().Str("label", l).Strs("known", table.Labels()).Msg("unknown protocol label, it will match nothing")
	}

	var target net.IP
	if cfg.Analysis.TargetIP != "" {
		if target = net.ParseIP(cfg.Analysis.TargetIP); target == nil {
			return nil, fmt.Errorf("invalid analysis.target_ip %q", cfg.Analysis.TargetIP)
		}
	}

	rules, err := detector.NewRules(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	thresholds, err := detector.ThresholdsFromConfig(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	numWorkers := cfg.Analysis.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	channelSize := cfg.Analysis.SizeOfChannel
	if channelSize <= 0 {
		channelSize = 1024
	}

	return &Manager{
		filter:         filter,
		target:         target,
		numWorkers:     numWorkers,
		channelSize:    channelSize,
		maxStreamBytes: cfg.Analysis.MaxStreamBytes,
		signature:      detector.NewSignatureDetector(rules),
		volumetric:     detector.NewVolumetricDetector(thresholds),
		emitter:        alerter.NewEmitter(sink, dispatcher, m, logger),
		metrics:        m,
		log:            log,
	}, nil
}

// Emitter returns the emitter alerts go through.
func (m *Manager) Emitter() *alerter.Emitter {
	return m.emitter
}

// AnalyzeCapture scans the capture at path once, runs every detector over
// the resulting aggregates and emits the alerts. It fails without emitting
// anything when the file cannot be opened or read to the end.
func (m *Manager) AnalyzeCapture(ctx context.Context, path string) (*Report, error) {
	start := time.Now()
	report := &Report{Path: path, StartedAt: start}

	agg, err := m.scan(ctx, path, report)
	if err != nil {
		m.observe("error", start)
		return nil, err
	}

	streams := agg.Streams()
	tcp := agg.Samples(model.TransportTCP)
	udp := agg.Samples(model.TransportUDP)
	report.StreamFlows = len(streams)
	report.TruncatedStreams = agg.TruncatedStreams()
	report.TCPFlows = len(tcp)
	report.UDPFlows = len(udp)
	if m.metrics != nil {
		m.metrics.FlowsTracked.WithLabelValues(m.targetLabel()).Add(float64(len(tcp) + len(udp)))
	}

	isUpload := agg.IsUpload

	findings := m.signature.Run(streams)
	findings = append(findings, m.volumetric.Run(tcp, model.TransportTCP, isUpload)...)
	findings = append(findings, m.volumetric.Run(udp, model.TransportUDP, isUpload)...)
	report.Findings = findings

	for _, f := range findings {
		if m.emitter.Emit(ctx, f.Kind, f.Evidence, f.SourceIP, f.Context) {
			report.AlertsEmitted++
		} else {
			report.AlertsFailed++
		}
	}

	report.Duration = time.Since(start).String()
	m.observe("ok", start)
	m.log.Info().
		Str("path", path).
		Int("packets", report.Decoded).
		Int("accepted", report.Accepted).
		Int("stream_flows", report.StreamFlows).
		Int("findings", len(findings)).
		Int("alerts", report.AlertsEmitted).
		Str("duration", report.Duration).
		Msg("capture analysed")
	return report, nil
}

// scan reads the capture and feeds the aggregator. Records are pinned to a
// worker by flow hash, so each flow has a single writer and keeps its
// arrival order.
func (m *Manager) scan(ctx context.Context, path string, report *Report) (*flowaggregator.Aggregator, error) {
	reader, err := pcap.NewReader(path, m.log)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	report.Format = reader.Format()

	agg := flowaggregator.NewAggregator(flowaggregator.Options{
		TargetIP:       m.target,
		PayloadFilter:  m.filter,
		MaxStreamBytes: m.maxStreamBytes,
		UploadMatch:    m.signature.IsUploadRequest,
	})

	channels := make([]chan *model.PacketRecord, m.numWorkers)
	var wg sync.WaitGroup
	wg.Add(m.numWorkers)
	for i := range channels {
		channels[i] = make(chan *model.PacketRecord, m.channelSize/m.numWorkers+1)
		go func(in <-chan *model.PacketRecord) {
			defer wg.Done()
			for rec := range in {
				agg.Ingest(rec)
			}
		}(channels[i])
	}

	scanErr := m.dispatch(ctx, reader, agg, channels, report)

	for _, ch := range channels {
		close(ch)
	}
	wg.Wait()

	stats := reader.Stats()
	report.Frames = stats.Frames
	report.Decoded = stats.Decoded
	report.Skipped = stats.Skipped
	report.Truncated = stats.Truncated
	if m.metrics != nil {
		m.metrics.PacketsRead.Add(float64(stats.Decoded))
		m.metrics.FramesSkipped.Add(float64(stats.Skipped))
	}

	if scanErr != nil {
		return nil, scanErr
	}
	return agg, nil
}

func (m *Manager) dispatch(ctx context.Context, reader *pcap.Reader, agg *flowaggregator.Aggregator, channels []chan *model.PacketRecord, report *Report) error {
	n := uint32(len(channels))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := reader.Next()
		if err != nil {
			if errors.Is(err, pcap.ErrEndOfCapture) {
				return nil
			}
			return err
		}

		key, ok := agg.Accepts(rec)
		if !ok {
			continue
		}
		report.Accepted++

		select {
		case channels[flowaggregator.FlowHash(key)%n] <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) targetLabel() string {
	if m.target == nil {
		return "any"
	}
	return m.target.String()
}

func (m *Manager) observe(result string, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.Analyses.WithLabelValues(result).Inc()
	m.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
}
