package streamaggregator

import (
	"context"
	"sync"

	"PcapSentry/internal/engine/manager"
	"PcapSentry/internal/probe"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Analyzer is the part of manager.Manager the aggregator needs.
type Analyzer interface {
	AnalyzeCapture(ctx context.Context, path string) (*manager.Report, error)
}

// StreamAggregator consumes capture notices from NATS and analyses each
// announced file with the Analyzer, one at a time.
type StreamAggregator struct {
	analyzer   Analyzer
	subscriber *probe.Subscriber
	notices    chan probe.CaptureNotice
	onReport   func(*manager.Report)
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a StreamAggregator.
type Options struct {
	Subject   string
	Queue     string
	QueueSize int
	// OnReport, when set, receives every successful report.
	OnReport func(*manager.Report)
}

// NewStreamAggregator creates an aggregator on an existing connection.
func NewStreamAggregator(nc *nats.Conn, analyzer Analyzer, opts Options, logger zerolog.Logger) *StreamAggregator {
	size := opts.QueueSize
	if size <= 0 {
		size = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamAggregator{
		analyzer:   analyzer,
		subscriber: probe.NewSubscriber(nc, opts.Subject, opts.Queue, logger),
		notices:    make(chan probe.CaptureNotice, size),
		onReport:   opts.OnReport,
		log:        logger.With().Str("component", "stream_aggregator").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the analysis loop and subscribes.
func (sa *StreamAggregator) Start() error {
	sa.wg.Add(1)
	go sa.run()

	if err := sa.subscriber.Start(sa.handleNotice); err != nil {
		sa.cancel()
		close(sa.notices)
		sa.wg.Wait()
		return err
	}
	sa.log.Info().Msg("stream aggregator started")
	return nil
}

// Stop unsubscribes, cancels the running analysis and waits for the loop.
func (sa *StreamAggregator) Stop() {
	sa.log.Info().Msg("stream aggregator stopping")
	sa.subscriber.Close()
	sa.cancel()
	sa.wg.Wait()
	sa.log.Info().Msg("stream aggregator stopped")
}

// handleNotice runs on the NATS delivery goroutine and must not block.
func (sa *StreamAggregator) handleNotice(n probe.CaptureNotice) {
	select {
	case sa.notices <- n:
	case <-sa.ctx.Done():
	default:
		sa.log.Warn().Str("path", n.Path).Msg("analysis queue is full, dropping capture notice")
	}
}

func (sa *StreamAggregator) run() {
	defer sa.wg.Done()
	for {
		select {
		case <-sa.ctx.Done():
			return
		case n, ok := <-sa.notices:
			if !ok {
				return
			}
			report, err := sa.analyzer.AnalyzeCapture(sa.ctx, n.Path)
			if err != nil {
				sa.log.Error().Err(err).Str("path", n.Path).Msg("capture analysis failed")
				continue
			}
			if sa.onReport != nil {
				sa.onReport(report)
			}
		}
	}
}
