package alerter

import (
	"context"
	"fmt"
	"html"
	"sync"
	"unicode/utf8"

	"PcapSentry/internal/config"
	"PcapSentry/internal/metrics"
	"PcapSentry/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxEvidenceInMail = 2048

// NotifyError reports a notification that could not be delivered.
type NotifyError struct {
	AlertID string
	Err     error
}

func (e NotifyError) Error() string {
	return fmt.Sprintf("notification for alert %s: %v", e.AlertID, e.Err)
}

// Dispatcher delivers alert notifications from a bounded queue using a fixed
// pool of workers. Notifications never block detection: when the queue is
// full the notification is dropped. Delivery failures are published on Errors.
type Dispatcher struct {
	notifier model.Notifier
	tasks    chan *model.AlertRecord
	errs     chan NotifyError
	limiter  *rate.Limiter
	workers  int
	metrics  *metrics.Metrics
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher for notifier. It does not start workers.
func NewDispatcher(cfg config.NotificationConfig, notifier model.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	workers := cfg.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 64
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		notifier: notifier,
		tasks:    make(chan *model.AlertRecord, queue),
		errs:     make(chan NotifyError, queue),
		limiter:  rate.NewLimiter(limit, burst),
		workers:  workers,
		metrics:  m,
		log:      logger.With().Str("component", "dispatcher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.worker()
	}
	d.log.Info().Int("workers", d.workers).Int("queue", cap(d.tasks)).Msg("dispatcher started")
}

// Stop stops accepting notifications, drains the queue and waits for workers.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.tasks)
		d.mu.Unlock()

		d.wg.Wait()
		d.cancel()
		close(d.errs)
		d.log.Info().Msg("dispatcher stopped")
	})
}

// Errors returns the channel on which delivery failures are published.
// It is closed by Stop.
func (d *Dispatcher) Errors() <-chan NotifyError {
	return d.errs
}

// Submit enqueues a notification without blocking. It reports false when
// the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Submit(alert *model.AlertRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.tasks <- alert:
		return true
	default:
		d.log.Warn().Str("id", alert.ID).Msg("notification queue is full, dropping notification")
		if d.metrics != nil {
			d.metrics.NotifyDropped.Inc()
		}
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for alert := range d.tasks {
		if err := d.limiter.Wait(d.ctx); err != nil {
			d.report(alert, err)
			continue
		}
		subject, body := FormatNotification(alert)
		if err := d.notifier.Send(subject, body); err != nil {
			d.report(alert, err)
			continue
		}
		d.log.Debug().Str("id", alert.ID).Msg("notification sent")
	}
}

func (d *Dispatcher) report(alert *model.AlertRecord, err error) {
	d.log.Error().Err(err).Str("id", alert.ID).Msg("failed to send notification")
	if d.metrics != nil {
		d.metrics.NotifyFailed.Inc()
	}
	select {
	case d.errs <- NotifyError{AlertID: alert.ID, Err: err}:
	default:
	}
}

// FormatNotification renders the subject and HTML body of an alert mail.
func FormatNotification(alert *model.AlertRecord) (string, string) {
	subject := fmt.Sprintf("PcapSentry Alert: %s from %s", alert.Category, alert.SourceIP)

	evidence := truncateEvidence(alert.Evidence, maxEvidenceInMail)
	body := "<h1>PcapSentry Alert</h1>" +
		"<p><b>Kind:</b> " + html.EscapeString(alert.KindName) + "</p>" +
		"<p><b>Source IP:</b> " + html.EscapeString(alert.SourceIP) + "</p>" +
		"<p><b>Context:</b> " + html.EscapeString(alert.Context) + "</p>" +
		"<p><b>Time:</b> " + alert.Timestamp.Format("2006-01-02 15:04:05") + "</p><hr>" +
		"<pre>" + html.EscapeString(evidence) + "</pre>"
	return subject, body
}

// truncateEvidence cuts s to at most limit bytes without splitting a rune.
func truncateEvidence(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
