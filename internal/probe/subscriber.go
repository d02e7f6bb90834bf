package probe

import (
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NoticeHandler processes a received capture notice.
type NoticeHandler func(n CaptureNotice)

// Subscriber receives capture notices from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	queue   string
	log     zerolog.Logger
}

// NewSubscriber creates a subscriber. A non-empty queue makes several
// engines share the notices instead of each receiving all of them.
func NewSubscriber(nc *nats.Conn, subject, queue string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		nc:      nc,
		subject: subject,
		queue:   queue,
		log:     logger.With().Str("component", "subscriber").Logger(),
	}
}

// Start subscribes and hands every valid notice to handler.
func (s *Subscriber) Start(handler NoticeHandler) error {
	cb := func(msg *nats.Msg) {
		n, err := UnmarshalCaptureNotice(msg.Data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed capture notice")
			return
		}
		handler(n)
	}

	var err error
	if s.queue != "" {
		s.sub, err = s.nc.QueueSubscribe(s.subject, s.queue, cb)
	} else {
		s.sub, err = s.nc.Subscribe(s.subject, cb)
	}
	if err != nil {
		return err
	}
	s.log.Info().Str("subject", s.subject).Msg("subscribed, waiting for capture notices")
	return nil
}

// Close unsubscribes.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}
