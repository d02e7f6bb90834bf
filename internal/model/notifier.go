package model

import "context"

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}

// AlertSink persists or forwards emitted alerts.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert *AlertRecord) error
}

// AlertSinkFunc adapts a function to the AlertSink interface.
type AlertSinkFunc func(ctx context.Context, alert *AlertRecord) error

func (f AlertSinkFunc) SaveAlert(ctx context.Context, alert *AlertRecord) error {
	return f(ctx, alert)
}
