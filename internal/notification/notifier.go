package notification

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg      config.SMTPConfig
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	// PlainAuth will not send credentials until the server identifies itself as a trusted one.
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{cfg: cfg, auth: auth, sendMail: smtp.SendMail}
}

// Send sends an email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var recipients []string
	for _, r := range strings.Split(n.cfg.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return errors.New("no email recipients configured")
	}

	msg := []byte("To: " + strings.Join(recipients, ", ") + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)

	if err := n.sendMail(addr, n.auth, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []model.Notifier

// Send delivers to every notifier and joins their errors.
func (m MultiNotifier) Send(subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers enabled in cfg. It returns nil when none is configured.
func FromConfig(cfg config.NotificationConfig) (model.Notifier, error) {
	var notifiers MultiNotifier
	if cfg.SMTP.Host != "" {
		notifiers = append(notifiers, NewEmailNotifier(cfg.SMTP))
	}
	if cfg.Webhook.URL != "" {
		wh, err := NewWebhookNotifier(cfg.Webhook)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, wh)
	}
	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	}
	return notifiers, nil
}
