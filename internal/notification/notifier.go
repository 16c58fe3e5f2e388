// Package notification delivers best-effort messages to users. Failures here
// never affect the outcome of the operation that triggered them.
package notification

import (
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

// Notifier sends a message to a set of recipient addresses.
type Notifier interface {
	Send(to []string, subject, body string) error
}

// SMTPNotifier sends plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, username, password, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		logger: logger,
	}
}

func (n *SMTPNotifier) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Warn("mail dispatch failed",
			zap.Strings("to", to),
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}
	return nil
}

// NoopNotifier is used when SMTP is not configured (local development).
type NoopNotifier struct{}

func (NoopNotifier) Send(to []string, subject, body string) error { return nil }
