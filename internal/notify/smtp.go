// Package notify sends assignment notifications over SMTP. Entirely
// optional: when no host is configured the no-op sender is used and
// assignment proceeds silently.
package notify

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
)

// Sender delivers a notification to one recipient.
type Sender interface {
	Send(to, subject, textBody string) error
}

// SMTPSender sends plain-text mail through an SMTP relay.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	InsecureSkipVerify bool
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass}
}

func (s *SMTPSender) Send(to, subject, textBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // dev relays only
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("notify: send to %s: %w", to, err)
	}
	return nil
}

// Noop is a Sender that discards everything.
type Noop struct{}

func (Noop) Send(to, subject, textBody string) error { return nil }
