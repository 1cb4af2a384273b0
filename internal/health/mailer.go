// Package health implements Data Sleigh's threshold checks and
// cooldown-rate-limited SMTP alerting (spec.md §4.9). Grounded on
// `_examples/vinceanalytics-vince/internal/email/email.go`'s
// go-smtp/go-sasl/go-message mailer shape.
package health

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/xmastree/datasleigh/internal/config"
)

// Mailer sends a single plain-text message. The one implementation is
// SMTP below; tests substitute a fake to avoid dialing a real server.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer authenticates with PLAIN auth over the configured host,
// matching the teacher's SMTP.SendMail wrapper around smtp.SendMail.
type SMTPMailer struct {
	addr string
	auth sasl.Client
	from string
}

// NewSMTPMailer builds a Mailer from the alerting configuration. It
// does not dial until the first Send, matching net/smtp.SendMail's
// connect-per-call behavior.
func NewSMTPMailer(cfg config.Alerting) *SMTPMailer {
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	var auth sasl.Client
	if cfg.SMTPUsername != "" {
		auth = sasl.NewPlainClient("", cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return &SMTPMailer{addr: addr, auth: auth, from: cfg.SMTPUsername}
}

// Send composes a plain-text message with go-message/mail and sends it
// via go-smtp's SendMail helper.
func (m *SMTPMailer) Send(to, subject, body string) error {
	var buf bytes.Buffer
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: "Data Sleigh", Address: m.from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return fmt.Errorf("composing alert email: %w", err)
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain")
	w, err := mw.CreateSingleInline(th)
	if err != nil {
		return fmt.Errorf("composing alert email body: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, &buf); err != nil {
		return fmt.Errorf("sending alert email: %w", err)
	}
	return nil
}
