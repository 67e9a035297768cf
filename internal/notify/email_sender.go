package notify

import (
	"context"
	"fmt"
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/types"
)

// RenderedMessage is an email ready to send.
type RenderedMessage struct {
	Subject string
	Text    string
	HTML    string
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers messages via SMTP.
type EmailSender struct {
	cfg    config.EmailConfig
	dialer mailDialer
}

// NewEmailSender creates a sender with the given SMTP configuration.
func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	dialer := gomail.NewDialer(cfg.SMTPServer, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	dialer.Timeout = 10 * time.Second
	return &EmailSender{cfg: cfg, dialer: dialer}
}

// Send delivers an email with HTML body and plain text fallback.
func (s *EmailSender) Send(msg *RenderedMessage) error {
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.SMTPUser
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", s.cfg.ToEmail)
	m.SetHeader("Subject", msg.Subject)

	if msg.HTML != "" && msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else if msg.HTML != "" {
		m.SetBody("text/html", msg.HTML)
	} else {
		m.SetBody("text/plain", msg.Text)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send to %s (Subject: %s): %w", s.cfg.ToEmail, msg.Subject, err)
	}
	return nil
}

// EmailSink renders and mails one message per notification.
type EmailSink struct {
	sender   *EmailSender
	renderer *HTMLEmailRenderer
}

func NewEmailSink(sender *EmailSender, renderer *HTMLEmailRenderer) *EmailSink {
	return &EmailSink{sender: sender, renderer: renderer}
}

func (s *EmailSink) Name() string { return "email" }

// Send ignores ctx cancellation once the SMTP dial has started; the dialer
// carries its own timeout.
func (s *EmailSink) Send(ctx context.Context, n types.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.renderer.Render(n)
	if err != nil {
		return err
	}
	return s.sender.Send(msg)
}
