// Package mail delivers notification emails over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	cfgpkg "github.com/fatflowers/membership/pkg/config"
)

// Sender delivers one message. ok=false with a nil error is a permanent
// rejection; a non-nil error is transient and the message may be retried.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (ok bool, err error)
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPSender struct {
	dialer   dialer
	from     string
	fromName string
}

func NewSMTPSender(cfg cfgpkg.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (bool, error) {
	if strings.TrimSpace(to) == "" {
		return false, nil
	}
	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.from, s.fromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("send mail: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return true, nil
		}
		if permanent(err) {
			return false, nil
		}
		return false, fmt.Errorf("send mail: %w", err)
	}
}

// permanent reports SMTP 5xx replies (bad mailbox, policy rejection).
func permanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

// LogSender logs messages instead of sending them; used when SMTP is not configured.
type LogSender struct {
	log *zap.SugaredLogger
}

func NewLogSender(log *zap.SugaredLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) (bool, error) {
	s.log.Infow("mail not configured, message logged only", "to", to, "subject", subject)
	return true, nil
}

func newSender(cfg *cfgpkg.Config, log *zap.SugaredLogger) Sender {
	if cfg.SMTP.Host == "" {
		log.Warnw("smtp.host is empty, notifications will only be logged")
		return NewLogSender(log)
	}
	return NewSMTPSender(cfg.SMTP)
}

var Module = fx.Options(
	fx.Provide(newSender),
)
