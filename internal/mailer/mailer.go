// Package mailer sends transactional email over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"

	"github.com/crewdesk/crewdesk/internal/config"
)

// Email is one outbound message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTP delivers through a configured SMTP relay.
type SMTP struct {
	log  *slog.Logger
	cfg  config.MailerConfig
	from string
}

func NewSMTP(log *slog.Logger, cfg config.MailerConfig) *SMTP {
	return &SMTP{
		log:  log.With(slog.String("service", "mailer")),
		cfg:  cfg,
		from: cfg.From,
	}
}

func (s *SMTP) Send(ctx context.Context, email Email) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.Body)

	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	s.log.Debug("mail sent", slog.String("to", email.To), slog.String("subject", email.Subject))
	return nil
}

// Noop drops mail on the floor. Used when no SMTP relay is configured.
type Noop struct {
	log *slog.Logger
}

func NewNoop(log *slog.Logger) *Noop {
	return &Noop{log: log.With(slog.String("service", "mailer"))}
}

func (n *Noop) Send(_ context.Context, email Email) error {
	n.log.Debug("mailer disabled, dropping mail", slog.String("to", email.To))
	return nil
}
