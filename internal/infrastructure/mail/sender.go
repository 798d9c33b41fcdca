package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"TrendWatcher/internal/config"
	"TrendWatcher/internal/ports"
)

const implicitTLSPort = 465

// Sender delivers digests over an authenticated SMTP relay.
type Sender struct {
	cfg    config.MailConfig
	logger *slog.Logger
}

var _ ports.Mailer = (*Sender)(nil)

// NewSender registers relay settings; nothing is dialed until Send.
func NewSender(cfg config.MailConfig, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{cfg: cfg, logger: logger.With("component", "mail")}
}

// Compose builds the multipart/alternative message for email.
func (s *Sender) Compose(email ports.Email) (*gomail.Msg, error) {
	if s.cfg.From == "" {
		return nil, fmt.Errorf("mail sender misconfigured: empty from address")
	}
	if strings.TrimSpace(email.To) == "" {
		return nil, fmt.Errorf("compose email: empty recipient")
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.AddToFormat(email.ToName, email.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextPlain, email.PlainText)
	if email.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, email.HTML)
	}
	return msg, nil
}

// Send composes and transmits a single email. There is no retry.
func (s *Sender) Send(ctx context.Context, email ports.Email) error {
	msg, err := s.Compose(email)
	if err != nil {
		return err
	}

	client, err := s.client()
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", email.To, err)
	}

	s.logger.Info("email sent", "to", email.To, "subject", email.Subject)
	return nil
}

func (s *Sender) client() (*gomail.Client, error) {
	if s.cfg.Host == "" {
		return nil, fmt.Errorf("mail sender misconfigured: empty host")
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(30 * time.Second),
	}
	if s.cfg.Port == implicitTLSPort {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSMandatory))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("new smtp client: %w", err)
	}
	return client, nil
}
