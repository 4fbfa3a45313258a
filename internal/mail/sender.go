// Package mail delivers export artifacts as SMTP attachments.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

func (c Config) validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("mail host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("mail port %d out of range", c.Port))
	}
	if c.From == "" {
		errs = append(errs, errors.New("mail sender address is required"))
	}
	if (c.Username == "") != (c.Password == "") {
		errs = append(errs, errors.New("mail username and password must be set together"))
	}
	return errors.Join(errs...)
}

// Message is one email with a single attachment.
type Message struct {
	To             string
	Subject        string
	Body           string
	AttachmentName string
	ContentType    string
	Data           []byte
}

type Sender struct {
	cfg    Config
	logger *slog.Logger
}

func New(logger *slog.Logger, cfg Config) (*Sender, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("mail config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{cfg: cfg, logger: logger}, nil
}

// Build assembles the MIME message without sending it.
func (s *Sender) Build(msg Message) (*gomail.Msg, error) {
	if msg.To == "" {
		return nil, &exporterr.PreconditionError{Reason: "no recipient"}
	}
	if msg.AttachmentName == "" || len(msg.Data) == 0 {
		return nil, &exporterr.PreconditionError{Reason: "empty attachment"}
	}
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from %q: %w", s.cfg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, &exporterr.PreconditionError{Reason: fmt.Sprintf("invalid recipient %q", msg.To)}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	var fileOpts []gomail.FileOption
	if msg.ContentType != "" {
		fileOpts = append(fileOpts, gomail.WithFileContentType(gomail.ContentType(msg.ContentType)))
	}
	if err := m.AttachReader(msg.AttachmentName, bytes.NewReader(msg.Data), fileOpts...); err != nil {
		return nil, fmt.Errorf("attach %s: %w", msg.AttachmentName, err)
	}
	return m, nil
}

// Send dials, authenticates and delivers msg. Each call uses its own connection.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	m, err := s.Build(msg)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	c, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	start := time.Now()
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		s.logger.Warn("mail send failed", "host", s.cfg.Host, "to", msg.To, "err", err)
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	s.logger.Info("mail sent", "to", msg.To, "attachment", msg.AttachmentName,
		"bytes", len(msg.Data), "dur_ms", time.Since(start).Milliseconds())
	return nil
}
