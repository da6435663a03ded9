package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"mailping/pkg/logx"
)

// SMTPConfig configures the outbound email channel.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string // do not log
}

// SMTPSender delivers notifications as plain-text email over SMTP.
type SMTPSender struct {
	cfg SMTPConfig
	log logx.Logger
}

func NewSMTPSender(cfg SMTPConfig, log logx.Logger) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("smtp addr is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTPSender{cfg: cfg, log: log}, nil
}

func (s *SMTPSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(n.To.Email) == "" {
		return fmt.Errorf("user %s has no email address", n.To.ID)
	}

	msg, err := composeText(s.cfg.From, n.To.Email, n.Subject, n.Body)
	if err != nil {
		return fmt.Errorf("composing notification email: %w", err)
	}

	var auth sasl.Client
	if s.cfg.Username != "" {
		auth = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}

	if err := smtp.SendMail(s.cfg.Addr, auth, s.cfg.From, []string{n.To.Email}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", n.To.Email, err)
	}

	s.log.Debug("email sent", logx.String("to", n.To.Email))
	return nil
}

// composeText builds a single-part text/plain MIME message.
func composeText(from, to, subject, body string) (io.Reader, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
