// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// ErrPermanent marks a send failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Sender delivers one message synchronously.
type Sender interface {
	Send(ctx context.Context, msg auth.Message) error
}

// DefaultSMTPTimeout bounds one delivery attempt when SMTPConfig.Timeout is
// zero.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string //nolint:gosec // G117: config field, not a hardcoded credential
	From     string
	Timeout  time.Duration
}

type transportFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPSender sends HTML mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	cfg       SMTPConfig
	addr      string
	auth      smtp.Auth
	dialer    net.Dialer
	transport transportFunc
}

// NewSMTPSender validates cfg and creates a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("sender address is required")
	}
	if cfg.Timeout < 0 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("timeout", cfg.Timeout).Errorf("smtp timeout is negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}

	s := &SMTPSender{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	s.transport = s.deliver
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

// Send delivers msg. SMTP 5xx replies are marked with ErrPermanent. The
// attempt ends when ctx is done or the configured timeout passes, whichever
// comes first.
func (s *SMTPSender) Send(ctx context.Context, msg auth.Message) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_CANCELED").Wrap(err)
	}
	body, err := buildMessage(s.cfg.From, msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err = s.transport(ctx, s.cfg.From, []string{msg.To}, body)
	if err == nil {
		return nil
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return oops.Code("MAIL_REJECTED").
			With("smtp_code", protoErr.Code).
			Wrap(errors.Join(ErrPermanent, err))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return oops.Code("MAIL_SEND_CANCELED").With("addr", s.addr).Wrap(errors.Join(ctxErr, err))
	}
	return oops.Code("MAIL_SEND_FAILED").With("addr", s.addr).Wrap(err)
}

// deliver runs one SMTP transaction on a connection bound to ctx: the
// connection deadline follows ctx's deadline and cancellation closes it.
func (s *SMTPSender) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // QUIT already reported the outcome
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck // closes the same conn

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// buildMessage renders an RFC 5322 message with an HTML body.
func buildMessage(from string, msg auth.Message) ([]byte, error) {
	for _, v := range []string{from, msg.To, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, oops.Code("MAIL_HEADER_INVALID").Wrap(ErrPermanent)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String()), nil
}

// LogSender writes messages to the log instead of sending them. It is meant
// for development, where the passcode is read from the log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, msg auth.Message) error {
	s.logger.InfoContext(ctx, "mail not sent (log driver)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.HTML)
	return nil
}
