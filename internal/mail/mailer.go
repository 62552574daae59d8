package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SendTimeout caps one SMTP conversation from dial to QUIT.
const SendTimeout = 30 * time.Second

// Mailer sends recovery codes.
type Mailer interface {
	SendRecoveryCode(ctx context.Context, toEmail, code string, expiresIn time.Duration) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
}

// SMTPMailer delivers mail through an SMTP relay that supports STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// New returns an SMTPMailer when a host is configured and a LogMailer otherwise.
func New(cfg SMTPConfig, log *logrus.Entry) Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		return &LogMailer{log: log}
	}
	return NewSMTPMailer(cfg)
}

// SendRecoveryCode emails the one-time code.
func (m *SMTPMailer) SendRecoveryCode(ctx context.Context, toEmail, code string, expiresIn time.Duration) error {
	if err := m.sendMail(ctx, toEmail, recoveryMessage(m.cfg.FromAddress, toEmail, code, expiresIn)); err != nil {
		return fmt.Errorf("sending recovery code: %w", err)
	}
	return nil
}

func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{Timeout: SendTimeout}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	// bounds the whole exchange, not just the dial
	deadline := time.Now().Add(SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("smtp deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// LogMailer writes the code to the log instead of sending it. Development only.
type LogMailer struct {
	log *logrus.Entry
}

// SendRecoveryCode logs the code at debug level.
func (m *LogMailer) SendRecoveryCode(_ context.Context, toEmail, code string, expiresIn time.Duration) error {
	if m.log != nil {
		m.log.WithFields(logrus.Fields{
			"to":        toEmail,
			"code":      code,
			"expiresIn": formatDuration(expiresIn),
		}).Debug("smtp not configured, recovery code not sent")
	}
	return nil
}

func recoveryMessage(from, to, code string, expiresIn time.Duration) string {
	body := "Use the code below to reset your password:\n\n" +
		"    " + code + "\n\n" +
		"This code expires in " + formatDuration(expiresIn) + ". If you did not request a reset, ignore this email."

	return "From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: Your password recovery code\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body
}

// formatDuration renders an expiry such as "15 minutes" or "1 hour".
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
}
