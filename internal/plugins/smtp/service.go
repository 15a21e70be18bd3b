// Package smtp delivers outgoing email over SMTP. It is configured from the
// environment at startup and satisfies auth.MailSender, which the password
// reset flow uses to send reset links. Admins can view the settings and
// send a test message.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
	"github.com/keyxmakerx/schoolhub/internal/config"
)

const (
	// dialTimeout bounds connection setup when the context has no deadline.
	dialTimeout = 10 * time.Second

	// sendTimeout bounds a whole exchange when the caller set no deadline,
	// so a server that stalls after accepting cannot hold a request open.
	sendTimeout = 30 * time.Second
)

// MailService is the interface other plugins use to send email.
type MailService interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
	IsConfigured(ctx context.Context) bool
}

// Mailer implements MailService with the settings from config.SMTPConfig.
type Mailer struct {
	cfg config.SMTPConfig

	// dial opens the TCP connection. Tests point it at a local listener.
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	now         func() time.Time
	sendTimeout time.Duration
}

// NewMailer creates a mailer. It does not connect until the first send.
func NewMailer(cfg config.SMTPConfig) *Mailer {
	d := &net.Dialer{Timeout: dialTimeout}
	return &Mailer{cfg: cfg, dial: d.DialContext, now: time.Now, sendTimeout: sendTimeout}
}

// IsConfigured returns true if a host and sender address are set.
func (m *Mailer) IsConfigured(context.Context) bool {
	return m.cfg.Enabled()
}

// SendMail sends a plain-text message to every recipient in to.
func (m *Mailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	if !m.cfg.Enabled() {
		return apperror.NewBadRequest("SMTP is not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("sending mail: no recipients")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.sendTimeout)
		defer cancel()
	}

	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.FromAddress}
	msg := buildMessage(from, to, subject, body, m.now())
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))

	client, err := m.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	if err := sendMessage(client, from.Address, to, msg); err != nil {
		return err
	}

	slog.Debug("mail sent",
		slog.String("host", m.cfg.Host),
		slog.Int("recipients", len(to)),
	)
	return nil
}

// connect dials the server and negotiates the configured encryption:
// implicit TLS for "ssl" (port 465 typical), STARTTLS for "starttls" (587)
// and nothing for "none".
func (m *Mailer) connect(ctx context.Context, addr string) (*gosmtp.Client, error) {
	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	conn, err := m.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if m.cfg.Encryption == "ssl" {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("connecting to %s (SSL): %w", addr, err)
		}
		conn = tlsConn
	}

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}

	if m.cfg.Encryption == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
	}

	return client, nil
}

// sendMessage handles MAIL FROM, RCPT TO, DATA for an existing SMTP client.
func sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// buildMessage renders an RFC 5322 plain-text message. Header values are
// stripped of line breaks and non-ASCII subjects are Q-encoded.
func buildMessage(from mail.Address, to []string, subject, body string, date time.Time) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", headerValue(strings.Join(to, ", ")))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(subject)))
	fmt.Fprintf(&msg, "Date: %s\r\n", date.UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return msg.String()
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
