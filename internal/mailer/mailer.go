// Package mailer delivers transactional email over SMTP.
//
// The only message the platform sends today is the admin one-time password.
// Delivery is synchronous: the caller decides whether a failure is fatal
// (it is — an OTP that never arrives is a failed login attempt).
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/mealbridge/mealbridge-core/internal/infrastructure/config"
)

// defaultSendTimeout bounds a full SMTP conversation (dial, handshake,
// message, quit) when the caller's context carries no earlier deadline.
const defaultSendTimeout = 10 * time.Second

// ErrNotConfigured indicates no SMTP host has been set. OTP login cannot
// work without one; callers surface this as a delivery failure.
var ErrNotConfigured = errors.New("smtp host not configured")

// SMTP sends mail through a single configured relay.
//
// Authentication is optional: when no username is configured the client
// speaks unauthenticated SMTP, which is what local development relays
// (MailHog, Mailpit) expect. STARTTLS is negotiated whenever the server
// offers it.
type SMTP struct {
	cfg config.SMTPConfig
}

// New creates an SMTP mailer from configuration.
//
// Parameters:
//   - cfg: SMTP configuration from config.yaml
//
// Returns:
//   - *SMTP: Mailer ready for use (connections are per-send)
func New(cfg config.SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg}
}

// SendOTP delivers a one-time password to the given address.
//
// The body is deliberately plain text: OTP mail must render identically
// in every client, and there is nothing to style.
//
// Parameters:
//   - ctx: Context for timeout/cancellation (bounds the whole conversation)
//   - to: Recipient email address
//   - code: The one-time password (never logged here or anywhere else)
//   - ttl: Challenge lifetime, quoted to the user in minutes
//
// Returns:
//   - error: If the relay is unreachable, rejects the message, or is unconfigured
func (m *SMTP) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	if m.cfg.Host == "" {
		return ErrNotConfigured
	}

	subject := "Your Admin Login OTP"
	body := fmt.Sprintf(
		"Your one-time password for MealBridge admin login is:\r\n"+
			"\r\n"+
			"    %s\r\n"+
			"\r\n"+
			"This code expires in %d minutes.\r\n"+
			"\r\n"+
			"If you did not request this code, please ignore this email.\r\n",
		code, int(ttl.Minutes()),
	)

	return m.send(ctx, to, subject, body)
}

// send runs one complete SMTP conversation.
func (m *SMTP) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))

	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(sendCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing smtp relay: %w", err)
	}

	// The smtp package has no context support; a connection deadline
	// covers the rest of the conversation.
	if deadline, ok := sendCtx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck // net.Conn deadlines do not fail on live connections
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close() //nolint:errcheck // Quit already ended the session on the success path

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(m.message(to, subject, body))); err != nil {
		w.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}

	return nil
}

// message assembles RFC 5322 headers and body with CRLF line endings.
func (m *SMTP) message(to, subject, body string) string {
	from := m.cfg.FromEmail
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return b.String()
}
