// Package mailer delivers password reset links over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ResetSubject is the subject line of password reset mails.
const ResetSubject = "Reset your PSES password"

const defaultTimeout = 15 * time.Second

// Message is a plain-text mail to a single recipient.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers a Message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the SMTP relay settings. All fields are required.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Complete reports whether every field needed to send mail is set.
func (c SMTPConfig) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.Username != "" && c.Password != "" && c.From != ""
}

// SMTPSender sends mail through an authenticated SMTP relay. Port 465 uses implicit TLS;
// other ports require STARTTLS.
type SMTPSender struct {
	client *gomail.Client
	from   string
}

// NewSMTPSender returns a sender for cfg. No connection is made until Send.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if !cfg.Complete() {
		return nil, errors.New("mailer: SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS and SMTP_FROM must all be set")
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTimeout(defaultTimeout),
	}
	if cfg.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

// Send dials the relay and delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("mailer: from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("mailer: to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	return nil
}

// ResetLink appends resetToken to baseURL's query. An empty baseURL falls back to the local web client.
func ResetLink(baseURL, token string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "http://localhost:5173"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("mailer: app base url: %w", err)
	}
	q := u.Query()
	q.Set("resetToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PasswordResetMessage builds the reset mail for link, stating how long it stays valid.
func PasswordResetMessage(to, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: ResetSubject,
		Text: fmt.Sprintf("Click this link to reset your password (valid for %d minutes):\n\n%s\n\n"+
			"If you did not request this, ignore this email.", int(ttl.Minutes()), link),
	}
}
