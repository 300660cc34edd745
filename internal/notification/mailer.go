package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	gomail "github.com/wneessen/go-mail"
)

const senderName = "Calibration System"

// defaultSMTPTimeout bounds the dial and every exchange with the relay
const defaultSMTPTimeout = 30 * time.Second

// Mailer delivers a plain text message to the configured recipients
type Mailer interface {
	Send(ctx context.Context, subject, body string) error
}

// NoopMailer drops every message
type NoopMailer struct{}

func (NoopMailer) Send(context.Context, string, string) error { return nil }

// NewMailer returns the mailer for the configured provider
func NewMailer(cfg config.EmailConfig) (Mailer, error) {
	switch cfg.Provider {
	case "smtp":
		if len(cfg.Recipients) == 0 {
			return nil, errors.New("smtp mailer needs at least one recipient")
		}
		return &SMTPMailer{
			Host:       cfg.SMTPServer,
			Port:       cfg.SMTPPort,
			Sender:     cfg.Sender,
			Password:   cfg.Password,
			Recipients: cfg.Recipients,
			Timeout:    defaultSMTPTimeout,
		}, nil
	case "sendgrid":
		if len(cfg.Recipients) == 0 {
			return nil, errors.New("sendgrid mailer needs at least one recipient")
		}
		return NewSendGridMailer(cfg.SendGridAPIKey, cfg.Sender, cfg.Recipients), nil
	case "none", "":
		return NoopMailer{}, nil
	}
	return nil, fmt.Errorf("unsupported email provider %q", cfg.Provider)
}

// SMTPMailer sends one message per alert over STARTTLS. The first recipient
// is the visible To; the others receive it as blind copies.
type SMTPMailer struct {
	Host       string
	Port       int
	Sender     string
	Password   string
	Recipients []string
	// Timeout caps the dial and each read or write on the connection
	Timeout time.Duration
}

func (m *SMTPMailer) Send(ctx context.Context, subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return err
	}
	client, err := gomail.NewClient(m.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send via %s: %w", net.JoinHostPort(m.Host, fmt.Sprint(m.Port)), err)
	}
	return nil
}

func (m *SMTPMailer) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return defaultSMTPTimeout
}

func (m *SMTPMailer) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(m.Port),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithTimeout(m.timeout()),
		gomail.WithDialContextFunc(m.dial),
	}
	if m.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.Sender),
			gomail.WithPassword(m.Password),
		)
	}
	return opts
}

// dial sets a deadline on the connection before the relay greets, so a
// silent server fails the send instead of holding it.
func (m *SMTPMailer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{Timeout: m.timeout()}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(m.timeout())
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (m *SMTPMailer) message(subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(senderName, m.Sender); err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}
	if err := msg.To(m.Recipients[0]); err != nil {
		return nil, fmt.Errorf("smtp recipient: %w", err)
	}
	if len(m.Recipients) > 1 {
		if err := msg.Bcc(m.Recipients[1:]...); err != nil {
			return nil, fmt.Errorf("smtp recipient: %w", err)
		}
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

// SendGridMailer sends through the SendGrid v3 API
type SendGridMailer struct {
	client     *sendgrid.Client
	sender     string
	recipients []string
}

// NewSendGridMailer returns a mailer authenticated with apiKey
func NewSendGridMailer(apiKey, sender string, recipients []string) *SendGridMailer {
	return &SendGridMailer{
		client:     sendgrid.NewSendClient(apiKey),
		sender:     sender,
		recipients: recipients,
	}
}

// Build assembles the v3 message: first recipient in To, the rest Bcc
func (m *SendGridMailer) Build(subject, body string) *mail.SGMailV3 {
	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail(senderName, m.sender))
	msg.Subject = subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", m.recipients[0]))
	for _, r := range m.recipients[1:] {
		p.AddBCCs(mail.NewEmail("", r))
	}
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/plain", body))
	return msg
}

func (m *SendGridMailer) Send(ctx context.Context, subject, body string) error {
	resp, err := m.client.SendWithContext(ctx, m.Build(subject, body))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
