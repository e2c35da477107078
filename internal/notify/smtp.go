package notify

import (
	"context"
	"errors"

	"github.com/wneessen/go-mail"
)

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Insecure allows plaintext connections for local relays such as mailpit.
	Insecure bool
}

// Send implements Sender.
func (s SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.Host == "" || s.From == "" {
		return errors.New("smtp: host and from are required")
	}
	m := mail.NewMsg()
	if err := m.From(s.From); err != nil {
		return err
	}
	if err := m.To(msg.To); err != nil {
		return err
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	client, err := mail.NewClient(s.Host, s.options()...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}

func (s SMTPSender) options() []mail.Option {
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSMandatory)}
	if s.Insecure {
		opts = []mail.Option{mail.WithTLSPolicy(mail.NoTLS)}
	}
	if s.Port > 0 {
		opts = append(opts, mail.WithPort(s.Port))
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password),
		)
	}
	return opts
}
