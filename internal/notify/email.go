package notify

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers notifications as HTML mail over SMTP.
type EmailSender struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, msg *mail.Msg) error
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	s := &EmailSender{cfg: cfg}
	s.dial = s.dialAndSend
	return s
}

var emailTemplate = template.Must(template.New("email").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
<p>{{.Body}}</p>
{{if .URL}}<p><a href="{{.URL}}">Listen now</a></p>{{end}}
</body></html>`))

func (s *EmailSender) Send(ctx context.Context, destination string, m Message) error {
	msg, err := s.build(destination, m)
	if err != nil {
		return err
	}
	return s.dial(ctx, msg)
}

func (s *EmailSender) build(destination string, m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(destination); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(m.Title)
	var body strings.Builder
	if err := emailTemplate.Execute(&body, m); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}
	msg.SetBodyString(mail.TypeTextHTML, body.String())
	return msg, nil
}

func (s *EmailSender) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
