// Package mailer delivers outbound email, either directly over SMTP,
// through the message queue, or to the log in development.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sampleapp/apiserver/config"
	"go.uber.org/zap"
)

// Message is a plain-text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer sends a message. A nil error means the message was handed off.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// New selects the mailer configured by cfg.Backend. queue is only used by
// the "queue" backend and may be nil otherwise.
func New(cfg config.MailConfig, queue Publisher, logger *zap.Logger) (Mailer, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLogMailer(logger), nil
	case "smtp":
		return NewSMTPMailer(cfg), nil
	case "queue":
		if queue == nil {
			return nil, fmt.Errorf("mail backend %q requires a message queue", cfg.Backend)
		}
		return NewQueueMailer(queue, cfg.QueueChannel), nil
	default:
		return nil, fmt.Errorf("unsupported mail backend %q", cfg.Backend)
	}
}

var resetPasswordTemplate = template.Must(template.New("reset").Parse(`Hello,

Someone asked to reset the password of the account registered with {{.Email}}.
Follow the link below to choose a new password:

{{.Link}}

The link expires in {{.Validity}}. If you did not ask for a reset you can
ignore this email, your password stays unchanged.
`))

// ResetPasswordMessage renders the email carrying a password reset link.
func ResetPasswordMessage(to, link string, validity time.Duration) (Message, error) {
	var body bytes.Buffer
	err := resetPasswordTemplate.Execute(&body, struct {
		Email    string
		Link     string
		Validity string
	}{
		Email:    to,
		Link:     link,
		Validity: humanDuration(validity),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render reset email: %w", err)
	}
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body:    body.String(),
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
