package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/sampleapp/apiserver/config"
	"github.com/sampleapp/apiserver/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedPublish struct {
	channel string
	data    []byte
}

type fakePublisher struct {
	published []capturedPublish
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, capturedPublish{channel: channel, data: data})
	return "id-1", nil
}

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestResetPasswordMessage(t *testing.T) {
	link := "http://localhost:8080/reset-password?token=a.b.c"
	msg, err := ResetPasswordMessage("alice@example.com", link, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Reset your password", msg.Subject)
	assert.Contains(t, msg.Body, link)
	assert.Contains(t, msg.Body, "1 hour")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "10 minutes", humanDuration(10*time.Minute))
	assert.Equal(t, "123 seconds", humanDuration(123*time.Second))
}

func TestSMTPMailerRendersHeaders(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{
		From:         "no-reply@example.com",
		SMTPHost:     "mail.example.com",
		SMTPPort:     587,
		SMTPUsername: "user",
		SMTPPassword: "pass",
	})
	m.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	err := m.Send(context.Background(), Message{To: "bob@example.com", Subject: "Hi\r\nBcc: evil@example.com", Body: "body"})
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, []string{"bob@example.com"}, gotTo)
	rendered := string(gotMsg)
	assert.Contains(t, rendered, "Subject: HiBcc: evil@example.com\r\n")
	assert.NotContains(t, rendered, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(rendered, "\r\n\r\nbody"))
}

func TestSMTPMailerWrapsError(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{SMTPHost: "localhost", SMTPPort: 25})
	boom := errors.New("connection refused")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	require.ErrorIs(t, m.Send(context.Background(), Message{To: "a@b.c"}), boom)
}

func TestQueueMailerAndRelay(t *testing.T) {
	pub := &fakePublisher{}
	qm := NewQueueMailer(pub, "mail.outbound")

	msg := Message{To: "alice@example.com", Subject: "s", Body: "b"}
	require.NoError(t, qm.Send(context.Background(), msg))
	require.Len(t, pub.published, 1)
	assert.Equal(t, "mail.outbound", pub.published[0].channel)

	downstream := &recordingMailer{}
	handler := Relay(downstream, zap.NewNop())
	require.NoError(t, handler(context.Background(), mq.Message{ID: "id-1", Data: pub.published[0].data}))
	require.Equal(t, []Message{msg}, downstream.sent)
}

func TestRelayRequeuesOnFailure(t *testing.T) {
	boom := errors.New("smtp down")
	handler := Relay(&recordingMailer{err: boom}, zap.NewNop())
	err := handler(context.Background(), mq.Message{Data: []byte(`{"to":"a@b.c"}`)})
	require.ErrorIs(t, err, boom)

	require.NoError(t, handler(context.Background(), mq.Message{Data: []byte("not json")}))
}

func TestNewSelectsBackend(t *testing.T) {
	logger := zap.NewNop()

	m, err := New(config.MailConfig{Backend: "log"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	m, err = New(config.MailConfig{Backend: "smtp", SMTPHost: "localhost", SMTPPort: 25}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, m)

	_, err = New(config.MailConfig{Backend: "queue"}, nil, logger)
	require.Error(t, err)

	m, err = New(config.MailConfig{Backend: "queue"}, &fakePublisher{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &QueueMailer{}, m)

	_, err = New(config.MailConfig{Backend: "pigeon"}, nil, logger)
	require.Error(t, err)
}
