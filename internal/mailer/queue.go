package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sampleapp/apiserver/internal/mq"
	"go.uber.org/zap"
)

// Publisher is the part of the message queue the QueueMailer needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueMailer enqueues messages for the worker to deliver.
type QueueMailer struct {
	queue   Publisher
	channel string
}

func NewQueueMailer(queue Publisher, channel string) *QueueMailer {
	return &QueueMailer{queue: queue, channel: channel}
}

func (m *QueueMailer) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := m.queue.Publish(ctx, m.channel, data, map[string]string{"content-type": "application/json"}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// Relay returns a queue handler that hands queued messages to mailer.
// Undecodable payloads are dropped; delivery errors are returned so the
// broker redelivers.
func Relay(mailer Mailer, logger *zap.Logger) mq.Handler {
	return func(ctx context.Context, qm mq.Message) error {
		var msg Message
		if err := json.Unmarshal(qm.Data, &msg); err != nil {
			logger.Error("dropping undecodable mail message", zap.String("message_id", qm.ID), zap.Error(err))
			return nil
		}
		if err := mailer.Send(ctx, msg); err != nil {
			logger.Warn("mail delivery failed", zap.String("message_id", qm.ID), zap.String("to", msg.To), zap.Error(err))
			return err
		}
		logger.Info("mail delivered", zap.String("message_id", qm.ID), zap.String("to", msg.To))
		return nil
	}
}
