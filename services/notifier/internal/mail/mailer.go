package mail

import (
	"context"
	"log/slog"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	// EventID ties the message to the event that produced it.
	EventID string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the structured log instead of delivering them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email queued",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"event_id", msg.EventID,
		"body_bytes", len(msg.Body),
	)
	return nil
}
