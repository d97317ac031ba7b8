package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/regportal/libs/kafka"
	"github.com/AfshinJalili/regportal/services/notifier/internal/dedup"
	"github.com/AfshinJalili/regportal/services/notifier/internal/mail"
	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventSubmitted   = "access_requests.submitted"
	EventReturned    = "access_requests.returned"
	EventLineDecided = "access_requests.line_decided"
	EventDecided     = "access_requests.decided"
)

// AccessRequestEvent mirrors the payload the portal publishes after a
// workflow transition. Only the fields used for e-mails are decoded.
type AccessRequestEvent struct {
	kafka.Envelope
	RequestID      string `json:"request_id"`
	ReferenceCode  string `json:"reference_code"`
	Status         string `json:"status"`
	NextActor      string `json:"next_actor"`
	RequesterID    string `json:"requester_id"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	ActorID        string `json:"actor_id"`
	EntityID       string `json:"entity_id,omitempty"`
	EntityName     string `json:"entity_name,omitempty"`
	LineStatus     string `json:"line_status,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

func (e *AccessRequestEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.RequestID) == "" {
		return fmt.Errorf("request_id required")
	}
	if strings.TrimSpace(e.ReferenceCode) == "" {
		return fmt.Errorf("reference_code required")
	}
	if e.EventType == EventLineDecided && strings.TrimSpace(e.LineStatus) == "" {
		return fmt.Errorf("line_status required")
	}
	return nil
}

type Metrics struct {
	Events *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_events_total",
				Help: "Workflow events processed by type and outcome.",
			},
			[]string{"event_type", "outcome"},
		),
	}
	registry.MustRegister(m.Events)
	return m
}

func (m *Metrics) observe(eventType, outcome string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.Events.WithLabelValues(eventType, outcome).Inc()
}

// EventConsumer turns workflow events into e-mails for the requester.
type EventConsumer struct {
	mailer  mail.Mailer
	sent    dedup.Store
	from    string
	logger  *slog.Logger
	metrics *Metrics
}

func NewEventConsumer(mailer mail.Mailer, sent dedup.Store, from string, logger *slog.Logger, metrics *Metrics) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{mailer: mailer, sent: sent, from: from, logger: logger, metrics: metrics}
}

func (c *EventConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		c.metrics.observe("", "malformed")
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "malformed")
	}

	env, err := kafka.DecodeEnvelope(msg.Value)
	if err != nil {
		c.metrics.observe("", "malformed")
		return kafka.DLQ(err, "malformed")
	}
	if _, ok := templates[env.EventType]; !ok {
		c.metrics.observe("", "unknown_type")
		return kafka.DLQ(fmt.Errorf("unexpected event_type: %s", env.EventType), "unknown_type")
	}

	var event AccessRequestEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.metrics.observe(env.EventType, "malformed")
		return kafka.DLQ(fmt.Errorf("decode %s: %w", env.EventType, err), "malformed")
	}
	if err := event.Validate(); err != nil {
		c.metrics.observe(env.EventType, "malformed")
		return kafka.DLQ(err, "malformed")
	}

	recipient := strings.TrimSpace(event.RequesterEmail)
	if recipient == "" {
		c.logger.Warn("event has no recipient", "event_id", event.EventID, "request_id", event.RequestID)
		c.metrics.observe(event.EventType, "skipped")
		return nil
	}

	subject, body, _, err := render(&event)
	if err != nil {
		c.metrics.observe(event.EventType, "malformed")
		return kafka.DLQ(err, "render")
	}

	if c.sent != nil {
		claimed, err := c.sent.Claim(ctx, event.EventID)
		if err != nil {
			c.metrics.observe(event.EventType, "error")
			return fmt.Errorf("claim notification: %w", err)
		}
		if !claimed {
			c.logger.Info("notification already sent", "event_id", event.EventID, "reference_code", event.ReferenceCode)
			c.metrics.observe(event.EventType, "duplicate")
			return nil
		}
	}

	if err := c.mailer.Send(ctx, mail.Message{
		From:    c.from,
		To:      recipient,
		Subject: subject,
		Body:    body,
		EventID: event.EventID,
	}); err != nil {
		if c.sent != nil {
			if relErr := c.sent.Release(ctx, event.EventID); relErr != nil {
				c.logger.Error("release notification claim failed", "event_id", event.EventID, "error", relErr)
			}
		}
		c.metrics.observe(event.EventType, "error")
		return fmt.Errorf("send notification: %w", err)
	}

	c.metrics.observe(event.EventType, "sent")
	c.logger.Info("notification sent",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"reference_code", event.ReferenceCode,
		"correlation_id", event.CorrelationID,
	)
	return nil
}
