package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type ConsumerOption func(*Consumer)

// WithDeadLetter routes messages that fail permanently, or exhaust maxAttempts,
// to topic through publisher.
func WithDeadLetter(publisher Publisher, topic string, maxAttempts int) ConsumerOption {
	return func(c *Consumer) {
		c.dlqPublisher = publisher
		c.dlqTopic = topic
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

func WithRetryBackoff(backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
	backoff      time.Duration
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	c := &Consumer{
		group:       group,
		logger:      logger,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, 10*time.Minute),
		backoff:      c.backoff,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
	backoff      time.Duration
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session.Context(), msg) {
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// process returns false only when the session ended before msg was settled.
func (h *consumerGroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	key := msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10)
	for {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			h.retryTracker.clear(key)
			return true
		}

		var dlqErr *DLQError
		permanent := errors.As(err, &dlqErr)
		attempts := h.retryTracker.record(key)
		h.logger.Error("kafka message handler error",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"event_type", HeaderValue(msg.Headers, HeaderEventType),
			"attempt", attempts, "error", err)

		if permanent || h.retryTracker.exhausted(attempts) {
			if dlqErr == nil {
				dlqErr = &DLQError{Err: err, Reason: "max_attempts"}
			}
			h.publishDLQ(ctx, msg, dlqErr, attempts)
			h.retryTracker.clear(key)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.backoff):
		}
	}
}

func (h *consumerGroupHandler) publishDLQ(ctx context.Context, msg *sarama.ConsumerMessage, err *DLQError, attempts int) {
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		h.logger.Warn("dropping message without dead letter topic", "topic", msg.Topic, "offset", msg.Offset)
		return
	}
	payload := DeadLetterFromMessage(msg, err, attempts, time.Now())
	if _, _, pubErr := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), payload); pubErr != nil {
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "error", pubErr)
	}
}

type retryEntry struct {
	attempts int
	seen     time.Time
}

type retryTracker struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	entries     map[string]retryEntry
}

func newRetryTracker(maxAttempts int, window time.Duration) *retryTracker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &retryTracker{maxAttempts: maxAttempts, window: window, entries: map[string]retryEntry{}}
}

func (t *retryTracker) record(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for k, e := range t.entries {
		if now.Sub(e.seen) > t.window {
			delete(t.entries, k)
		}
	}
	e := t.entries[key]
	e.attempts++
	e.seen = now
	t.entries[key] = e
	return e.attempts
}

func (t *retryTracker) exhausted(attempts int) bool {
	return attempts >= t.maxAttempts
}

func (t *retryTracker) clear(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}
