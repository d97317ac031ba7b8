package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/regportal/libs/kafka"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomePublished = "published"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
)

type Metrics struct {
	Notifications *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_notifications_total",
				Help: "Workflow notifications by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_notification_queue_depth",
				Help: "Notifications waiting to be published.",
			},
		),
	}
	registry.MustRegister(m.Notifications, m.QueueDepth)
	return m
}

type job struct {
	topic string
	key   string
	value any
}

// Dispatcher publishes events from a bounded queue on a fixed set of workers.
// Enqueue never blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	publisher kafka.Publisher
	logger    *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
	workers   int

	mu     sync.RWMutex
	queue  chan job
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(publisher kafka.Publisher, queueSize, workers int, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}
	return &Dispatcher{
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		timeout:   5 * time.Second,
		workers:   workers,
		queue:     make(chan job, queueSize),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

func (d *Dispatcher) Enqueue(topic, key string, value any) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.count(topic, outcomeDropped)
		return false
	}
	select {
	case d.queue <- job{topic: topic, key: key, value: value}:
		d.depth()
		return true
	default:
		d.logger.Warn("notification queue full", "topic", topic, "key", key)
		d.count(topic, outcomeDropped)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.depth()
		d.publish(j)
	}
}

func (d *Dispatcher) publish(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if _, _, err := d.publisher.PublishJSON(ctx, j.topic, j.key, j.value); err != nil {
		d.logger.Error("publish notification failed", "topic", j.topic, "key", j.key, "error", err)
		d.count(j.topic, outcomeFailed)
		return
	}
	d.count(j.topic, outcomePublished)
}

func (d *Dispatcher) count(topic, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.Notifications.WithLabelValues(topic, outcome).Inc()
}

func (d *Dispatcher) depth() {
	if d.metrics == nil {
		return
	}
	d.metrics.QueueDepth.Set(float64(len(d.queue)))
}
