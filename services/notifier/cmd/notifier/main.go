package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/regportal/libs/health"
	"github.com/AfshinJalili/regportal/libs/httpmiddleware"
	"github.com/AfshinJalili/regportal/libs/kafka"
	"github.com/AfshinJalili/regportal/libs/logging"
	"github.com/AfshinJalili/regportal/libs/metrics"
	"github.com/AfshinJalili/regportal/libs/trace"
	"github.com/AfshinJalili/regportal/services/notifier/internal/config"
	"github.com/AfshinJalili/regportal/services/notifier/internal/consumer"
	"github.com/AfshinJalili/regportal/services/notifier/internal/dedup"
	"github.com/AfshinJalili/regportal/services/notifier/internal/mail"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	notifierMetrics := consumer.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	sent, closeSent := openDedupStore(cfg, ready, logger)
	defer closeSent()

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger,
		kafka.WithDeadLetter(producer, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.MaxAttempts),
		kafka.WithRetryBackoff(cfg.Kafka.RetryBackoff),
	)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()

	eventConsumer := consumer.NewEventConsumer(mail.NewLogMailer(logger), sent, cfg.MailFrom, logger, notifierMetrics)

	httpServer := buildHTTPServer(cfg, ready, registry, logger)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	ready.SetReady(true)

	go func() {
		logger.Info("notifier http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		topics := cfg.Kafka.Topics.Workflow()
		logger.Info("notifier consumer starting", "topics", topics, "group", cfg.Kafka.ConsumerGroup)
		if err := consumerGroup.Consume(consumerCtx, topics, eventConsumer); err != nil && err != context.Canceled {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, consumerCancel, logger)
}

func openDedupStore(cfg *config.Config, ready *health.Manager, logger *slog.Logger) (dedup.Store, func()) {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis configured, sent notifications are tracked in memory")
		return dedup.NewMemoryStore(cfg.DedupTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := dedup.NewRedisStore(client, cfg.DedupTTL, "")
	ready.AddCheck("redis", store.Ping)
	return store, func() { _ = client.Close() }
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
