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
	"github.com/AfshinJalili/regportal/services/portal/internal/cache"
	"github.com/AfshinJalili/regportal/services/portal/internal/catalog"
	"github.com/AfshinJalili/regportal/services/portal/internal/config"
	"github.com/AfshinJalili/regportal/services/portal/internal/handlers"
	"github.com/AfshinJalili/regportal/services/portal/internal/notify"
	"github.com/AfshinJalili/regportal/services/portal/internal/policy"
	"github.com/AfshinJalili/regportal/services/portal/internal/service"
	"github.com/AfshinJalili/regportal/services/portal/internal/session"
	"github.com/AfshinJalili/regportal/services/portal/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// portalStore is satisfied by both the Postgres and the in-memory store.
type portalStore interface {
	service.AccessRequestStore
	cache.EntityStore
	session.MembershipStore
	Ping(ctx context.Context) error
}

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
	workflowMetrics := service.NewMetrics(registry)
	notifyMetrics := notify.NewMetrics(registry)
	sessionMetrics := session.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready.AddCheck("storage", store.Ping)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	entities := cache.NewEntityCache()
	loadCtx, loadCancel := context.WithTimeout(rootCtx, 5*time.Second)
	err = entities.Load(loadCtx, store)
	loadCancel()
	if err != nil {
		logger.Error("entity directory load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("entity directory loaded", "entities", entities.Size())
	entities.StartAutoRefresh(rootCtx, store, cfg.EntityRefresh, logger)

	sessionStore, closeSessions := openSessionStore(cfg, ready, logger)
	defer closeSessions()

	publisher, err := openPublisher(cfg, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	dispatcher := notify.NewDispatcher(publisher, cfg.Notify.QueueSize, cfg.Notify.Workers, logger, notifyMetrics)
	dispatcher.Start()

	requests := service.NewAccessRequestService(store, entities, dispatcher, logger, workflowMetrics, service.Topics{
		Submitted:   cfg.Kafka.Topics.Submitted,
		Returned:    cfg.Kafka.Topics.Returned,
		LineDecided: cfg.Kafka.Topics.LineDecided,
		Decided:     cfg.Kafka.Topics.Decided,
	})
	sessions := session.NewService(sessionStore, entities, store, logger, sessionMetrics)

	handler := handlers.New(requests, sessions, entities, policy.NewStore(policy.Default()), catalog.New(catalog.DemoSeed()), logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router, []byte(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("portal http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, rootCancel, dispatcher, logger)
}

// openStore connects to Postgres, or falls back to the in-memory store seeded
// with the demo entity directory when no database is configured locally.
func openStore(cfg *config.Config, logger *slog.Logger) (portalStore, func(), error) {
	if cfg.SeedEntitiesInMemory {
		logger.Warn("no database configured, using in-memory store")
		mem := storage.NewMemoryStore()
		for _, e := range storage.DemoEntities() {
			if err := mem.UpsertEntity(context.Background(), e); err != nil {
				return nil, nil, err
			}
		}
		return mem, func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := storage.Migrate(cfg.DB.DSN()); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := connectDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return storage.New(pool), pool.Close, nil
}

func openSessionStore(cfg *config.Config, ready *health.Manager, logger *slog.Logger) (session.Store, func()) {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis configured, entity selections are kept in memory")
		return session.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := session.NewRedisStore(client, cfg.SessionTTL, "")
	ready.AddCheck("redis", store.Ping)
	return store, func() { _ = client.Close() }
}

func openPublisher(cfg *config.Config, logger *slog.Logger, producerMetrics *kafka.ProducerMetrics) (kafka.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("no kafka brokers configured, notifications are logged only")
		return kafka.NewLogPublisher(logger), nil
	}
	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger, producerMetrics)
	if err != nil {
		return nil, err
	}
	return kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger), nil
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, dispatcher *notify.Dispatcher, logger *slog.Logger) {
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
	if err := dispatcher.Close(ctx); err != nil {
		logger.Error("notification drain error", "error", err)
	}
	logger.Info("shutdown complete")
}
