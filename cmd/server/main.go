package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/api"
	"github.com/notifyhub/repo-trigger/internal/channel"
	"github.com/notifyhub/repo-trigger/internal/config"
	"github.com/notifyhub/repo-trigger/internal/db"
	"github.com/notifyhub/repo-trigger/internal/metrics"
	"github.com/notifyhub/repo-trigger/internal/monitor"
	"github.com/notifyhub/repo-trigger/internal/notify"
	"github.com/notifyhub/repo-trigger/internal/ratelimiter"
	"github.com/notifyhub/repo-trigger/internal/registry"
	"github.com/notifyhub/repo-trigger/internal/repository"
	"github.com/notifyhub/repo-trigger/internal/service"
	"github.com/notifyhub/repo-trigger/internal/worker"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	// ---- subscription storage ----
	var subs repository.SubscriptionRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
		subs = repository.NewPgSubscriptionRepository(pool)
	} else {
		logger.Warn("DATABASE_URL is not set; subscriptions are kept in memory")
		subs = repository.NewMemorySubscriptionRepository()
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	resolver := channel.NewCredentialResolver(nil)
	channels := channel.NewFactory(resolver, cfg.SQSEndpoint, logger, m.OnDeleteFailed)

	onAcquire, onRelease := m.PoolHooks()
	pool := worker.NewPool(cfg.PoolSize, logger, onAcquire, onRelease)

	monitors := registry.New(channels, pool, logger,
		monitor.WithLogger(logger),
		monitor.WithHooks(m.MonitorHooks()),
		monitor.WithBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.MaxConsecutiveFailures),
		monitor.WithListenerTimeout(cfg.ListenerTimeout),
		monitor.WithDedupWindow(cfg.DedupWindow, cfg.DedupCapacity),
	)
	monitors.OnRemove(m.Forget)

	// A nil *RabbitMQ must not end up in the interface.
	var publisher notify.Publisher
	if cfg.AMQPURL != "" {
		mq, err := notify.NewRabbitMQ(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal("failed to connect to amqp broker", zap.Error(err))
		}
		defer mq.Close() //nolint:errcheck
		publisher = mq
		logger.Info("amqp targets enabled", zap.String("exchange", cfg.AMQPExchange))
	}
	webhooks := notify.NewWebhookClient(cfg.WebhookTimeout, ratelimiter.New(cfg.WebhookRateLimit))
	svc := service.NewSubscriptionService(subs, monitors, notify.NewFactory(webhooks, publisher), logger)

	// ---- queues ----
	loader := &queueLoader{
		path:     cfg.QueueConfigFile,
		resolver: resolver,
		monitors: monitors,
		subs:     svc,
		logger:   logger,
	}
	loader.load(ctx)

	// ---- HTTP server ----
	router := api.NewRouter(monitors, svc, channels, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- signals ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for s := range sig {
		if s != syscall.SIGHUP {
			break
		}
		logger.Info("reloading queue file", zap.String("path", cfg.QueueConfigFile))
		loader.load(ctx)
	}

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop every monitor; in-flight messages are left on their queue.
	monitors.Shutdown()

	// 3. Wait for the poll loops to release their slots.
	pool.Wait()

	logger.Info("server stopped cleanly")
}

// queueLoader applies the queue file to the registry. Each load reconciles
// the queues of the file: entries deleted from it are removed. Queues added
// through the HTTP API are not written to the file and are left alone.
type queueLoader struct {
	path     string
	resolver *channel.CredentialResolver
	monitors *registry.Registry
	subs     *service.SubscriptionService
	logger   *zap.Logger
}

func (l *queueLoader) load(ctx context.Context) {
	file, err := config.LoadQueueFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("queue file not found; starting without queues", zap.String("path", l.path))
		file = &config.QueueFile{Version: config.CurrentQueueFileVersion}
	} else if err != nil {
		// Keep the running queues when the file cannot be read.
		l.logger.Error("failed to load queue file", zap.String("path", l.path), zap.Error(err))
		return
	}

	l.resolver.SetStatic(file.Credentials)

	cfgs, err := file.QueueConfigs()
	if err != nil {
		l.logger.Error("queue file has invalid entries", zap.Error(err))
	}
	// Queues whose entry fails validation keep their running monitor.
	if err := l.monitors.Apply(ctx, cfgs, file.QueueIDs()...); err != nil {
		l.logger.Error("some queues could not be started", zap.Error(err))
	}

	n, err := l.subs.Restore(ctx)
	if err != nil {
		l.logger.Error("failed to restore subscriptions", zap.Error(err))
		return
	}
	l.logger.Info("queue file applied", zap.Int("queues", len(cfgs)), zap.Int("subscriptions", n))
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
