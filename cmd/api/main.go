package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/lifelink-engine/internal/config"
	"github.com/kursadbilgin/lifelink-engine/internal/handler"
	"github.com/kursadbilgin/lifelink-engine/internal/infra/database"
	"github.com/kursadbilgin/lifelink-engine/internal/infra/database/migrations"
	infraredis "github.com/kursadbilgin/lifelink-engine/internal/infra/redis"
	"github.com/kursadbilgin/lifelink-engine/internal/lock"
	"github.com/kursadbilgin/lifelink-engine/internal/maintenance"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/provider"
	"github.com/kursadbilgin/lifelink-engine/internal/queue"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"github.com/kursadbilgin/lifelink-engine/internal/service"
	"github.com/kursadbilgin/lifelink-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 15 * time.Second
	consumerPrefetch = 8
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("lifelink-engine stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database())
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	metrics := observability.NewMetrics()
	store := repository.NewGormStore(db)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.UseRedisLock() {
		redisLocker, err := infraredis.NewRedisLocker(rdb, 0)
		if err != nil {
			return fmt.Errorf("redis locker initialization failed: %w", err)
		}
		locker = redisLocker
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	webhook, err := provider.NewWebhookProvider(cfg.NotifyWebhookURL)
	if err != nil {
		return fmt.Errorf("notification provider initialization failed: %w", err)
	}

	dispatcher, err := service.NewDispatcher(webhook, limiter, nil, cfg.SendTimeout(), logger)
	if err != nil {
		return err
	}

	opts, err := cfg.MatchOptions()
	if err != nil {
		return err
	}
	svc, err := service.NewMatchService(store, locker, dispatcher, opts, logger)
	if err != nil {
		return err
	}
	svc.SetMetrics(metrics)

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()
	handoff, err := service.NewHandoffScanner(store, publisher, 0, 0, logger)
	if err != nil {
		return err
	}
	handoff.SetMetrics(metrics)
	svc.SetHandoff(handoff)

	sweeper, err := service.NewSweeper(svc, cfg.SweepInterval(), logger)
	if err != nil {
		return err
	}

	consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger)
	defer consumer.Close()
	responses, err := service.NewResponseWorker(svc, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}

	cleaner, err := maintenance.NewCleaner(store.Escalations(),
		maintenance.WithRetention(cfg.EscalationRetention()),
		maintenance.WithLogger(logger),
		maintenance.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	if err := cleaner.Start(); err != nil {
		return err
	}
	defer cleaner.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker, metrics.Handler())
	if err := handler.RegisterRequestRoutes(app, svc); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Start(groupCtx) })
	g.Go(func() error { return handoff.Start(groupCtx) })
	g.Go(func() error { return responses.Start(groupCtx) })
	g.Go(func() error {
		logger.Info("lifelink-engine api started",
			zap.Int("port", cfg.APIPort),
			zap.String("database", cfg.Database().Driver),
			zap.String("lockBackend", cfg.LockBackend),
		)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
