package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/playrelay/push-dispatch/internal/config"
	"github.com/playrelay/push-dispatch/internal/domain"
	"github.com/playrelay/push-dispatch/internal/handler"
	"github.com/playrelay/push-dispatch/internal/infra/postgresql"
	"github.com/playrelay/push-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/playrelay/push-dispatch/internal/infra/redis"
	"github.com/playrelay/push-dispatch/internal/observability"
	"github.com/playrelay/push-dispatch/internal/provider"
	"github.com/playrelay/push-dispatch/internal/repository"
	"github.com/playrelay/push-dispatch/internal/service"
	"github.com/playrelay/push-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	adapters := map[domain.Platform]provider.Adapter{
		domain.PlatformIOS: provider.NewAPNSAdapter(provider.APNSConfig{
			KeyID:       cfg.APNSKeyID,
			TeamID:      cfg.APNSTeamID,
			BundleID:    cfg.APNSBundleID,
			PrivateKey:  cfg.APNSPrivateKey,
			Development: cfg.APNSDevelopment,
		}),
		domain.PlatformAndroid: provider.NewFCMAdapter(provider.FCMConfig{
			CredentialsFile: cfg.FCMCredentialsFile,
		}),
	}

	deviceRepo := repository.NewGormDeviceRepo(db)
	notificationRepo := repository.NewGormNotificationRepo(db)
	deliveryRepo := repository.NewGormDeliveryRepo(db)

	dispatcher, err := service.NewDispatcher(
		deviceRepo,
		notificationRepo,
		deliveryRepo,
		adapters,
		limiter,
		cfg.MaxDeliveryAttempts,
		cfg.InitialBackoff(),
		cfg.DispatchConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	sweeper, err := service.NewSweeper(
		deliveryRepo,
		dispatcher,
		cfg.SweepInterval(),
		cfg.SweepBatchSize,
		cfg.MaxDeliveryAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, dispatcher); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("push-dispatch api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		logger.Info("retry sweeper started",
			zap.Duration("interval", cfg.SweepInterval()),
			zap.Int("batchSize", cfg.SweepBatchSize),
		)
		return sweeper.Start(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("service exited with error", zap.Error(err))
	}
}
