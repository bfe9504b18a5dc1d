package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/rmf-intake/internal/allocator"
	httptransport "github.com/spec-kit/rmf-intake/internal/api/http"
	"github.com/spec-kit/rmf-intake/internal/api/http/handlers"
	"github.com/spec-kit/rmf-intake/internal/auth"
	"github.com/spec-kit/rmf-intake/internal/cache"
	"github.com/spec-kit/rmf-intake/internal/clock"
	"github.com/spec-kit/rmf-intake/internal/config"
	"github.com/spec-kit/rmf-intake/internal/events"
	"github.com/spec-kit/rmf-intake/internal/observability"
	"github.com/spec-kit/rmf-intake/internal/persistence"
	"github.com/spec-kit/rmf-intake/internal/repository"
	"github.com/spec-kit/rmf-intake/internal/service"
	"github.com/spec-kit/rmf-intake/internal/storage"
	"github.com/spec-kit/rmf-intake/internal/upload"
	"github.com/spec-kit/rmf-intake/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	location, err := cfg.App.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewPostgresStore(pool)
	} else {
		memory := repository.NewMemoryStore()
		if err := repository.SeedCategories(ctx, memory.Repositories().Categories, repository.DefaultCategories); err != nil {
			logger.Fatal("failed to seed categories", zap.Error(err))
		}
		store = memory
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()
	var ticketCache cache.TicketCache = cache.Noop{}
	var cachePinger handlers.Pinger
	if redis != nil {
		ticketCache = cache.NewRedisTicketCache(redis.Client, cfg.Redis.TicketTTL(), logger)
		cachePinger = redis
	}

	assets, err := storage.NewFileSystemStore(cfg.Upload.Dir)
	if err != nil {
		logger.Fatal("failed to prepare upload directory", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	realClock := clock.Real()
	repos := store.Repositories()
	dispatcher := events.NewInMemoryDispatcher()

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:  store,
		Assets: assets,
		Validator: upload.NewValidator(assets,
			upload.WithMaxBytes(cfg.Upload.MaxBytes),
			upload.WithClock(realClock),
			upload.WithLogger(logger)),
		Allocator:             allocator.New(repos.Categories, repos.Sequences, realClock, location),
		Cache:                 ticketCache,
		Dispatcher:            dispatcher,
		Clock:                 realClock,
		Location:              location,
		Logger:                logger,
		Metrics:               metrics,
		MaxAllocationAttempts: cfg.Tickets.MaxAllocationAttempts,
	})

	notifications := worker.NewNotificationWorker(service.NewNotificationService(logger, cfg.Notification), 0, logger)
	notifications.Subscribe(dispatcher)
	notifications.Start(ctx)
	defer notifications.Stop()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	if cfg.Auth.Required && cfg.Auth.JWTSecret == "" {
		logger.Fatal("AUTH_REQUIRED is set but AUTH_JWT_SECRET is empty")
	}

	app := httptransport.NewApp(httptransport.AppOptions{
		Name:           cfg.App.Name,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		RequestTimeout: cfg.App.RequestTimeout(),
		Logger:         logger,
		Metrics:        metrics,
	})
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:           handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, store, cachePinger),
		Tickets:          handlers.NewTicketsHandler(ticketService, cfg.Upload.PublicPrefix),
		Reference:        handlers.NewReferenceHandler(service.NewReferenceService(store)),
		Guard:            auth.NewStaffGuard(tokens, cfg.Auth.Required),
		Metrics:          metrics,
		UploadPathPrefix: cfg.Upload.PublicPrefix,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.Bool("auth_required", cfg.Auth.Required))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
