package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	serviceKind  = "cron-worker"
	lockTTL      = 5 * time.Minute
	drainTimeout = 15 * time.Second
)

func main() {
	bootCtx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(bootCtx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	exitOnError(bootCtx, logg, "failed to load config", err)
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	exitOnError(bootCtx, logg, "failed to bootstrap database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()
	exitOnError(bootCtx, logg, "failed to run dev migrations", migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient))

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	exitOnError(bootCtx, logg, "failed to bootstrap redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind, lockScope(cfg.App.Env)), lockTTL)
	exitOnError(bootCtx, logg, "failed to create cron lock", err)

	sender, closeSender, err := notifications.NewSenderFromConfig(bootCtx, cfg.Notifications, logg)
	exitOnError(bootCtx, logg, "failed to bootstrap notification broker", err)
	defer closeSender()

	dispatcher, err := notifications.NewDispatcher(sender, logg, notifications.DispatcherOptions{
		SendTimeout: cfg.Notifications.PublishTimeout,
	})
	exitOnError(bootCtx, logg, "failed to create notification dispatcher", err)

	jobs, err := buildJobs(cfg, logg, dbClient, dispatcher)
	exitOnError(bootCtx, logg, "failed to build cron jobs", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Orders.SweepInterval,
	})
	exitOnError(bootCtx, logg, "failed to create cron service", err)

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"jobs":        len(jobs.Jobs()),
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error {
		return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	runErr := group.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logg.Error(ctx, "notification dispatcher did not drain", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", runErr)
		closeSender()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs wires the expiry sweep and the outbox retention purge. Every
// expired order produces an order_cancelled notification through notifier.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, notifier notifications.Notifier) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)

	orderService, err := orders.NewService(orders.Deps{
		Repo:     orders.NewRepository(conn),
		Tx:       dbClient,
		Carts:    cart.NewRepository(conn),
		Products: product.NewRepository(conn),
		Ledger:   inventory.NewLedger(),
		Outbox:   outbox.NewService(outboxRepo, logg),
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger: logg,
		Orders: orderService,
		MaxAge: cfg.Orders.ExpiryAge,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   outboxRepo,
		Retention:    cfg.Outbox.Retention,
		DeadAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expiry, retention), nil
}

// lockScope keeps environments sharing one Redis from blocking each other.
func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func exitOnError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
