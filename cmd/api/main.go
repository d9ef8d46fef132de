package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"craftmart/auth"
	"craftmart/authz"
	"craftmart/catalog"
	"craftmart/config"
	"craftmart/db"
	"craftmart/dispute"
	"craftmart/lock"
	"craftmart/order"
	"craftmart/outbox"
	"craftmart/settlement"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/default.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.MaxDBConns,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("migrations applied", "module", "db", "versions", applied)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedisLocker(client, lock.RedisOptions{
			Expiry:     cfg.LockExpiry,
			Tries:      cfg.LockTries,
			RetryDelay: cfg.LockRetryDelay,
		})
	}

	policy := authz.MustNew()
	writer := outbox.NewWriter()

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret).WithTokenTTL(cfg.TokenTTL)
	catalogService := catalog.NewService(catalog.NewRepository(pool))

	orderRepo := order.NewRepository(pool)
	orderService := order.NewService(pool, orderRepo, catalogService, policy, writer,
		order.WithShippingFee(cfg.ShippingFee),
		order.WithLogger(logger),
	)
	ledger := order.NewLedger(orderRepo)

	coordinator := settlement.NewCoordinator(ledger, settlement.NewStore(pool), writer)
	disputeService := dispute.NewService(pool, dispute.NewRepository(pool), orderRepo, ledger, coordinator, policy, writer,
		dispute.WithLocker(locker),
		dispute.WithLogger(logger),
	)

	server := &Server{
		authService:    authService,
		vendorService:  catalogService,
		orderService:   orderService,
		disputeService: disputeService,
		database:       pool,
		webhookSecret:  []byte(cfg.WebhookSecret),
		logger:         logger,
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook signature verification disabled", "module", "http")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "module", "http", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.OutboxEnabled {
		relay := outbox.NewRelay(outbox.NewStore(pool), outbox.LogPublisher{Logger: logger}, logger, outbox.RelayConfig{
			Interval:    cfg.OutboxInterval,
			BatchSize:   cfg.OutboxBatchSize,
			ClaimTTL:    cfg.OutboxClaimTTL,
			MaxAttempts: cfg.OutboxMaxAttempts,
		})
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("api stopped", "module", "http")
	return nil
}
