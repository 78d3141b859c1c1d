package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront-orders/internal/adapter/handler"
	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/adapter/workflow"
	"github.com/rl1809/storefront-orders/internal/config"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/platform/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")
	store := storage.NewMySQLAdapter(db)

	policy, err := cfg.Orders.Policy()
	if err != nil {
		return err
	}
	ledger := service.NewInventoryLedger(nil)

	orderDeps := service.OrderServiceDeps{
		Store:           store,
		Ledger:          ledger,
		Policy:          policy,
		PendingWindow:   cfg.Orders.PendingWindow,
		Currency:        cfg.Orders.Currency,
		ConflictRetries: cfg.Orders.ConflictRetries,
		CheckoutLockTTL: cfg.Orders.CheckoutLockTTL,
		Logger:          logger.Named("orders"),
	}
	inventoryDeps := service.InventoryServiceDeps{
		Store:    store,
		Ledger:   ledger,
		CacheTTL: cfg.Cache.CatalogTTL,
		Logger:   logger.Named("inventory"),
	}

	// Redis is optional
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: 100,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

		cache := storage.NewRedisAdapter(rdb)
		orderDeps.Cache = cache
		orderDeps.Lock = cache
		inventoryDeps.Cache = cache
	} else {
		logger.Warn("redis disabled: no catalog cache or checkout lock")
	}

	// Payments
	var temporalClient client.Client
	if cfg.Payments.StripeEnabled() {
		bridge, err := payment.NewStripeBridge(payment.StripeBridgeConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: logger.Named("stripe"),
		})
		if err != nil {
			return err
		}
		orderDeps.Payments = bridge

		if cfg.Payments.TemporalAddress != "" {
			temporalClient, err = client.Dial(client.Options{
				HostPort:  cfg.Payments.TemporalAddress,
				Namespace: cfg.Payments.TemporalNamespace,
			})
			if err != nil {
				return fmt.Errorf("dial temporal: %w", err)
			}
			defer temporalClient.Close()
			logger.Info("connected to temporal", zap.String("addr", cfg.Payments.TemporalAddress))
			orderDeps.Tracker = workflow.NewTracker(temporalClient, cfg.Payments.TaskQueue, cfg.Payments.PaymentTimeout)
		}
	}

	orders, err := service.NewOrderService(orderDeps)
	if err != nil {
		return err
	}
	inventory, err := service.NewInventoryService(inventoryDeps)
	if err != nil {
		return err
	}

	var webhook http.Handler
	if cfg.Payments.StripeEnabled() {
		outcomes := payment.RecordOnOrder(orders)
		if temporalClient != nil {
			w := workflow.NewWorker(temporalClient, cfg.Payments.TaskQueue, workflow.NewActivities(outcomes))
			if err := w.Start(); err != nil {
				return fmt.Errorf("start temporal worker: %w", err)
			}
			defer w.Stop()
			outcomes = workflow.NewSignaler(temporalClient, outcomes, logger.Named("payments"))
		}
		wh, err := payment.NewWebhookHandler(cfg.Payments.StripeWebhookSecret, outcomes, logger.Named("webhook"))
		if err != nil {
			return err
		}
		webhook = wh
	}

	go orders.Guard().Run(ctx, cfg.Guard.SweepInterval)

	// gRPC
	grpcServer := grpc.NewServer()
	handler.RegisterOrderServer(grpcServer, handler.NewGRPCHandler(orders, logger.Named("grpc")))
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	// HTTP
	httpHandler := handler.NewHTTPHandler(handler.HTTPHandlerDeps{
		Orders:    orders,
		Inventory: inventory,
		Webhook:   webhook,
		Logger:    logger.Named("http"),
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      httpHandler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(serveErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return serveErr
}
