package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/suprimo-erp/suprimo-erp/internal/app"
	"github.com/suprimo-erp/suprimo-erp/internal/inventory"
	"github.com/suprimo-erp/suprimo-erp/internal/observability"
	"github.com/suprimo-erp/suprimo-erp/internal/orders"
	"github.com/suprimo-erp/suprimo-erp/internal/platform/cache"
	"github.com/suprimo-erp/suprimo-erp/internal/platform/db"
	"github.com/suprimo-erp/suprimo-erp/internal/quotes"
	"github.com/suprimo-erp/suprimo-erp/internal/shared"
	"github.com/suprimo-erp/suprimo-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Caching is optional: the inventory cache degrades to direct reads.
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryCache := inventory.NewCache(redisClient, cfg.CacheTTL)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, inventoryCache, metrics)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	ordersRepo := orders.NewRepository(dbpool)
	ordersService := orders.NewService(ordersRepo, inventoryService, auditLogger, idempotencyStore, metrics)
	ordersHandler := orders.NewHandler(logger, ordersService)

	quotesRepo := quotes.NewRepository(dbpool)
	quotesService := quotes.NewService(quotesRepo, ordersService, auditLogger, metrics)
	quotesHandler := quotes.NewHandler(logger, quotesService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventoryHandler,
		OrdersHandler:    ordersHandler,
		QuotesHandler:    quotesHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
