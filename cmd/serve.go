package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bundle-sync-service/internal/config"
	"bundle-sync-service/internal/handlers"
	"bundle-sync-service/internal/middleware"
	"bundle-sync-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Deliveries replayed at startup that were stored but never finished
const replayLimit = 500

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive catalog webhooks and keep bundles reconciled",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	var dedupe services.Deduplicator
	if a.redis != nil {
		dedupe = services.NewRedisDeduplicator(a.redis, cfg.WebhookDedupeTTL)
	}
	webhookService := services.NewWebhookService(a.webhookRepo, dedupe, a.engine, logrus.NewEntry(logger))

	// Queue worker
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := a.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Queue worker stopped")
		}
	}()

	if n, err := webhookService.ReplayPending(ctx, replayLimit); err != nil {
		logger.WithError(err).Warn("Failed to replay unprocessed webhooks")
	} else if n > 0 {
		logger.WithField("count", n).Info("Unprocessed webhooks queued")
	}

	router := setupRouter(a, webhookService)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Bundle sync service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Queue worker did not stop in time")
	}
	logger.WithField("pending", a.queue.Len()).Info("Server exited")
	return nil
}

func setupRouter(a *app, webhookService *services.WebhookService) *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logrus.NewEntry(a.logger)))
	router.Use(middleware.SecurityHeaders())

	checks := map[string]handlers.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checks["mongodb"] = pinger.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	healthHandler := handlers.NewHealthHandler(checks, a.queue.Len)

	// Health check endpoints
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Read-only catalog views
	catalogHandler := handlers.NewCatalogHandler(services.NewCatalogQueryService(
		a.catalog, a.engine.Keys(), a.cfg.BundleProductTypes, a.cfg.ReadConcurrency, logrus.NewEntry(a.logger)))
	router.GET("/products", catalogHandler.ListProducts)
	router.GET("/products/:id", catalogHandler.GetProduct)
	router.GET("/bundles", catalogHandler.ListBundles)

	// Webhooks are authenticated by their signature
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.VerifyShopifyHMAC(a.webhookSecret))
	{
		webhooks.POST("/products/update", webhookHandler.HandleProductUpdate)
		webhooks.POST("/orders/create", webhookHandler.HandleOrderCreate)
		webhooks.POST("/shopify", webhookHandler.HandleShopifyWebhook)
	}

	return router
}
