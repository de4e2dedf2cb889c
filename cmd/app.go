package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bundle-sync-service/internal/bundle"
	"bundle-sync-service/internal/clients"
	"bundle-sync-service/internal/clients/shopify"
	"bundle-sync-service/internal/config"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/queue"
	"bundle-sync-service/internal/repository"
	"bundle-sync-service/internal/secrets"
	"bundle-sync-service/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the wired service. Close releases everything it opened.
type app struct {
	cfg           *config.Config
	logger        *logrus.Logger
	db            *gorm.DB
	store         repository.RelationshipStore
	webhookRepo   *repository.WebhookRepository
	redis         *redis.Client
	catalog       clients.CatalogClient
	queue         *queue.Queue
	engine        *services.Engine
	webhookSecret string

	closers []func()
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	if cfg.IsProduction() {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// buildApp connects every dependency and wires the engine
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, logger: newLogger(cfg)}
	logrus.SetFormatter(a.logger.Formatter)
	logrus.SetLevel(a.logger.GetLevel())

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	a.logger.Info("Running database migrations...")
	if err := db.AutoMigrate(&models.BundleWebhookEvent{}); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.webhookRepo = repository.NewWebhookRepository(db)

	// Initialize relationship store
	switch cfg.RelationshipStore {
	case config.StoreMongo:
		mongoRepo, err := repository.NewMongoRelationshipRepository(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		a.store = mongoRepo
		a.closers = append(a.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoRepo.Close(closeCtx)
		})
		a.logger.WithField("database", cfg.MongoDatabase).Info("Relationship store: MongoDB")
	default:
		pgRepo := repository.NewRelationshipRepository(db)
		if err := pgRepo.AutoMigrate(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to migrate relationship tables: %w", err)
		}
		a.store = pgRepo
		a.logger.Info("Relationship store: PostgreSQL")
	}
	a.logger.Info("Database migrations completed")

	// Initialize Redis client (graceful degradation if unavailable)
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := services.NewRedisClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			a.logger.WithError(err).Warn("Failed to connect to Redis, deduplicating through the webhook log")
		} else {
			a.redis = client
			a.closers = append(a.closers, func() { _ = client.Close() })
			a.logger.Info("Redis connection established")
		}
	}

	shopCfg, err := a.shopifyConfig(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	retrier := clients.NewRetrier(&clients.RetryConfig{
		MaxRetries:     cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		CallTimeout:    cfg.CallTimeout,
	}, a.logger.WithField("component", "retrier"))
	a.catalog = clients.NewRetryingClient(shopify.NewShopifyClient(shopCfg), retrier)

	a.queue = queue.New(cfg.JobTimeout, logrus.NewEntry(a.logger))
	a.engine = services.NewEngine(a.catalog, a.store, a.queue, services.EngineConfig{
		Keys: bundle.DefinitionKeys{
			Namespace:  cfg.BundleNamespace,
			Components: cfg.BundleComponentsKey,
			Quantities: cfg.BundleQuantitiesKey,
		},
		ReadConcurrency: cfg.ReadConcurrency,
		ZeroUnbounded:   cfg.UnboundedInventoryPolicy == config.UnboundedZero,
	}, logrus.NewEntry(a.logger))

	return a, nil
}

// shopifyConfig reads the shop credentials, preferring Secret Manager when it is configured
func (a *app) shopifyConfig(ctx context.Context) (shopify.Config, error) {
	cfg := a.cfg
	shopCfg := shopify.Config{
		Shop:        cfg.ShopifyShop,
		AccessToken: cfg.ShopifyAccessToken,
		APIVersion:  cfg.ShopifyAPIVersion,
		LocationID:  cfg.ShopifyLocationID,
		RateLimit:   cfg.ShopifyRateLimit,
	}
	a.webhookSecret = cfg.ShopifyWebhookSecret

	if cfg.GCPProjectID != "" && cfg.ShopifySecretName != "" {
		secretManager, err := secrets.NewGCPSecretManager(ctx, cfg.GCPProjectID)
		if err != nil {
			return shopCfg, fmt.Errorf("failed to initialize GCP Secret Manager: %w", err)
		}
		defer secretManager.Close()

		secret, err := secretManager.GetShopifySecret(ctx, cfg.ShopifySecretName)
		if err != nil {
			return shopCfg, fmt.Errorf("failed to load Shopify credentials: %w", err)
		}
		shopCfg.Shop = secret.Shop
		shopCfg.AccessToken = secret.AccessToken
		if secret.LocationID != "" {
			shopCfg.LocationID = secret.LocationID
		}
		if secret.WebhookSecret != "" {
			a.webhookSecret = secret.WebhookSecret
		}
		a.logger.WithField("secret", cfg.ShopifySecretName).Info("Shopify credentials loaded from Secret Manager")
	}

	if shopCfg.Shop == "" || shopCfg.AccessToken == "" {
		return shopCfg, fmt.Errorf("SHOPIFY_SHOP and SHOPIFY_ACCESS_TOKEN are required")
	}
	return shopCfg, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
