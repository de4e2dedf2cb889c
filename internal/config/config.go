package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Relationship store backends
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Unbounded inventory policies
const (
	UnboundedSkip = "skip"
	UnboundedZero = "zero"
)

// Config holds all configuration for the bundle sync service
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Relationship store
	RelationshipStore string
	MongoURI          string
	MongoDatabase     string

	// Redis (webhook dedupe)
	RedisURL         string
	WebhookDedupeTTL time.Duration

	// GCP
	GCPProjectID      string
	ShopifySecretName string

	// Shopify
	ShopifyShop          string
	ShopifyAccessToken   string
	ShopifyWebhookSecret string
	ShopifyAPIVersion    string
	ShopifyLocationID    string
	ShopifyRateLimit     float64 // requests per second

	// Bundle definitions
	BundleNamespace     string
	BundleComponentsKey string
	BundleQuantitiesKey string
	BundleProductTypes  []string

	// Retry settings
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	CallTimeout         time.Duration

	// Processing
	ReadConcurrency          int
	JobTimeout               time.Duration
	UnboundedInventoryPolicy string
}

// Load loads configuration from environment variables
func Load() *Config {
	// Build DATABASE_URL from components using GCP Secret Manager for password
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := secrets.GetDBPassword()
		dbName := getEnv("DB_NAME", "bundle_sync")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	config := &Config{
		Port:        getEnv("PORT", "8099"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: databaseURL,

		// Relationship store
		RelationshipStore: strings.ToLower(getEnv("RELATIONSHIP_STORE", StorePostgres)),
		MongoURI:          getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:     getEnv("MONGODB_DATABASE", "bundle_sync"),

		// Redis
		RedisURL:         getEnv("REDIS_URL", ""),
		WebhookDedupeTTL: getEnvAsDuration("WEBHOOK_DEDUPE_TTL", 5*time.Minute),

		// GCP
		GCPProjectID:      getEnv("GCP_PROJECT_ID", ""),
		ShopifySecretName: getEnv("SHOPIFY_SECRET_NAME", ""),

		// Shopify
		ShopifyShop:          getEnv("SHOPIFY_SHOP", ""),
		ShopifyAccessToken:   getEnv("SHOPIFY_ACCESS_TOKEN", ""),
		ShopifyWebhookSecret: getEnv("SHOPIFY_WEBHOOK_SECRET", ""),
		ShopifyAPIVersion:    getEnv("SHOPIFY_API_VERSION", "2024-01"),
		ShopifyLocationID:    getEnv("SHOPIFY_LOCATION_ID", ""),
		ShopifyRateLimit:     getEnvAsFloat("SHOPIFY_RATE_LIMIT", 2),

		// Bundle definitions
		BundleNamespace:     getEnv("BUNDLE_METAFIELD_NAMESPACE", "custom"),
		BundleComponentsKey: getEnv("BUNDLE_COMPONENTS_KEY", "productos"),
		BundleQuantitiesKey: getEnv("BUNDLE_QUANTITIES_KEY", "cantidades"),
		BundleProductTypes:  getEnvAsList("BUNDLE_PRODUCT_TYPES", []string{"Ramo"}),

		// Retry settings
		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		RetryInitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", time.Second),
		RetryMaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 30*time.Second),
		CallTimeout:         getEnvAsDuration("CALL_TIMEOUT", 20*time.Second),

		// Processing
		ReadConcurrency:          getEnvAsInt("READ_CONCURRENCY", 5),
		JobTimeout:               getEnvAsDuration("JOB_TIMEOUT", 10*time.Minute),
		UnboundedInventoryPolicy: strings.ToLower(getEnv("UNBOUNDED_INVENTORY_POLICY", UnboundedSkip)),
	}

	if config.GCPProjectID == "" {
		logrus.Warn("GCP_PROJECT_ID not set, Shopify credentials are read from the environment only")
	}

	return config
}

// Validate checks the settings the service cannot run without
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.RelationshipStore {
	case StorePostgres, StoreMongo:
	default:
		return fmt.Errorf("RELATIONSHIP_STORE must be %q or %q, got %q", StorePostgres, StoreMongo, c.RelationshipStore)
	}
	switch c.UnboundedInventoryPolicy {
	case UnboundedSkip, UnboundedZero:
	default:
		return fmt.Errorf("UNBOUNDED_INVENTORY_POLICY must be %q or %q, got %q", UnboundedSkip, UnboundedZero, c.UnboundedInventoryPolicy)
	}
	if c.ReadConcurrency < 1 {
		return fmt.Errorf("READ_CONCURRENCY must be positive")
	}
	if c.IsProduction() && c.ShopifyWebhookSecret == "" && c.ShopifySecretName == "" {
		return fmt.Errorf("SHOPIFY_WEBHOOK_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvAsList splits a comma-separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
