package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the service. Nothing else reads
// the environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV"`
	AppName             string `env:"APP_NAME"`
	AppDebug            bool   `env:"APP_DEBUG"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR"`
	HttpRequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT"`
	HttpServerReadBufSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresMaxOpenConns  int    `env:"POSTGRES_MAX_OPEN_CONNS"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	// upstream fulfillment vendor
	ProviderURL                     string        `env:"PROVIDER_URL"`
	ProviderAPIKey                  string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout                 time.Duration `env:"PROVIDER_TIMEOUT"`
	ProviderMaxAttempts             int           `env:"PROVIDER_MAX_ATTEMPTS"`
	ProviderRetryBaseDelay          time.Duration `env:"PROVIDER_RETRY_BASE_DELAY"`
	ProviderCircuitBreakerThreshold int           `env:"PROVIDER_CIRCUIT_BREAKER_THRESHOLD"`
	ProviderCircuitBreakerTimeout   time.Duration `env:"PROVIDER_CIRCUIT_BREAKER_TIMEOUT"`

	CatalogTTL time.Duration `env:"CATALOG_TTL"`

	PricingFlatRate string `env:"PRICING_FLAT_RATE"`

	ReconcileInterval       time.Duration `env:"RECONCILE_INTERVAL"`
	ReconcileCoarseInterval time.Duration `env:"RECONCILE_COARSE_INTERVAL"`
	ReconcileBatchSize      int           `env:"RECONCILE_BATCH_SIZE"`
	ReconcileChunkSize      int           `env:"RECONCILE_CHUNK_SIZE"`
	ReconcileThrottle       time.Duration `env:"RECONCILE_THROTTLE"`
	ReconcileCoarseMaxPages int           `env:"RECONCILE_COARSE_MAX_PAGES"`

	InvoiceMultiplier string `env:"INVOICE_MULTIPLIER"`
	InvoiceCurrency   string `env:"INVOICE_CURRENCY"`
	InvoiceAuto       bool   `env:"INVOICE_AUTO"`
	SnowflakeNode     int64  `env:"SNOWFLAKE_NODE"`

	LowCreditThreshold int64 `env:"LOW_CREDIT_THRESHOLD"`

	NotifyQueueName        string        `env:"NOTIFY_QUEUE_NAME"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ"`

	IntegrationLogWorkers int `env:"INTEGRATION_LOG_WORKERS"`
	IntegrationLogBuffer  int `env:"INTEGRATION_LOG_BUFFER"`
}

func Load(path string) error {
	return load(path, true)
}

// LoadDatabaseOnly loads the config without requiring the provider settings,
// for tools that only talk to postgres.
func LoadDatabaseOnly(path string) error {
	return load(path, false)
}

func load(path string, strict bool) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	c.withDefaults()
	if strict {
		if err := c.validate(); err != nil {
			return err
		}
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the global config, used by tests and tools.
func Set(c *Config) {
	c.withDefaults()
	config = c
}

func (c *Config) withDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "dev"
	}
	if c.AppName == "" {
		c.AppName = "engagement_reseller"
	}
	if c.HttpListenAddr == "" {
		c.HttpListenAddr = ":8080"
	}
	if c.HttpRequestTimeout <= 0 {
		c.HttpRequestTimeout = 30 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.ProviderMaxAttempts <= 0 {
		c.ProviderMaxAttempts = 3
	}
	if c.ProviderRetryBaseDelay <= 0 {
		c.ProviderRetryBaseDelay = 500 * time.Millisecond
	}
	if c.ProviderCircuitBreakerThreshold <= 0 {
		c.ProviderCircuitBreakerThreshold = 10
	}
	if c.ProviderCircuitBreakerTimeout <= 0 {
		c.ProviderCircuitBreakerTimeout = 30 * time.Second
	}
	if c.CatalogTTL <= 0 {
		c.CatalogTTL = time.Hour
	}
	if c.PricingFlatRate == "" {
		c.PricingFlatRate = "1"
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 2 * time.Minute
	}
	if c.ReconcileCoarseInterval <= 0 {
		c.ReconcileCoarseInterval = 4 * time.Hour
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = 100
	}
	if c.ReconcileChunkSize <= 0 {
		c.ReconcileChunkSize = 50
	}
	if c.ReconcileThrottle <= 0 {
		c.ReconcileThrottle = 250 * time.Millisecond
	}
	if c.ReconcileCoarseMaxPages <= 0 {
		c.ReconcileCoarseMaxPages = 50
	}
	if c.InvoiceMultiplier == "" {
		c.InvoiceMultiplier = "8"
	}
	if c.InvoiceCurrency == "" {
		c.InvoiceCurrency = "USD"
	}
	if c.SnowflakeNode <= 0 {
		c.SnowflakeNode = 1
	}
	if c.LowCreditThreshold <= 0 {
		c.LowCreditThreshold = 100
	}
	if c.NotifyQueueName == "" {
		c.NotifyQueueName = "notifications"
	}
	if c.QueueConsumerGroup == "" {
		c.QueueConsumerGroup = "notifiers"
	}
	if c.IntegrationLogWorkers <= 0 {
		c.IntegrationLogWorkers = 4
	}
	if c.IntegrationLogBuffer <= 0 {
		c.IntegrationLogBuffer = 10_000
	}
}

func (c *Config) validate() error {
	if c.ProviderURL == "" {
		return errors.New("PROVIDER_URL is required")
	}
	if c.ProviderAPIKey == "" {
		return errors.New("PROVIDER_API_KEY is required")
	}
	return nil
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:         c.PostgresReadUser,
		Host:         c.PostgresReadHost,
		Port:         c.PostgresReadPort,
		Password:     c.PostgresReadPassword,
		Database:     c.PostgresReadDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:         c.PostgresWriteUser,
		Host:         c.PostgresWriteHost,
		Port:         c.PostgresWritePort,
		Password:     c.PostgresWritePassword,
		Database:     c.PostgresWriteDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
	}
}
