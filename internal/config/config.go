// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for all major components including
// server settings, the card provider connection, database connections, and
// operational parameters.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration (e.g., HTTP server, the card
// provider, databases) and is validated during application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Provider    ProviderConfig
	Ledger      LedgerConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// ProviderConfig contains the card-issuing provider connection settings.
// The AES key is the shared envelope key agreed with the provider and must
// be exactly 16 bytes.
type ProviderConfig struct {
	BaseURL      string
	Token        string        // Auth token sent on every request
	AESKey       string        // 16-byte envelope key
	Timeout      time.Duration // Per-attempt HTTP timeout
	Retries      int           // Attempts for transport-level failures
	RetryBackoff time.Duration // Base unit for exponential backoff between attempts
	PageSize     int           // Page size for auth/settle listing endpoints
}

// LedgerConfig contains the ledger poster connection settings
type LedgerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration for per-transaction leases
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	LeaseDuration time.Duration // How long a corrective-operation lease is held at most
}

// KafkaConfig contains Kafka configuration for anomaly escalation
type KafkaConfig struct {
	Brokers           string
	AnomalyTopic      string // Topic for reconciliation anomalies requiring manual intervention
	NumPartitions     int    // Number of partitions for topics
	ReplicationFactor int    // Replication factor for topics
	WriteTimeout      time.Duration
}

// OutboxConfig contains ledger outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int // Maximum number of delivery attempts for outbox posts
}

// WorkerPoolConfig contains worker pool configuration for sync ingestion
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Provider config
	if c.Provider.BaseURL == "" {
		validationErrors = append(validationErrors, "PROVIDER_BASE_URL is required")
	}
	if c.Provider.Token == "" {
		validationErrors = append(validationErrors, "PROVIDER_TOKEN is required")
	}
	if len(c.Provider.AESKey) != 16 {
		validationErrors = append(validationErrors, "PROVIDER_AES_KEY must be exactly 16 bytes")
	}
	if c.Provider.Timeout <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_TIMEOUT must be greater than 0")
	}
	if c.Provider.Retries <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_RETRIES must be greater than 0")
	}
	if c.Provider.RetryBackoff <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_RETRY_BACKOFF must be greater than 0")
	}
	if c.Provider.PageSize <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_PAGE_SIZE must be greater than 0")
	}

	// Validate Ledger config
	if c.Ledger.BaseURL == "" {
		validationErrors = append(validationErrors, "LEDGER_BASE_URL is required")
	}
	if c.Ledger.Timeout <= 0 {
		validationErrors = append(validationErrors, "LEDGER_TIMEOUT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}
	if c.Redis.LeaseDuration <= 0 {
		validationErrors = append(validationErrors, "REDIS_LEASE_DURATION must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.AnomalyTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_ANOMALY_TOPIC is required")
	}
	if c.Kafka.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "KAFKA_WRITE_TIMEOUT must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
