// Package config provides configuration structures and validation for the
// credit ledger service. It handles environment-based configuration for all
// major components: HTTP server, databases, the generation provider client,
// job orchestration, and the reconciliation sweeper.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration. Each field covers one
// subsystem and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
	Provider    ProviderConfig
	Jobs        JobsConfig
	Sweeper     SweeperConfig
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

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
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

// KafkaConfig contains Kafka configuration for the credit event stream
type KafkaConfig struct {
	Brokers           string
	CreditEventsTopic string
	NumPartitions     int
	ReplicationFactor int
	WriteTimeout      time.Duration
}

// OutboxConfig contains credit event outbox configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int // Maximum number of publish attempts per event
}

// WorkerPoolConfig contains the job polling worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of concurrently polled jobs
}

// ProviderConfig contains the external generation provider client settings
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	SubmitTimeout time.Duration // Timeout for a single submit call
	StatusTimeout time.Duration // Timeout for a single status call
}

// JobsConfig contains job orchestration settings
type JobsConfig struct {
	PollInterval           time.Duration // Delay between provider status checks
	Timeout                time.Duration // Overall wall-clock bound per job
	MaxPollAttempts        int           // Upper bound on status checks per job
	LockTTL                time.Duration // Generation lock lifetime
	SettlementRetries      int           // Attempts for commit/release during settlement
	SettlementRetryBackoff time.Duration // Base backoff between settlement attempts
}

// SweeperConfig contains reconciliation sweeper settings
type SweeperConfig struct {
	Interval         time.Duration // Delay between sweeps
	ReservationGrace time.Duration // Age before an unsettled freeze is considered stale
	BatchSize        int           // Maximum rows handled per sweep
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

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.CreditEventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_CREDIT_EVENTS_TOPIC is required")
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

	// Validate Provider config
	if c.Provider.BaseURL == "" {
		validationErrors = append(validationErrors, "PROVIDER_BASE_URL is required")
	}
	if c.Provider.SubmitTimeout <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_SUBMIT_TIMEOUT must be greater than 0")
	}
	if c.Provider.StatusTimeout <= 0 {
		validationErrors = append(validationErrors, "PROVIDER_STATUS_TIMEOUT must be greater than 0")
	}

	// Validate Jobs config
	if c.Jobs.PollInterval <= 0 {
		validationErrors = append(validationErrors, "JOBS_POLL_INTERVAL must be greater than 0")
	}
	if c.Jobs.Timeout <= 0 {
		validationErrors = append(validationErrors, "JOBS_TIMEOUT must be greater than 0")
	}
	if c.Jobs.MaxPollAttempts <= 0 {
		validationErrors = append(validationErrors, "JOBS_MAX_POLL_ATTEMPTS must be greater than 0")
	}
	if c.Jobs.LockTTL <= 0 {
		validationErrors = append(validationErrors, "JOBS_LOCK_TTL must be greater than 0")
	}
	if c.Jobs.SettlementRetries <= 0 {
		validationErrors = append(validationErrors, "JOBS_SETTLEMENT_RETRIES must be greater than 0")
	}
	if c.Jobs.SettlementRetryBackoff <= 0 {
		validationErrors = append(validationErrors, "JOBS_SETTLEMENT_RETRY_BACKOFF must be greater than 0")
	}

	// Validate Sweeper config
	if c.Sweeper.Interval <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_INTERVAL must be greater than 0")
	}
	if c.Sweeper.ReservationGrace <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_RESERVATION_GRACE must be greater than 0")
	}
	if c.Sweeper.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_BATCH_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
