// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	BusMemory = "memory"
	BusKafka  = "kafka"
)

// Config is the complete server configuration.
type Config struct {
	Server    Server
	Database  Database
	Redis     RedisConfig
	Kafka     Kafka
	Tracing   Tracing
	Router    Router
	Bootstrap Bootstrap
	Provider  Provider
}

type Server struct {
	Addr            string        `env:"CAREBASE_ADDR" envDefault:":8080"`
	Env             string        `env:"CAREBASE_ENV" envDefault:"dev"`
	LogLevel        string        `env:"CAREBASE_LOG_LEVEL" envDefault:"info"`
	Storage         string        `env:"CAREBASE_STORAGE" envDefault:"memory"`
	Bus             string        `env:"CAREBASE_BUS" envDefault:"memory"`
	AdminJWTSecret  string        `env:"CAREBASE_ADMIN_JWT_SECRET"`
	AdminJWTIssuer  string        `env:"CAREBASE_ADMIN_JWT_ISSUER" envDefault:"carebase"`
	AdminAudience   string        `env:"CAREBASE_ADMIN_JWT_AUDIENCE" envDefault:"carebase-admin"`
	ShutdownTimeout time.Duration `env:"CAREBASE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Database struct {
	URL             string        `env:"CAREBASE_DATABASE_URL"`
	MaxOpenConns    int           `env:"CAREBASE_DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"CAREBASE_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CAREBASE_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	Migrate         bool          `env:"CAREBASE_DATABASE_MIGRATE" envDefault:"true"`
}

// RedisConfig enables the Redis-backed circuit breaker store when URL is set.
type RedisConfig struct {
	URL          string        `env:"CAREBASE_REDIS_URL"`
	PoolSize     int           `env:"CAREBASE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"CAREBASE_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"CAREBASE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"CAREBASE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"CAREBASE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

type Kafka struct {
	Brokers    []string `env:"CAREBASE_KAFKA_BROKERS" envSeparator:","`
	Topic      string   `env:"CAREBASE_KAFKA_TOPIC" envDefault:"carebase.domain-events"`
	Group      string   `env:"CAREBASE_KAFKA_GROUP" envDefault:"carebase-saga"`
	Partitions int32    `env:"CAREBASE_KAFKA_PARTITIONS" envDefault:"6"`
	// Replication is -1 for the broker default.
	Replication int16 `env:"CAREBASE_KAFKA_REPLICATION" envDefault:"-1"`
}

type Tracing struct {
	OTLPEndpoint string  `env:"CAREBASE_OTLP_ENDPOINT"`
	Insecure     bool    `env:"CAREBASE_OTLP_INSECURE" envDefault:"false"`
	SampleRatio  float64 `env:"CAREBASE_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

type Router struct {
	SlowThreshold    time.Duration `env:"CAREBASE_ROUTER_SLOW_THRESHOLD" envDefault:"100ms"`
	MaxCascade       int           `env:"CAREBASE_MAX_CASCADE" envDefault:"1000"`
	FollowUpInterval time.Duration `env:"CAREBASE_FOLLOW_UP_INTERVAL" envDefault:"5s"`
	FollowUpBatch    int           `env:"CAREBASE_FOLLOW_UP_BATCH" envDefault:"50"`
}

type Bootstrap struct {
	BreakerThreshold int           `env:"CAREBASE_BREAKER_THRESHOLD" envDefault:"3"`
	BreakerCooldown  time.Duration `env:"CAREBASE_BREAKER_COOLDOWN" envDefault:"300s"`
	Attempts         int           `env:"CAREBASE_BOOTSTRAP_ATTEMPTS" envDefault:"4"`
	InitialBackoff   time.Duration `env:"CAREBASE_BOOTSTRAP_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff       time.Duration `env:"CAREBASE_BOOTSTRAP_MAX_BACKOFF" envDefault:"8s"`
}

type Provider struct {
	BaseURL string        `env:"CAREBASE_PROVIDER_URL"`
	Token   string        `env:"CAREBASE_PROVIDER_TOKEN"`
	Timeout time.Duration `env:"CAREBASE_PROVIDER_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates cross-field requirements.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Server.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("CAREBASE_DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Server.Storage))
	}
	switch c.Server.Bus {
	case BusMemory:
	case BusKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("CAREBASE_KAFKA_BROKERS is required for the kafka bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event bus %q", c.Server.Bus))
	}
	if c.Server.AdminJWTSecret == "" {
		errs = append(errs, errors.New("CAREBASE_ADMIN_JWT_SECRET is required"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("CAREBASE_PROVIDER_URL is required"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the process runs in the prod environment.
func (c Config) IsProduction() bool { return c.Server.Env == "prod" }
