package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// DevJWTSigningKey is the signing key used when none is configured. It is
// refused in production.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration.
type Server struct {
	Addr        string `env:"CLAIMREG_ADDR"        envDefault:":8080"`
	Environment string `env:"CLAIMREG_ENV"         envDefault:"development"`
	LogLevel    string `env:"CLAIMREG_LOG_LEVEL"   envDefault:"info"`
	Store       string `env:"CLAIMREG_STORE"       envDefault:"memory"`
	// MaxKeyLength bounds claim keys in bytes and is fixed for the process lifetime.
	MaxKeyLength  int    `env:"CLAIMREG_MAX_KEY_LENGTH"  envDefault:"256"`
	JWTSigningKey string `env:"CLAIMREG_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"CLAIMREG_JWT_ISSUER"      envDefault:"claimreg"`

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Tracing  TracingConfig
}

// PostgresConfig configures the durable claim store and event outbox.
type PostgresConfig struct {
	URL             string        `env:"CLAIMREG_DATABASE_URL"`
	MaxOpenConns    int           `env:"CLAIMREG_DATABASE_MAX_OPEN_CONNS"    envDefault:"10"`
	MaxIdleConns    int           `env:"CLAIMREG_DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CLAIMREG_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig configures the shared claim store and block sequencer.
type RedisConfig struct {
	URL          string        `env:"CLAIMREG_REDIS_URL"`
	PoolSize     int           `env:"CLAIMREG_REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"CLAIMREG_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"CLAIMREG_REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"CLAIMREG_REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"CLAIMREG_REDIS_WRITE_TIMEOUT"  envDefault:"3s"`
}

// KafkaConfig configures event delivery. An empty broker list disables it.
type KafkaConfig struct {
	Brokers           []string      `env:"CLAIMREG_KAFKA_BROKERS" envSeparator:","`
	Topic             string        `env:"CLAIMREG_KAFKA_TOPIC"              envDefault:"claimreg.events"`
	Partitions        int32         `env:"CLAIMREG_KAFKA_PARTITIONS"         envDefault:"1"`
	ReplicationFactor int16         `env:"CLAIMREG_KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	RelayInterval     time.Duration `env:"CLAIMREG_OUTBOX_RELAY_INTERVAL"    envDefault:"1s"`
	RelayBatchSize    int           `env:"CLAIMREG_OUTBOX_RELAY_BATCH"       envDefault:"100"`
}

// TracingConfig configures OTLP span export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `env:"CLAIMREG_OTEL_ENDPOINT"`
	Enabled     bool    `env:"CLAIMREG_OTEL_ENABLED"      envDefault:"true"`
	SampleRatio float64 `env:"CLAIMREG_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Active reports whether spans should be exported.
func (t TracingConfig) Active() bool { return t.Enabled && t.Endpoint != "" }

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Server) Validate() error {
	if c.MaxKeyLength < 0 {
		return fmt.Errorf("CLAIMREG_MAX_KEY_LENGTH must be non-negative, got %d", c.MaxKeyLength)
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("CLAIMREG_DATABASE_URL is required for the postgres store")
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("CLAIMREG_REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("CLAIMREG_OTEL_SAMPLE_RATIO must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.IsProduction() && (c.JWTSigningKey == "" || c.JWTSigningKey == DevJWTSigningKey) {
		return fmt.Errorf("CLAIMREG_JWT_SIGNING_KEY must be set to a non-default key in production")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("CLAIMREG_KAFKA_TOPIC is required when brokers are set")
	}
	return nil
}

// IsProduction reports whether the process runs in production mode.
func (c Server) IsProduction() bool {
	return c.Environment == "production"
}
