// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// minSecretLen is the minimum HS256 key length in bytes.
const minSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSecret is the HS256 signing key, or file://<path> naming a file that holds it. At least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim (e.g. "securepay-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token (and session) lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment (e.g. "development", "production"). Selects the logger flavour
	// and forbids in-memory stores in production.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// StoreTimeout bounds every storage round trip (e.g. "3s"); a timeout surfaces as storage unavailable.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// PaymentPolicyFile is an optional Rego file replacing the built-in payment access policy.
	PaymentPolicyFile string `mapstructure:"PAYMENT_POLICY_FILE"`

	// OTel (optional). When the endpoint is set, traces, metrics, and event log records are exported over OTLP gRPC.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Events (optional). When Kafka brokers are set, domain events are published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for domain events (default securepay-events).
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
}

// newViper returns a Viper instance reading .env (if present) overridden by the environment.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "securepay-auth")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("PAYMENT_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "securepay")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "securepay-events")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if !strings.HasPrefix(c.JWTSecret, "file://") && len(c.JWTSecret) < minSecretLen {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if c.AccessTTL() >= c.RefreshTTL() {
		return errors.New("config: JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// StoreTimeoutDuration parses StoreTimeout. Returns 3s if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, 3*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadDatabaseURL reads only DATABASE_URL. Used by tools such as cmd/migrate that need no other settings.
func LoadDatabaseURL() string {
	return strings.TrimSpace(newViper().GetString("DATABASE_URL"))
}

// WorkerConfig holds the settings of the event relay worker.
type WorkerConfig struct {
	Env             string `mapstructure:"APP_ENV"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	Topic           string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	GroupID         string `mapstructure:"KAFKA_GROUP_ID"`
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// LoadWorker builds and validates WorkerConfig. KAFKA_BROKERS is required.
func LoadWorker() (*WorkerConfig, error) {
	v := newViper()
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "securepay-events")
	v.SetDefault("KAFKA_GROUP_ID", "securepay-event-relay")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "securepay-worker")

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Brokers()) == 0 {
		return nil, errors.New("config: KAFKA_BROKERS is required for the worker")
	}
	return &cfg, nil
}

// Brokers returns the worker's Kafka broker addresses.
func (c *WorkerConfig) Brokers() []string {
	return (&Config{KafkaBrokers: c.KafkaBrokers}).KafkaBrokersList()
}
