// Package config loads the billing daemon configuration.
//
// Values are layered: DefaultConfig, then an optional YAML file, then any
// .env files, then BILLING_* environment variables. Money amounts are
// written in major units ("12.50") and parsed exactly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/billing/store"
	"github.com/xraph/billing/types"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
)

// Adapter kinds.
const (
	KindEcho   = "echo"
	KindScript = "script"
	KindHTTP   = "http"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full daemon configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Retry   RetryConfig   `yaml:"retry"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Currency is the default currency for accounts opened without one.
	Currency string `yaml:"currency" env:"BILLING_CURRENCY"`

	// PluginTimeout bounds each plugin hook call.
	PluginTimeout time.Duration `yaml:"plugin_timeout" env:"BILLING_PLUGIN_TIMEOUT"`

	// AuditLog writes the audit trail to the log.
	AuditLog bool `yaml:"audit_log" env:"BILLING_AUDIT_LOG"`

	Adapters []AdapterConfig `yaml:"adapters"`
	Accounts []AccountSeed   `yaml:"accounts"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"BILLING_HTTP_ADDR"`
	BasePath        string        `yaml:"base_path" env:"BILLING_HTTP_BASE_PATH"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"BILLING_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"BILLING_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BILLING_HTTP_SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"BILLING_HTTP_MAX_BODY_BYTES"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"BILLING_LOG_LEVEL"`
	Format string `yaml:"format" env:"BILLING_LOG_FORMAT"` // "json" or "text"
}

// StoreConfig selects and connects the document store.
type StoreConfig struct {
	Driver        string `yaml:"driver" env:"BILLING_STORE_DRIVER"`
	PostgresDSN   string `yaml:"postgres_dsn" env:"BILLING_POSTGRES_DSN"`
	MongoURI      string `yaml:"mongo_uri" env:"BILLING_MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"BILLING_MONGO_DATABASE"`
	RedisURL      string `yaml:"redis_url" env:"BILLING_REDIS_URL"`
	RedisPrefix   string `yaml:"redis_prefix" env:"BILLING_REDIS_PREFIX"`
}

// RetryConfig bounds the optimistic transaction loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"BILLING_RETRY_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BILLING_RETRY_BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"BILLING_RETRY_MAX_DELAY"`
}

// Policy converts to a store.RetryPolicy.
func (r RetryConfig) Policy() store.RetryPolicy {
	return store.RetryPolicy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// KafkaConfig enables the event publisher.
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled" env:"BILLING_KAFKA_ENABLED"`
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic" env:"BILLING_KAFKA_TOPIC"`
	PublishAborted bool          `yaml:"publish_aborted" env:"BILLING_KAFKA_PUBLISH_ABORTED"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"BILLING_KAFKA_WRITE_TIMEOUT"`
}

// MetricsConfig enables the Prometheus plugin and endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"BILLING_METRICS_ENABLED"`
	Path    string `yaml:"path" env:"BILLING_METRICS_PATH"`
}

// AdapterConfig declares one adapter. Kind selects which of the remaining
// fields apply.
type AdapterConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Price    string `yaml:"price"`
	Currency string `yaml:"currency"`

	// script
	Source     string        `yaml:"source"`
	SourceFile string        `yaml:"source_file"`
	EntryPoint string        `yaml:"entry_point"`
	Timeout    time.Duration `yaml:"timeout"`

	// http
	URL       string            `yaml:"url"`
	Method    string            `yaml:"method"`
	Headers   map[string]string `yaml:"headers"`
	UnitsPath string            `yaml:"units_path"`
	DataPath  string            `yaml:"data_path"`
}

// UnitPrice parses Price in Currency, falling back to def.
func (a AdapterConfig) UnitPrice(def string) (types.Money, error) {
	return parseMoney(a.Price, a.Currency, def)
}

// LoadSource returns the inline script source or reads SourceFile.
func (a AdapterConfig) LoadSource() (string, error) {
	if a.Source != "" || a.SourceFile == "" {
		return a.Source, nil
	}
	b, err := os.ReadFile(a.SourceFile)
	if err != nil {
		return "", fmt.Errorf("config: adapter %s: %w", a.ID, err)
	}
	return string(b), nil
}

// AccountSeed opens an account on start when it does not exist yet.
type AccountSeed struct {
	ID       string `yaml:"id"`
	Balance  string `yaml:"balance"`
	Currency string `yaml:"currency"`
}

// Opening parses Balance in Currency, falling back to def.
func (s AccountSeed) Opening(def string) (types.Money, error) {
	return parseMoney(s.Balance, s.Currency, def)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	policy := store.DefaultRetryPolicy()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			BasePath:        "/v1",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Driver:        DriverMemory,
			MongoDatabase: "billing",
			RedisPrefix:   "billing",
		},
		Retry: RetryConfig{
			MaxAttempts: policy.MaxAttempts,
			BaseDelay:   policy.BaseDelay,
			MaxDelay:    policy.MaxDelay,
		},
		Kafka: KafkaConfig{
			Topic:        "billing.events",
			WriteTimeout: 3 * time.Second,
		},
		Metrics:       MetricsConfig{Enabled: true, Path: "/metrics"},
		Currency:      "usd",
		PluginTimeout: 5 * time.Second,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the given .env files (missing files are ignored) and the
// environment, then validates it.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return invalid("store.postgres_dsn is required for the postgres driver")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return invalid("store.mongo_uri is required for the mongo driver")
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return invalid("store.redis_url is required for the redis driver")
		}
	default:
		return invalid("unknown store driver %q", c.Store.Driver)
	}

	if c.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return invalid("retry delays must satisfy 0 <= base_delay <= max_delay")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return invalid("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if strings.TrimSpace(c.Currency) == "" {
		return invalid("currency is required")
	}

	seen := make(map[string]bool, len(c.Adapters))
	for i, a := range c.Adapters {
		if a.ID == "" {
			return invalid("adapters[%d]: id is required", i)
		}
		if seen[a.ID] {
			return invalid("adapters[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true

		switch a.Kind {
		case KindEcho:
		case KindScript:
			if a.Source == "" && a.SourceFile == "" {
				return invalid("adapter %s: source or source_file is required", a.ID)
			}
		case KindHTTP:
			if a.URL == "" {
				return invalid("adapter %s: url is required", a.ID)
			}
		default:
			return invalid("adapter %s: unknown kind %q", a.ID, a.Kind)
		}

		price, err := a.UnitPrice(c.Currency)
		if err != nil {
			return invalid("adapter %s: price: %v", a.ID, err)
		}
		if price.IsNegative() {
			return invalid("adapter %s: price must not be negative", a.ID)
		}
	}

	for i, s := range c.Accounts {
		if s.ID == "" {
			return invalid("accounts[%d]: id is required", i)
		}
		bal, err := s.Opening(c.Currency)
		if err != nil {
			return invalid("account %s: balance: %v", s.ID, err)
		}
		if bal.IsNegative() {
			return invalid("account %s: balance must not be negative", s.ID)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func parseMoney(amount, currency, def string) (types.Money, error) {
	if currency == "" {
		currency = def
	}
	if strings.TrimSpace(amount) == "" {
		return types.Zero(currency), nil
	}
	return types.ParseMajor(amount, currency)
}
