// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Change feed drivers.
const (
	FeedLocal = "local"
	FeedRedis = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	ChangeFeed    ChangeFeedConfig    `yaml:"changefeed"`
	Live          LiveConfig          `yaml:"live"`
	List          ListConfig          `yaml:"list"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification settings. Tokens are verified
// with an HMAC secret read from the environment variable named by SecretEnv.
type IdentityConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	SecretEnv  string   `yaml:"secret_env"`
	Algorithms []string `yaml:"algorithms"`
}

// Secret returns the HMAC secret from the environment.
func (c IdentityConfig) Secret() string {
	if c.SecretEnv == "" {
		return ""
	}
	return os.Getenv(c.SecretEnv)
}

// StoreConfig describes the repository backend.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	Seed            bool          `yaml:"seed"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig describes the circuit breaker guarding each repository.
// A zero FailureThreshold disables the breaker.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	OpenTimeout        time.Duration `yaml:"open_timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// ChangeFeedConfig describes how repositories announce changes to live
// queries in other processes.
type ChangeFeedConfig struct {
	Driver        string `yaml:"driver"`
	AddrEnv       string `yaml:"addr_env"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// LiveConfig describes live subscription settings.
type LiveConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// ListConfig describes list store defaults.
type ListConfig struct {
	DefaultPageSize int           `yaml:"default_page_size"`
	RefreshDebounce time.Duration `yaml:"refresh_debounce"`
	RelistOnCreate  bool          `yaml:"relist_on_create"`
}

// MetadataConfig describes where entity schemas are loaded from.
type MetadataConfig struct {
	Directories []string `yaml:"directories"`
	Builtin     bool     `yaml:"builtin"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
			IdempotencyTTL: 24 * time.Hour,
		},
		Identity: IdentityConfig{
			SecretEnv:  "ENTITYSTORE_JWT_SECRET",
			Algorithms: []string{"HS256"},
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			DSNEnv:          "ENTITYSTORE_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenTimeout:      30 * time.Second,
			},
		},
		ChangeFeed: ChangeFeedConfig{
			Driver:        FeedLocal,
			AddrEnv:       "ENTITYSTORE_REDIS_ADDR",
			ChannelPrefix: "entitystore:changes:",
		},
		Live: LiveConfig{
			Debounce: 300 * time.Millisecond,
		},
		List: ListConfig{
			DefaultPageSize: 10,
			RefreshDebounce: 300 * time.Millisecond,
		},
		Metadata: MetadataConfig{
			Builtin: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path skips the file and starts from
// Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres", c.Store.Driver))
	}

	switch c.ChangeFeed.Driver {
	case FeedLocal:
	case FeedRedis:
		if c.ChangeFeed.AddrEnv == "" {
			errs = append(errs, "changefeed.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("changefeed.driver %q is not one of local, redis", c.ChangeFeed.Driver))
	}

	if c.Identity.Enabled {
		if c.Identity.Issuer == "" {
			errs = append(errs, "identity.issuer is required when identity is enabled")
		}
		if c.Identity.SecretEnv == "" {
			errs = append(errs, "identity.secret_env is required when identity is enabled")
		}
	}

	if c.Store.Breaker.ErrorRateThreshold < 0 || c.Store.Breaker.ErrorRateThreshold > 1 {
		errs = append(errs, "store.breaker.error_rate_threshold must be between 0 and 1")
	}
	if c.Server.IdempotencyTTL < 0 {
		errs = append(errs, "server.idempotency_ttl must not be negative")
	}

	if c.Live.Debounce < 0 {
		errs = append(errs, "live.debounce must not be negative")
	}
	if c.List.RefreshDebounce < 0 {
		errs = append(errs, "list.refresh_debounce must not be negative")
	}
	if c.List.DefaultPageSize < 1 {
		errs = append(errs, "list.default_page_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads ENTITYSTORE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENTITYSTORE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENTITYSTORE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("ENTITYSTORE_CHANGEFEED_DRIVER"); v != "" {
		cfg.ChangeFeed.Driver = v
	}
	if v := os.Getenv("ENTITYSTORE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("ENTITYSTORE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("ENTITYSTORE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
