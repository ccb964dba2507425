package config

import (
	"encoding/json"
	"time"
)

// Config is the root configuration of the examforge engine.
type Config struct {
	Runtime    RuntimeConfig    `koanf:"runtime"`
	Generation GenerationConfig `koanf:"generation"`
	Provider   ProviderConfig   `koanf:"provider"`
	Store      StoreConfig      `koanf:"store"`
	Cache      CacheConfig      `koanf:"cache"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

// RuntimeConfig controls process level behavior.
type RuntimeConfig struct {
	LogLevel string `koanf:"log_level" env:"EXAMFORGE_LOG_LEVEL" validate:"oneof=debug info warn error disabled"`
	LogJSON  bool   `koanf:"log_json"  env:"EXAMFORGE_LOG_JSON"`
	// MaxConcurrentTasks bounds how many async tasks execute at the same time.
	MaxConcurrentTasks int `koanf:"max_concurrent_tasks" env:"EXAMFORGE_MAX_CONCURRENT_TASKS" validate:"min=1"`
}

// GenerationConfig holds the per-unit retry policy and pool sizing.
//
// MaxAttempts is the single retry bound for every provider call path.
type GenerationConfig struct {
	MaxAttempts         int           `koanf:"max_attempts"          env:"EXAMFORGE_MAX_ATTEMPTS"          validate:"min=1,max=20"`
	RetryDelay          time.Duration `koanf:"retry_delay"           env:"EXAMFORGE_RETRY_DELAY"           validate:"min=0"`
	PaperPoolFactor     int           `koanf:"paper_pool_factor"     env:"EXAMFORGE_PAPER_POOL_FACTOR"     validate:"min=1"`
	IntensivePoolFactor int           `koanf:"intensive_pool_factor" env:"EXAMFORGE_INTENSIVE_POOL_FACTOR" validate:"min=1"`
	UnwrapDepth         int           `koanf:"unwrap_depth"          env:"EXAMFORGE_UNWRAP_DEPTH"          validate:"min=1,max=32"`
}

type ProviderConfig struct {
	Primary  EndpointConfig `koanf:"primary"  envPrefix:"EXAMFORGE_PRIMARY_"`
	Fallback EndpointConfig `koanf:"fallback" envPrefix:"EXAMFORGE_FALLBACK_"`
}

// EndpointConfig describes one generation provider endpoint.
type EndpointConfig struct {
	Kind           string          `koanf:"kind"            env:"KIND"            validate:"oneof=workflow service"`
	URL            string          `koanf:"url"             env:"URL"             validate:"omitempty,url"`
	Token          SensitiveString `koanf:"token"           env:"TOKEN"           sensitive:"true"`
	WorkflowID     string          `koanf:"workflow_id"     env:"WORKFLOW_ID"     validate:"workflow_id"`
	Model          string          `koanf:"model"           env:"MODEL"`
	Timeout        time.Duration   `koanf:"timeout"         env:"TIMEOUT"         validate:"min=0"`
	BreakerEnabled bool            `koanf:"breaker_enabled" env:"BREAKER_ENABLED"`
}

type StoreConfig struct {
	Driver     string `koanf:"driver"      env:"EXAMFORGE_STORE_DRIVER" validate:"oneof=memory sqlite postgres"`
	Path       string `koanf:"path"        env:"EXAMFORGE_STORE_PATH"`
	ConnString string `koanf:"conn_string" env:"EXAMFORGE_DATABASE_URL" sensitive:"true"`
	MaxConns   int    `koanf:"max_conns"   env:"EXAMFORGE_STORE_MAX_CONNS" validate:"min=0"`
}

// CacheConfig bounds the terminal-result cache.
type CacheConfig struct {
	Size int           `koanf:"size" env:"EXAMFORGE_CACHE_SIZE" validate:"min=1"`
	TTL  time.Duration `koanf:"ttl"  env:"EXAMFORGE_CACHE_TTL"  validate:"min=0"`
}

type CatalogConfig struct {
	Path string `koanf:"path" env:"EXAMFORGE_CATALOG_PATH"`
}

// MonitoringConfig exposes the Prometheus scrape endpoint when enabled.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"EXAMFORGE_MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"EXAMFORGE_MONITORING_PATH"    validate:"omitempty,startswith=/"`
	Addr    string `koanf:"addr"    env:"EXAMFORGE_MONITORING_ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			LogLevel:           "info",
			MaxConcurrentTasks: 8,
		},
		Generation: GenerationConfig{
			MaxAttempts:         DefaultMaxAttempts,
			RetryDelay:          2 * time.Second,
			PaperPoolFactor:     1,
			IntensivePoolFactor: 2,
			UnwrapDepth:         5,
		},
		Provider: ProviderConfig{
			Primary: EndpointConfig{
				Kind:    "workflow",
				Timeout: 120 * time.Second,
			},
			Fallback: EndpointConfig{
				Kind:    "service",
				Model:   "deepseek-reasoner",
				Timeout: 300 * time.Second,
			},
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			Path:     "examforge.db",
			MaxConns: 10,
		},
		Cache: CacheConfig{
			Size: 256,
			TTL:  10 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			Path: "/metrics",
			Addr: "127.0.0.1:9464",
		},
	}
}

// DefaultMaxAttempts is the primary-provider attempt bound. Earlier deployments
// used 3 for paper units and 10 for direct segment calls; 3 was kept.
const DefaultMaxAttempts = 3

// SensitiveString hides its value from logs and serialized output.
type SensitiveString string

const redacted = "[REDACTED]"

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the raw secret.
func (s SensitiveString) Value() string { return string(s) }

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
