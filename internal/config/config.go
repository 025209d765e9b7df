package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Tenant    TenantConfig    `yaml:"tenant" mapstructure:"tenant"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Serper    SerperConfig    `yaml:"serper" mapstructure:"serper"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Reaper    ReaperConfig    `yaml:"reaper" mapstructure:"reaper"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TenantConfig configures tenant resolution at the request boundary.
type TenantConfig struct {
	// Strict disables falling back to the default project when no key is
	// supplied.
	Strict bool `yaml:"strict" mapstructure:"strict"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// SerperConfig holds Serper.dev search settings.
type SerperConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DiscoveryConfig configures discovery pipeline runs.
type DiscoveryConfig struct {
	ProviderRateLimit  float64 `yaml:"provider_rate_limit" mapstructure:"provider_rate_limit"`
	CallTimeoutSecs    int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	DefaultIngestLimit int     `yaml:"default_ingest_limit" mapstructure:"default_ingest_limit"`
	RetryMaxAttempts   int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs     int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold   int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// IngestConfig configures document fetching.
type IngestConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
}

// ReaperConfig configures stale job repair.
type ReaperConfig struct {
	OlderThanMinutes int `yaml:"older_than_minutes" mapstructure:"older_than_minutes"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("tenant.strict", false)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("discovery.provider_rate_limit", 5)
	v.SetDefault("discovery.call_timeout_secs", 30)
	v.SetDefault("discovery.default_ingest_limit", 10)
	v.SetDefault("discovery.retry_max_attempts", 3)
	v.SetDefault("discovery.retry_backoff_ms", 500)
	v.SetDefault("discovery.breaker_threshold", 5)
	v.SetDefault("discovery.breaker_reset_secs", 60)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.fetch_timeout_secs", 45)
	v.SetDefault("reaper.older_than_minutes", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks that the configuration required for the given mode is
// present. Modes map to the top-level commands: "discover", "ingest",
// "serve", "admin".
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "discover":
		if c.Jina.Key == "" && c.Serper.Key == "" {
			problems = append(problems, "at least one of jina.key or serper.key is required")
		}
		if c.Discovery.ProviderRateLimit <= 0 {
			problems = append(problems, "discovery.provider_rate_limit must be > 0")
		}
	case "ingest":
		if c.Jina.Key == "" {
			problems = append(problems, "jina.key is required")
		}
		if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > 50 {
			problems = append(problems, "ingest.concurrency must be between 1 and 50")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Reaper.OlderThanMinutes <= 0 {
			problems = append(problems, "reaper.older_than_minutes must be > 0")
		}
	case "admin":
		// Database access is enough.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
