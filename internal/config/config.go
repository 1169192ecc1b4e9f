package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"` // postgres only
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocodeConfig configures address resolution on save.
type GeocodeConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	GoogleKey        string  `yaml:"google_key" mapstructure:"google_key"`
	PostcodesBaseURL string  `yaml:"postcodes_base_url" mapstructure:"postcodes_base_url"`
	Country          string  `yaml:"country" mapstructure:"country"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CacheEnabled     bool    `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheTTLDays     int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ImportConfig configures the register import commands.
type ImportConfig struct {
	DefaultLimit   int    `yaml:"default_limit" mapstructure:"default_limit"`
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	EmailHasHeader bool   `yaml:"email_has_header" mapstructure:"email_has_header"`
}

// FetchConfig configures remote source downloads.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MonitoringConfig configures import run health checks.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	GeocodeMatchThreshold float64 `yaml:"geocode_match_threshold" mapstructure:"geocode_match_threshold"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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
	v.SetEnvPrefix("CHARITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "charity.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.postcodes_base_url", "https://api.postcodes.io")
	v.SetDefault("geocode.country", "UK")
	v.SetDefault("geocode.rate_limit", 10.0)
	v.SetDefault("geocode.cache_enabled", false)
	v.SetDefault("geocode.cache_ttl_days", 90)
	v.SetDefault("geocode.concurrency", 4)
	v.SetDefault("import.default_limit", 1000)
	v.SetDefault("import.temp_dir", "/tmp/charity-directory")
	v.SetDefault("import.email_has_header", false)
	v.SetDefault("fetch.user_agent", "charity-directory/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.geocode_match_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

// Validate checks the fields a command mode depends on. Known modes are
// "import", "geocode" and "query".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "import":
		if c.Import.DefaultLimit < 1 {
			problems = append(problems, "import.default_limit must be > 0")
		}
	case "geocode":
		if c.Geocode.Concurrency < 1 || c.Geocode.Concurrency > 32 {
			problems = append(problems, "geocode.concurrency must be between 1 and 32")
		}
		if c.Geocode.RateLimit <= 0 {
			problems = append(problems, "geocode.rate_limit must be > 0")
		}
	case "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Geocode.CacheEnabled && c.Store.Driver != "postgres" {
		problems = append(problems, "geocode.cache_enabled requires the postgres store")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
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
