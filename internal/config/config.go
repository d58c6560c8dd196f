// internal/config/config.go
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Estimator EstimatorConfig `yaml:"estimator" mapstructure:"estimator"`
	Learning  LearningConfig  `yaml:"learning" mapstructure:"learning"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Vision    VisionConfig    `yaml:"vision" mapstructure:"vision"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EstimatorConfig tunes the estimation path.
type EstimatorConfig struct {
	// ConfidenceThreshold is the minimum learned confidence that overrides
	// the reference table.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxConcurrency      int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	SnapshotLimit       int     `yaml:"snapshot_limit" mapstructure:"snapshot_limit"`
}

type LearningConfig struct {
	PriorStrength float64 `yaml:"prior_strength" mapstructure:"prior_strength"`
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	Workers       int     `yaml:"workers" mapstructure:"workers"`
	QueueSize     int     `yaml:"queue_size" mapstructure:"queue_size"`
}

// ReferenceConfig points at an optional YAML file of extra reference foods.
type ReferenceConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type VisionConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Load reads configuration from config.yaml, environment variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NUTRITION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "nutrition.db")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8011)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("estimator.confidence_threshold", 0.5)
	v.SetDefault("estimator.max_concurrency", 4)
	v.SetDefault("estimator.snapshot_limit", 500)
	v.SetDefault("learning.prior_strength", 4.0)
	v.SetDefault("learning.max_attempts", 5)
	v.SetDefault("learning.workers", 4)
	v.SetDefault("learning.queue_size", 256)
	v.SetDefault("reference.path", "")
	v.SetDefault("vision.provider", "anthropic")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("vision.max_tokens", 1024)
	v.SetDefault("vision.requests_per_minute", 30)
	v.SetDefault("vision.timeout_secs", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Vision.APIKey == "" {
		cfg.Vision.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "serve", "estimate", "learn" and "store".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres", "memory":
		default:
			add("store.driver must be one of sqlite, postgres, memory")
		}
		if c.Store.Driver != "memory" && c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}
	checkEstimator := func() {
		if c.Estimator.ConfidenceThreshold < 0 || c.Estimator.ConfidenceThreshold > 1 {
			add("estimator.confidence_threshold must be between 0 and 1")
		}
		if c.Estimator.MaxConcurrency < 1 || c.Estimator.MaxConcurrency > 64 {
			add("estimator.max_concurrency must be between 1 and 64")
		}
		if c.Estimator.SnapshotLimit < 0 {
			add("estimator.snapshot_limit must be >= 0")
		}
	}
	checkLearning := func() {
		if c.Learning.PriorStrength <= 0 {
			add("learning.prior_strength must be > 0")
		}
		if c.Learning.MaxAttempts < 1 {
			add("learning.max_attempts must be >= 1")
		}
	}

	switch mode {
	case "serve":
		checkStore()
		checkEstimator()
		checkLearning()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
		if c.Learning.Workers < 1 {
			add("learning.workers must be >= 1")
		}
		if c.Learning.QueueSize < c.Learning.Workers {
			add("learning.queue_size must be >= learning.workers")
		}
		switch c.Vision.Provider {
		case "anthropic":
			if c.Vision.APIKey == "" {
				add("vision.api_key is required for the anthropic provider")
			}
		case "none":
		default:
			add("vision.provider must be anthropic or none")
		}
	case "estimate":
		checkStore()
		checkEstimator()
	case "learn":
		checkStore()
		checkLearning()
	case "store":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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
