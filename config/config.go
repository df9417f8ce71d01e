// Package config loads service configuration from config.yaml and
// RESPONDER_-prefixed environment variables, with sane defaults for local
// development.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Playbook deletion policies.
const (
	DeletePolicyBlock   = "block"
	DeletePolicyCascade = "cascade"
)

// Config holds all configuration for the responder service.
type Config struct {
	// DataDir is the base data directory; the SQLite path derives from it
	// when not set explicitly.
	DataDir string `mapstructure:"data_dir"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		TrustProxy     bool     `mapstructure:"trust_proxy"`
		RateLimit      struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Storage struct {
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Engine struct {
		MaxConcurrentExecutions int           `mapstructure:"max_concurrent_executions"`
		DefaultStepTimeout      time.Duration `mapstructure:"default_step_timeout"`
		RetryAttempts           int           `mapstructure:"retry_attempts"`
		RetryBackoff            time.Duration `mapstructure:"retry_backoff"`
		// PlaybookDeletePolicy is "block" (refuse deletion while active
		// executions reference the playbook) or "cascade" (delete anyway;
		// executions keep their workflow snapshots).
		PlaybookDeletePolicy string `mapstructure:"playbook_delete_policy"`
	} `mapstructure:"engine"`

	Inquiry struct {
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"inquiry"`

	Scheduler struct {
		TickInterval   time.Duration `mapstructure:"tick_interval"`
		RetryOnFailure bool          `mapstructure:"retry_on_failure"`
	} `mapstructure:"scheduler"`

	Workflow struct {
		AllowCycles bool `mapstructure:"allow_cycles"`
	} `mapstructure:"workflow"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("data_dir", "./data")

	viper.SetDefault("api.port", 8083)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwt_secret", "")

	viper.SetDefault("storage.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("engine.max_concurrent_executions", 10)
	viper.SetDefault("engine.default_step_timeout", 30*time.Second)
	viper.SetDefault("engine.retry_attempts", 3)
	viper.SetDefault("engine.retry_backoff", 1*time.Second)
	viper.SetDefault("engine.playbook_delete_policy", DeletePolicyBlock)

	viper.SetDefault("inquiry.ttl", 24*time.Hour)
	viper.SetDefault("inquiry.sweep_interval", 30*time.Second)

	viper.SetDefault("scheduler.tick_interval", 10*time.Second)
	viper.SetDefault("scheduler.retry_on_failure", true)

	viper.SetDefault("workflow.allow_cycles", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func loadFromEnv() {
	viper.SetEnvPrefix("RESPONDER")
	viper.AutomaticEnv()

	_ = viper.BindEnv("data_dir", "RESPONDER_DATA_DIR")
	_ = viper.BindEnv("api.port", "RESPONDER_API_PORT")
	_ = viper.BindEnv("api.tls", "RESPONDER_API_TLS")
	_ = viper.BindEnv("api.cert_file", "RESPONDER_API_CERT_FILE")
	_ = viper.BindEnv("api.key_file", "RESPONDER_API_KEY_FILE")
	_ = viper.BindEnv("auth.enabled", "RESPONDER_AUTH_ENABLED")
	_ = viper.BindEnv("auth.jwt_secret", "RESPONDER_JWT_SECRET")
	_ = viper.BindEnv("storage.sqlite_path", "RESPONDER_SQLITE_PATH")
	_ = viper.BindEnv("logging.level", "RESPONDER_LOG_LEVEL")
	_ = viper.BindEnv("logging.format", "RESPONDER_LOG_FORMAT")
}

// LoadConfig reads config.yaml (if present), applies environment overrides,
// and validates the result.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives the SQLite path from DataDir when not set.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(dataDir, "responder.db")
	} else if !filepath.IsAbs(c.Storage.SQLitePath) {
		c.Storage.SQLitePath = filepath.Clean(c.Storage.SQLitePath)
	}
}

func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests per second must be positive")
	}
	if config.API.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1")
	}
	if config.Auth.Enabled && len(config.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth requires a JWT secret of at least 32 characters")
	}
	if config.API.TLS {
		if config.API.CertFile == "" || config.API.KeyFile == "" {
			return fmt.Errorf("TLS requires both cert_file and key_file")
		}
	}
	if config.Engine.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("engine max concurrent executions must be at least 1")
	}
	if config.Engine.DefaultStepTimeout < time.Second {
		return fmt.Errorf("engine default step timeout must be at least one second")
	}
	switch config.Engine.PlaybookDeletePolicy {
	case DeletePolicyBlock, DeletePolicyCascade:
	default:
		return fmt.Errorf("invalid playbook delete policy: %q (must be block or cascade)", config.Engine.PlaybookDeletePolicy)
	}
	if config.Inquiry.SweepInterval < time.Second {
		return fmt.Errorf("inquiry sweep interval must be at least one second")
	}
	if config.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler tick interval must be at least one second")
	}
	return nil
}
