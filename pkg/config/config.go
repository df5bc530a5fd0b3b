// Package config holds the gridscout runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gridscout configuration, loadable from one YAML file.
type Config struct {
	Oracle   OracleConfig   `yaml:"oracle" json:"oracle"`
	Browser  BrowserConfig  `yaml:"browser" json:"browser"`
	Breakers BreakerConfig  `yaml:"breakers" json:"breakers"`
	Executor ExecutorConfig `yaml:"executor" json:"executor"`
	Batch    BatchConfig    `yaml:"batch" json:"batch"`
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// OracleKind selects the decision oracle implementation.
type OracleKind string

const (
	// OracleLLM classifies pages with an OpenAI-compatible model
	OracleLLM OracleKind = "llm"
	// OracleRules classifies pages with local heuristics only
	OracleRules OracleKind = "rules"
)

// OracleConfig configures the decision oracle and the repair model.
type OracleConfig struct {
	Kind              OracleKind    `yaml:"kind" json:"kind"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Model             string        `yaml:"model" json:"model"`
	APIKeyEnv         string        `yaml:"api_key_env" json:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxSnapshotTokens int           `yaml:"max_snapshot_tokens" json:"max_snapshot_tokens"`
	CacheSize         int           `yaml:"cache_size" json:"cache_size"` // 0 disables the decision cache
}

// BrowserConfig configures the playwright driver.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" json:"headless"`
	ViewportWidth     int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height" json:"viewport_height"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	ElementTimeout    time.Duration `yaml:"element_timeout" json:"element_timeout"`
	GridTimeout       time.Duration `yaml:"grid_timeout" json:"grid_timeout"`
	PostClickWait     time.Duration `yaml:"post_click_wait" json:"post_click_wait"`
}

// BreakerConfig holds the circuit breaker ceilings.
type BreakerConfig struct {
	MaxDisclaimerClicks    int `yaml:"max_disclaimer_clicks" json:"max_disclaimer_clicks"`
	MaxAttempts            int `yaml:"max_attempts" json:"max_attempts"`
	MaxRepairs             int `yaml:"max_repairs" json:"max_repairs"`
	MaxAlternativeRequests int `yaml:"max_alternative_requests" json:"max_alternative_requests"`
}

// ExecutorConfig configures how artifacts are run.
type ExecutorConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Command is the launcher prefix. Empty means "<this binary> replay".
	Command []string `yaml:"command" json:"command"`
}

// BatchConfig configures the batch runner.
type BatchConfig struct {
	// MaxConcurrent bounds in-flight units. 0 means unlimited.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

// PathsConfig holds output locations.
type PathsConfig struct {
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`
	DataDir      string `yaml:"data_dir" json:"data_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr       string `yaml:"addr" json:"addr"`
	EnableCORS bool   `yaml:"enable_cors" json:"enable_cors"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error
	Level string `yaml:"level" json:"level"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Oracle.Kind {
	case OracleLLM, OracleRules:
	default:
		return fmt.Errorf("invalid oracle kind: %s (must be 'llm' or 'rules')", c.Oracle.Kind)
	}

	if c.Oracle.Kind == OracleLLM && c.Oracle.Model == "" {
		return fmt.Errorf("oracle model is required")
	}

	if c.Breakers.MaxDisclaimerClicks <= 0 {
		return fmt.Errorf("max_disclaimer_clicks must be positive")
	}
	if c.Breakers.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.Breakers.MaxRepairs < 0 {
		return fmt.Errorf("max_repairs cannot be negative")
	}
	if c.Breakers.MaxAlternativeRequests < 0 {
		return fmt.Errorf("max_alternative_requests cannot be negative")
	}

	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor timeout must be positive")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive")
	}

	if c.Batch.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent cannot be negative")
	}

	if c.Paths.ArtifactsDir == "" {
		return fmt.Errorf("artifacts_dir is required")
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}

	return nil
}

// APIKey resolves the oracle API key from the configured environment variable.
func (c *Config) APIKey() string {
	env := c.Oracle.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Oracle: OracleConfig{
			Kind:              OracleLLM,
			Model:             "gpt-4o",
			APIKeyEnv:         "OPENAI_API_KEY",
			Timeout:           60 * time.Second,
			MaxSnapshotTokens: 12000,
			CacheSize:         128,
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    720,
			NavigationTimeout: 30 * time.Second,
			ElementTimeout:    10 * time.Second,
			GridTimeout:       15 * time.Second,
			PostClickWait:     3 * time.Second,
		},
		Breakers: BreakerConfig{
			MaxDisclaimerClicks:    5,
			MaxAttempts:            10,
			MaxRepairs:             3,
			MaxAlternativeRequests: 2,
		},
		Executor: ExecutorConfig{
			Timeout: 180 * time.Second,
		},
		Batch: BatchConfig{
			MaxConcurrent: 3,
		},
		Paths: PathsConfig{
			ArtifactsDir: "output/generated_scripts",
			DataDir:      "output/data",
		},
		Server: ServerConfig{
			Addr:       ":8000",
			EnableCORS: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over DefaultConfig. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
