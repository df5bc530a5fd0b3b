package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Breakers.MaxDisclaimerClicks)
	assert.Equal(t, 10, cfg.Breakers.MaxAttempts)
	assert.Equal(t, 3, cfg.Breakers.MaxRepairs)
	assert.Equal(t, 180*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"rules oracle without model", func(c *Config) { c.Oracle.Kind = OracleRules; c.Oracle.Model = "" }, false},
		{"unknown oracle", func(c *Config) { c.Oracle.Kind = "magic" }, true},
		{"llm oracle without model", func(c *Config) { c.Oracle.Model = "" }, true},
		{"zero disclaimer ceiling", func(c *Config) { c.Breakers.MaxDisclaimerClicks = 0 }, true},
		{"zero attempts", func(c *Config) { c.Breakers.MaxAttempts = 0 }, true},
		{"negative repairs", func(c *Config) { c.Breakers.MaxRepairs = -1 }, true},
		{"zero repairs allowed", func(c *Config) { c.Breakers.MaxRepairs = 0 }, false},
		{"no executor timeout", func(c *Config) { c.Executor.Timeout = 0 }, true},
		{"negative concurrency", func(c *Config) { c.Batch.MaxConcurrent = -2 }, true},
		{"unlimited concurrency", func(c *Config) { c.Batch.MaxConcurrent = 0 }, false},
		{"missing artifacts dir", func(c *Config) { c.Paths.ArtifactsDir = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDefaultsLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridscout.yaml")
	content := `
oracle:
  kind: rules
breakers:
  max_attempts: 7
executor:
  timeout: 90s
  command: ["sh"]
batch:
  max_concurrent: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, OracleRules, cfg.Oracle.Kind)
	assert.Equal(t, 7, cfg.Breakers.MaxAttempts)
	assert.Equal(t, 5, cfg.Breakers.MaxDisclaimerClicks)
	assert.Equal(t, 90*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, []string{"sh"}, cfg.Executor.Command)
	assert.Equal(t, 0, cfg.Batch.MaxConcurrent)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("GRIDSCOUT_TEST_KEY", "sk-test")
	cfg := DefaultConfig()
	cfg.Oracle.APIKeyEnv = "GRIDSCOUT_TEST_KEY"
	assert.Equal(t, "sk-test", cfg.APIKey())
}
