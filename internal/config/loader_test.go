package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 0.55, cfg.Routing.ConfThreshold)
	assert.Equal(t, 2048, cfg.Routing.MaxCoTTokens)

	assert.Equal(t, int64(1_000_000), cfg.Budget.DailyTokenCap)
	assert.Equal(t, "hard", cfg.Budget.Mode)

	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Pipeline.SafetyPrefixBytes)
	assert.Len(t, cfg.Providers, 4)
}

func TestLoaderLoadFromYAMLOverridesSafetyPrefixBytes(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("pipeline:\n  safety_prefix_bytes: 64\n"), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Pipeline.SafetyPrefixBytes)
}

func TestValidateRejectsNegativeSafetyPrefixBytes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.SafetyPrefixBytes = -1
	assert.Error(t, cfg.Validate())
}

func TestLoaderLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 0.55, cfg.Routing.ConfThreshold)
}

func TestLoaderLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 45s

routing:
  conf_threshold: 0.7
  max_cot_tokens: 4096

budget:
  daily_token_cap: 500000
  mode: warn

audit:
  sink: file
  file_path: /var/log/dsrouter/audit.jsonl
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 0.7, cfg.Routing.ConfThreshold)
	assert.Equal(t, 4096, cfg.Routing.MaxCoTTokens)
	assert.Equal(t, int64(500000), cfg.Budget.DailyTokenCap)
	assert.Equal(t, "warn", cfg.Budget.Mode)
	assert.Equal(t, "file", cfg.Audit.Sink)
}

func TestLoaderEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DSR_SERVER_HTTP_PORT", "7000")
	t.Setenv("DSR_ROUTING_CONF_THRESHOLD", "0.9")

	cfg, err := NewLoader().WithEnvPrefix("DSR").Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.HTTPPort)
	assert.Equal(t, 0.9, cfg.Routing.ConfThreshold)
}

func TestLoaderMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routing.ConfThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsFileSinkWithoutPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Sink = "file"
	cfg.Audit.FilePath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBudgetMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budget.Mode = "chaotic"
	assert.Error(t, cfg.Validate())
}

func TestRoutingConfigConvertsToThresholds(t *testing.T) {
	rc := RoutingConfig{ConfThreshold: 0.6, SupportThreshold: 0.4, MaxCoTTokens: 1024, ForcedOverride: "adv-1"}
	th := rc.Thresholds()
	assert.Equal(t, 0.6, th.ConfThreshold)
	assert.Equal(t, "adv-1", th.ForcedOverride)
}

func TestCustomValidatorRuns(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}
