package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_JSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"providers": {
			"openrouter": {"api_key": "k2", "model": "m2", "enabled": true},
			"openai": {"api_key": "k1", "model": "m1", "enabled": true}
		},
		"database": {"type": "SQLite", "path": "enterprise.db"},
		"planner": {"step_timeout": "5s", "oracle_timeout": 12}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 3, cfg.Planner.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Planner.StepTimeout.Duration)
	assert.Equal(t, 12*time.Second, cfg.Planner.OracleTimeout.Duration)
	assert.Equal(t, 60*time.Second, cfg.Planner.ValidatorTimeout.Duration)
	assert.Equal(t, 6, cfg.Planner.HistoryMessages)

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "m1", p.Model)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
app:
  name: reports
gateways:
  telegram:
    token: abc
    enabled: true
  discord:
    token: ""
    enabled: true
database:
  type: postgresql
  dsn: postgres://localhost/sales
planner:
  max_attempts: 5
  validator_timeout: 90s
  step_timeout: 2
  synthesize: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "reports", cfg.App.Name)
	assert.Equal(t, 5, cfg.Planner.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Planner.ValidatorTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Planner.StepTimeout.Duration)
	assert.True(t, cfg.Planner.Synthesize)

	_, ok := cfg.GetGatewayConfig("telegram")
	assert.True(t, ok)
	_, ok = cfg.GetGatewayConfig("discord")
	assert.False(t, ok, "gateway without token is not usable")
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown db":     `{"database": {"type": "oracle", "path": "x"}}`,
		"missing path":   `{"database": {"type": "sqlite"}}`,
		"missing dsn":    `{"database": {"type": "postgresql"}}`,
		"bad attempts":   `{"database": {"type": "sqlite", "path": "x"}, "planner": {"max_attempts": -1}}`,
		"bad duration":   `{"database": {"type": "sqlite", "path": "x"}, "planner": {"step_timeout": "soon"}}`,
		"not json at all": `database: [`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "config.json", body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
