package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
exchange:
  name: bybit
  api_key: key
  api_secret: secret
  rest_endpoint: "https://api.bybit.com"
  ws_endpoint: "wss://stream.bybit.com/v5/private"

ledger:
  db_path: "state.db"

reconciliation:
  enabled: true
  interval_sec: 30
  fetch_timeout_sec: 5
  max_fetch_failures: 2
  parallelism: 8
  balance_tolerance: 0.001
  position_tolerance: 0.01

alerts:
  enabled: true
  min_balance: 500
  max_drawdown_pct: 15
  max_margin_ratio: 0.7
  initial_balance: 25000
  suppression_window_sec: 120
  eval_interval_sec: 5
  webhook_url: "https://hooks.example.com/x"

logging:
  level: debug
  file: "monitor.log"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Exchange.Name)
	assert.Equal(t, "state.db", cfg.Ledger.DBPath)
	assert.Equal(t, 30*time.Second, cfg.Reconciliation.Interval())
	assert.Equal(t, 5*time.Second, cfg.Reconciliation.FetchTimeout())
	assert.Equal(t, 2, cfg.Reconciliation.MaxFetchFailures)
	assert.Equal(t, 8, cfg.Reconciliation.Parallelism)
	assert.Equal(t, 0.001, cfg.Reconciliation.BalanceTolerance)
	assert.Equal(t, 500.0, cfg.Alerts.MinBalance)
	assert.Equal(t, 25000.0, cfg.Alerts.InitialBalance)
	assert.Equal(t, 2*time.Minute, cfg.Alerts.SuppressionWindow())
	assert.Equal(t, 5*time.Second, cfg.Alerts.EvalInterval())
	assert.Equal(t, "https://hooks.example.com/x", cfg.Alerts.WebhookURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  name: bybit
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "account_monitor.db", cfg.Ledger.DBPath)
	assert.Equal(t, 60*time.Second, cfg.Reconciliation.Interval())
	assert.Equal(t, 10*time.Second, cfg.Reconciliation.FetchTimeout())
	assert.Equal(t, 3, cfg.Reconciliation.MaxFetchFailures)
	assert.Equal(t, 4, cfg.Reconciliation.Parallelism)
	assert.Equal(t, 1e-5, cfg.Reconciliation.BalanceTolerance)
	assert.Equal(t, 1e-4, cfg.Reconciliation.PositionTolerance)
	assert.Equal(t, 60*time.Second, cfg.Alerts.SuppressionWindow())
	assert.Equal(t, 10*time.Second, cfg.Alerts.EvalInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "exchange: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}
