package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Every threshold the engine uses
// is an explicit named field; see config/config.yaml for a sample.
type Config struct {
	Exchange       ExchangeConfig       `yaml:"exchange"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Alerts         AlertsConfig         `yaml:"alerts"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type ExchangeConfig struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
}

type LedgerConfig struct {
	DBPath string `yaml:"db_path"`
}

type ReconciliationConfig struct {
	Enabled           bool    `yaml:"enabled"`
	IntervalSec       int     `yaml:"interval_sec"`
	FetchTimeoutSec   int     `yaml:"fetch_timeout_sec"`
	MaxFetchFailures  int     `yaml:"max_fetch_failures"`
	Parallelism       int     `yaml:"parallelism"`
	BalanceTolerance  float64 `yaml:"balance_tolerance"`
	PositionTolerance float64 `yaml:"position_tolerance"`
}

func (c ReconciliationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c ReconciliationConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

type AlertsConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MinBalance           float64 `yaml:"min_balance"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	MaxMarginRatio       float64 `yaml:"max_margin_ratio"`
	InitialBalance       float64 `yaml:"initial_balance"`
	SuppressionWindowSec int     `yaml:"suppression_window_sec"`
	EvalIntervalSec      int     `yaml:"eval_interval_sec"`
	WebhookURL           string  `yaml:"webhook_url"`
}

func (c AlertsConfig) SuppressionWindow() time.Duration {
	return time.Duration(c.SuppressionWindowSec) * time.Second
}

func (c AlertsConfig) EvalInterval() time.Duration {
	return time.Duration(c.EvalIntervalSec) * time.Second
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in every unset tunable.
func (c *Config) ApplyDefaults() {
	if c.Ledger.DBPath == "" {
		c.Ledger.DBPath = "account_monitor.db"
	}
	if c.Reconciliation.IntervalSec == 0 {
		c.Reconciliation.IntervalSec = 60
	}
	if c.Reconciliation.FetchTimeoutSec == 0 {
		c.Reconciliation.FetchTimeoutSec = 10
	}
	if c.Reconciliation.MaxFetchFailures == 0 {
		c.Reconciliation.MaxFetchFailures = 3
	}
	if c.Reconciliation.Parallelism == 0 {
		c.Reconciliation.Parallelism = 4
	}
	if c.Reconciliation.BalanceTolerance == 0 {
		c.Reconciliation.BalanceTolerance = 1e-5
	}
	if c.Reconciliation.PositionTolerance == 0 {
		c.Reconciliation.PositionTolerance = 1e-4
	}
	if c.Alerts.SuppressionWindowSec == 0 {
		c.Alerts.SuppressionWindowSec = 60
	}
	if c.Alerts.EvalIntervalSec == 0 {
		c.Alerts.EvalIntervalSec = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
