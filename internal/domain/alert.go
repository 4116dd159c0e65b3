package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AlertType string

const (
	AlertLowBalance      AlertType = "LOW_BALANCE"
	AlertHighDrawdown    AlertType = "HIGH_DRAWDOWN"
	AlertHighMarginRatio AlertType = "HIGH_MARGIN_RATIO"
	AlertBalanceDrift    AlertType = "BALANCE_DRIFT"
	AlertPositionDrift   AlertType = "POSITION_DRIFT"
	AlertStaleReconcile  AlertType = "RECONCILIATION_STALE"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Alert struct {
	ID         string
	Type       AlertType
	Severity   Severity
	SubjectKey string // asset, symbol or account scope
	Message    string
	Value      decimal.Decimal
	Threshold  decimal.Decimal
	Timestamp  time.Time
}

// SuppressionKey identifies the dedup bucket: repeated alerts of the same
// type for the same subject inside the suppression window are dropped.
func (a Alert) SuppressionKey() string {
	return string(a.Type) + "|" + a.SubjectKey
}
