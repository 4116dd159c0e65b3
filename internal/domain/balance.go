package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the tracked holding of one asset.
type Balance struct {
	Asset      string
	Free       decimal.Decimal
	Locked     decimal.Decimal
	Total      decimal.Decimal // Free + Locked
	LastUpdate time.Time
}

// AccountState is the aggregated view the alert evaluator runs over. Drifts
// holds the records produced by the most recent reconciliation cycle.
type AccountState struct {
	TotalEquity    decimal.Decimal
	RealizedPnL    decimal.Decimal
	InitialBalance decimal.Decimal
	MarginRatio    decimal.Decimal
	Drifts         []DriftRecord
	Timestamp      time.Time
}
