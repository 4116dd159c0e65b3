package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DriftKind string

const (
	DriftBalance  DriftKind = "balance"
	DriftPosition DriftKind = "position"
)

// DriftRecord captures one discrepancy between local state and the exchange
// snapshot. Drift = external - local. Corrected reports whether the local
// state was actually overwritten; a record stays uncorrected when the drift
// resolved between fetch and correction (a fill landed in the meantime).
type DriftRecord struct {
	Kind          DriftKind
	Key           string // asset or symbol
	LocalValue    decimal.Decimal
	ExternalValue decimal.Decimal
	Drift         decimal.Decimal
	DriftPercent  decimal.Decimal
	Corrected     bool
	Timestamp     time.Time
}

// ReconciliationReport is the outcome of one reconciliation cycle.
type ReconciliationReport struct {
	ID        string
	Timestamp time.Time
	Drifts    []DriftRecord
}

// AccountSnapshot is the externally fetched ground truth. Positions map
// symbol to its exchange-side state; the exchange provides no cost basis for
// corrections, only the signed quantity and its own entry price for display.
type AccountSnapshot struct {
	Balances    map[string]Balance
	Positions   map[string]SnapshotPosition
	MarginRatio decimal.Decimal
	Timestamp   time.Time
}

type SnapshotPosition struct {
	Quantity   decimal.Decimal // signed
	EntryPrice decimal.Decimal
}
