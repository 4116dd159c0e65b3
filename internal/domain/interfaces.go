package domain

import (
	"context"
	"time"
)

// SnapshotProvider fetches the exchange-side account state used as ground
// truth during reconciliation. A failed or timed-out fetch aborts one cycle
// only; it must never be treated as fatal by callers.
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context) (*AccountSnapshot, error)
}

// LedgerState is the full serialized state the persistence hook round-trips:
// every position with its trade log, every balance, and the alert suppression
// map.
type LedgerState struct {
	Positions   map[string]*Position
	Balances    map[string]*Balance
	Suppression map[string]time.Time
}

// LedgerRepository is the persistence hook for crash recovery. Writes are
// best-effort from the ledger's point of view: a failed save is logged, never
// surfaced into the fill path.
type LedgerRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	SaveTrade(ctx context.Context, symbol string, trade *Trade) error
	SaveBalance(ctx context.Context, bal *Balance) error
	SaveAlert(ctx context.Context, alert *Alert) error
	SaveDrift(ctx context.Context, cycleID string, rec *DriftRecord) error
	SaveSuppression(ctx context.Context, key string, lastEmitted time.Time) error

	LoadState(ctx context.Context) (*LedgerState, error)
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)
	ListDrifts(ctx context.Context, limit int) ([]*DriftRecord, error)
}

// Notifier delivers an emitted alert to the transport layer.
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
}
