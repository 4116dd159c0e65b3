package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/account_monitor/internal/domain"
)

// SQLiteStore implements domain.LedgerRepository. It holds the full ledger
// state — positions, trade logs, balances, alert/drift history and the alert
// suppression map — so the service can recover after a crash.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			total_fees TEXT NOT NULL,
			last_update DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			fee TEXT NOT NULL,
			fee_currency TEXT NOT NULL DEFAULT '',
			closed_qty TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, created_at);`,
		`CREATE TABLE IF NOT EXISTS balances (
			asset TEXT PRIMARY KEY,
			free TEXT NOT NULL,
			locked TEXT NOT NULL,
			total TEXT NOT NULL,
			last_update DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			subject TEXT NOT NULL,
			message TEXT NOT NULL,
			value TEXT NOT NULL,
			threshold TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS drifts (
			cycle_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			local_value TEXT NOT NULL,
			external_value TEXT NOT NULL,
			drift TEXT NOT NULL,
			drift_pct TEXT NOT NULL,
			corrected BOOLEAN NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_drifts_created ON drifts(created_at);`,
		`CREATE TABLE IF NOT EXISTS suppression (
			key TEXT PRIMARY KEY,
			last_emitted DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	query := `INSERT INTO positions (symbol, quantity, entry_price, realized_pnl, total_fees, last_update)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET
				quantity = excluded.quantity,
				entry_price = excluded.entry_price,
				realized_pnl = excluded.realized_pnl,
				total_fees = excluded.total_fees,
				last_update = excluded.last_update`
	_, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.Quantity.String(), pos.EntryPrice.String(),
		pos.RealizedPnL.String(), pos.TotalFees.String(), pos.LastUpdate)
	return err
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, symbol string, trade *domain.Trade) error {
	// OR IGNORE keeps replays idempotent: the trade ID is the fill ID.
	query := `INSERT OR IGNORE INTO trades (id, symbol, side, quantity, price, fee, fee_currency, closed_qty, realized_pnl, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, symbol, string(trade.Side), trade.Quantity.String(), trade.Price.String(),
		trade.Fee.String(), trade.FeeCurrency, trade.ClosedQty.String(), trade.RealizedPnL.String(), trade.Timestamp)
	return err
}

func (s *SQLiteStore) SaveBalance(ctx context.Context, bal *domain.Balance) error {
	query := `INSERT INTO balances (asset, free, locked, total, last_update)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(asset) DO UPDATE SET
				free = excluded.free,
				locked = excluded.locked,
				total = excluded.total,
				last_update = excluded.last_update`
	_, err := s.db.ExecContext(ctx, query,
		bal.Asset, bal.Free.String(), bal.Locked.String(), bal.Total.String(), bal.LastUpdate)
	return err
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	query := `INSERT OR IGNORE INTO alerts (id, type, severity, subject, message, value, threshold, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		alert.ID, string(alert.Type), string(alert.Severity), alert.SubjectKey,
		alert.Message, alert.Value.String(), alert.Threshold.String(), alert.Timestamp)
	return err
}

func (s *SQLiteStore) SaveDrift(ctx context.Context, cycleID string, rec *domain.DriftRecord) error {
	query := `INSERT INTO drifts (cycle_id, kind, key, local_value, external_value, drift, drift_pct, corrected, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		cycleID, string(rec.Kind), rec.Key, rec.LocalValue.String(), rec.ExternalValue.String(),
		rec.Drift.String(), rec.DriftPercent.String(), rec.Corrected, rec.Timestamp)
	return err
}

func (s *SQLiteStore) SaveSuppression(ctx context.Context, key string, lastEmitted time.Time) error {
	query := `INSERT INTO suppression (key, last_emitted) VALUES (?, ?)
			  ON CONFLICT(key) DO UPDATE SET last_emitted = excluded.last_emitted`
	_, err := s.db.ExecContext(ctx, query, key, lastEmitted)
	return err
}

// LoadState reads the complete persisted state back, trade logs included.
func (s *SQLiteStore) LoadState(ctx context.Context) (*domain.LedgerState, error) {
	state := &domain.LedgerState{
		Positions:   make(map[string]*domain.Position),
		Balances:    make(map[string]*domain.Balance),
		Suppression: make(map[string]time.Time),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT symbol, quantity, entry_price, realized_pnl, total_fees, last_update FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pos domain.Position
		if err := rows.Scan(&pos.Symbol, &pos.Quantity, &pos.EntryPrice, &pos.RealizedPnL, &pos.TotalFees, &pos.LastUpdate); err != nil {
			return nil, err
		}
		state.Positions[pos.Symbol] = &pos
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tradeRows, err := s.db.QueryContext(ctx, `SELECT id, symbol, side, quantity, price, fee, fee_currency, closed_qty, realized_pnl, created_at FROM trades ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer tradeRows.Close()
	for tradeRows.Next() {
		var (
			t      domain.Trade
			symbol string
			side   string
		)
		if err := tradeRows.Scan(&t.ID, &symbol, &side, &t.Quantity, &t.Price, &t.Fee, &t.FeeCurrency, &t.ClosedQty, &t.RealizedPnL, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		if pos, ok := state.Positions[symbol]; ok {
			pos.Trades = append(pos.Trades, t)
		}
	}
	if err := tradeRows.Err(); err != nil {
		return nil, err
	}

	balRows, err := s.db.QueryContext(ctx, `SELECT asset, free, locked, total, last_update FROM balances`)
	if err != nil {
		return nil, err
	}
	defer balRows.Close()
	for balRows.Next() {
		var bal domain.Balance
		if err := balRows.Scan(&bal.Asset, &bal.Free, &bal.Locked, &bal.Total, &bal.LastUpdate); err != nil {
			return nil, err
		}
		state.Balances[bal.Asset] = &bal
	}
	if err := balRows.Err(); err != nil {
		return nil, err
	}

	supRows, err := s.db.QueryContext(ctx, `SELECT key, last_emitted FROM suppression`)
	if err != nil {
		return nil, err
	}
	defer supRows.Close()
	for supRows.Next() {
		var (
			key  string
			last time.Time
		)
		if err := supRows.Scan(&key, &last); err != nil {
			return nil, err
		}
		state.Suppression[key] = last
	}
	return state, supRows.Err()
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	query := `SELECT id, type, severity, subject, message, value, threshold, created_at
			  FROM alerts ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var (
			a        domain.Alert
			alertTyp string
			severity string
		)
		if err := rows.Scan(&a.ID, &alertTyp, &severity, &a.SubjectKey, &a.Message, &a.Value, &a.Threshold, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Type = domain.AlertType(alertTyp)
		a.Severity = domain.Severity(severity)
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) ListDrifts(ctx context.Context, limit int) ([]*domain.DriftRecord, error) {
	query := `SELECT kind, key, local_value, external_value, drift, drift_pct, corrected, created_at
			  FROM drifts ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []*domain.DriftRecord
	for rows.Next() {
		var (
			rec  domain.DriftRecord
			kind string
		)
		if err := rows.Scan(&kind, &rec.Key, &rec.LocalValue, &rec.ExternalValue, &rec.Drift, &rec.DriftPercent, &rec.Corrected, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Kind = domain.DriftKind(kind)
		drifts = append(drifts, &rec)
	}
	return drifts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
