package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/domain"
)

// Ledger is the single source of truth for per-symbol positions and per-asset
// balances. Fill application, reconciliation corrections and reads all go
// through it. Each symbol and each asset owns its own lock, so independent
// keys never contend; the outer RWMutex only guards the entry maps.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*positionEntry
	balances  map[string]*balanceEntry

	seenMu sync.Mutex
	seen   map[string]struct{} // applied fill IDs

	repo domain.LedgerRepository
	log  *zap.Logger
}

type positionEntry struct {
	mu  sync.Mutex
	pos domain.Position
}

type balanceEntry struct {
	mu  sync.Mutex
	bal domain.Balance
}

func NewLedger(repo domain.LedgerRepository, log *zap.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*positionEntry),
		balances:  make(map[string]*balanceEntry),
		seen:      make(map[string]struct{}),
		repo:      repo,
		log:       log,
	}
}

// ApplyFill applies one execution fill to its symbol's position and returns
// the resulting snapshot. Duplicate fill IDs are an idempotent no-op: the
// current snapshot is returned together with domain.ErrDuplicateFill and no
// state changes. Invalid fills are rejected with *domain.ValidationError
// before any mutation.
func (l *Ledger) ApplyFill(ctx context.Context, fill domain.Fill) (domain.Position, error) {
	if err := validateFill(fill); err != nil {
		return domain.Position{}, err
	}

	e := l.positionEntry(fill.Symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	if l.isDuplicate(fill.ID) {
		return clonePosition(&e.pos), domain.ErrDuplicateFill
	}

	trade := applyFill(&e.pos, fill)
	l.markSeen(fill.ID)

	snap := clonePosition(&e.pos)
	l.persistPosition(ctx, &snap, &trade)

	l.log.Debug("fill applied",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.String("quantity", e.pos.Quantity.String()),
		zap.String("entry_price", e.pos.EntryPrice.String()),
		zap.String("realized_pnl", e.pos.RealizedPnL.String()),
	)
	return snap, nil
}

// applyFill mutates pos in place and returns the trade-log record. Cases:
// opening from flat, adding in the same direction (weighted-average entry),
// and reducing or reversing (fee-adjusted realized increment for the closed
// portion, entry reset to the fill price on reversal, cleared at flat).
func applyFill(pos *domain.Position, fill domain.Fill) domain.Trade {
	trade := domain.Trade{
		ID:          fill.ID,
		Timestamp:   fill.Timestamp,
		Side:        fill.Side,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Fee:         fill.Fee,
		FeeCurrency: fill.FeeCurrency,
	}

	delta := fill.SignedQuantity()
	oldQty := pos.Quantity
	newQty := oldQty.Add(delta)

	switch {
	case oldQty.IsZero():
		pos.EntryPrice = fill.Price
		pos.Quantity = newQty

	case oldQty.Sign() == delta.Sign():
		oldValue := oldQty.Abs().Mul(pos.EntryPrice)
		addValue := delta.Abs().Mul(fill.Price)
		pos.EntryPrice = oldValue.Add(addValue).Div(newQty.Abs())
		pos.Quantity = newQty

	default:
		closedQty := decimal.Min(oldQty.Abs(), delta.Abs())

		var pnl decimal.Decimal
		if oldQty.IsPositive() {
			pnl = fill.Price.Sub(pos.EntryPrice).Mul(closedQty)
		} else {
			pnl = pos.EntryPrice.Sub(fill.Price).Mul(closedQty)
		}
		pnl = pnl.Sub(fill.Fee)

		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity = newQty
		trade.ClosedQty = closedQty
		trade.RealizedPnL = pnl

		if !newQty.IsZero() && newQty.Sign() != oldQty.Sign() {
			// Reversed: the remainder opened at the fill price.
			pos.EntryPrice = fill.Price
		}
		if newQty.IsZero() {
			pos.EntryPrice = decimal.Zero
		}
	}

	pos.TotalFees = pos.TotalFees.Add(fill.Fee)
	pos.LastUpdate = fill.Timestamp
	pos.Trades = append(pos.Trades, trade)
	return trade
}

func validateFill(fill domain.Fill) error {
	if fill.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !fill.Quantity.IsPositive() {
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if fill.Fee.IsNegative() {
		return &domain.ValidationError{Field: "fee", Reason: "must not be negative"}
	}
	if fill.Side != domain.SideBuy && fill.Side != domain.SideSell {
		return &domain.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	return nil
}

// CorrectQuantity overwrites a position quantity with the exchange-reported
// value. It re-validates the drift against the current local state under the
// symbol lock, so a fill applied between snapshot fetch and correction makes
// this a no-op (applied=false). The cost basis is deliberately left alone:
// external snapshots carry no basis information. Both snapshots are returned
// for audit logging.
func (l *Ledger) CorrectQuantity(ctx context.Context, symbol string, externalQty, tolerance decimal.Decimal) (prev, now domain.Position, applied bool) {
	e := l.positionEntry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	prev = clonePosition(&e.pos)
	if externalQty.Sub(e.pos.Quantity).Abs().LessThanOrEqual(tolerance) {
		return prev, prev, false
	}

	e.pos.Symbol = symbol
	e.pos.Quantity = externalQty
	if externalQty.IsZero() {
		e.pos.EntryPrice = decimal.Zero
	}
	e.pos.LastUpdate = time.Now()

	now = clonePosition(&e.pos)
	l.persistPosition(ctx, &now, nil)

	l.log.Warn("position quantity corrected",
		zap.String("symbol", symbol),
		zap.String("old_qty", prev.Quantity.String()),
		zap.String("new_qty", externalQty.String()),
	)
	return prev, now, true
}

// UpdateBalance records an exchange balance update for an asset.
func (l *Ledger) UpdateBalance(ctx context.Context, asset string, free, locked decimal.Decimal) domain.Balance {
	e := l.balanceEntry(asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bal = domain.Balance{
		Asset:      asset,
		Free:       free,
		Locked:     locked,
		Total:      free.Add(locked),
		LastUpdate: time.Now(),
	}

	bal := e.bal
	l.persistBalance(ctx, &bal)
	return bal
}

// CorrectBalance overwrites a balance with the external values, re-validating
// the total drift under the asset lock first. The exchange is the trusted
// source, so free, locked and total are all replaced.
func (l *Ledger) CorrectBalance(ctx context.Context, asset string, external domain.Balance, tolerance decimal.Decimal) (prev, now domain.Balance, applied bool) {
	e := l.balanceEntry(asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	prev = e.bal
	if external.Total.Sub(e.bal.Total).Abs().LessThanOrEqual(tolerance) {
		return prev, prev, false
	}

	e.bal = domain.Balance{
		Asset:      asset,
		Free:       external.Free,
		Locked:     external.Locked,
		Total:      external.Total,
		LastUpdate: time.Now(),
	}

	now = e.bal
	l.persistBalance(ctx, &now)

	l.log.Warn("balance corrected",
		zap.String("asset", asset),
		zap.String("old_total", prev.Total.String()),
		zap.String("new_total", external.Total.String()),
	)
	return prev, now, true
}

// GetPosition returns a copy of the position for a symbol.
func (l *Ledger) GetPosition(symbol string) (domain.Position, error) {
	l.mu.RLock()
	e, ok := l.positions[symbol]
	l.mu.RUnlock()
	if !ok {
		return domain.Position{}, domain.ErrPositionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return clonePosition(&e.pos), nil
}

// GetAllPositions returns copies of every tracked position, including flat
// ones.
func (l *Ledger) GetAllPositions() map[string]domain.Position {
	l.mu.RLock()
	entries := make(map[string]*positionEntry, len(l.positions))
	for symbol, e := range l.positions {
		entries[symbol] = e
	}
	l.mu.RUnlock()

	out := make(map[string]domain.Position, len(entries))
	for symbol, e := range entries {
		e.mu.Lock()
		out[symbol] = clonePosition(&e.pos)
		e.mu.Unlock()
	}
	return out
}

// GetBalance returns a copy of the balance for an asset.
func (l *Ledger) GetBalance(asset string) (domain.Balance, error) {
	l.mu.RLock()
	e, ok := l.balances[asset]
	l.mu.RUnlock()
	if !ok {
		return domain.Balance{}, domain.ErrBalanceNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bal, nil
}

// GetAllBalances returns copies of every tracked balance.
func (l *Ledger) GetAllBalances() map[string]domain.Balance {
	l.mu.RLock()
	entries := make(map[string]*balanceEntry, len(l.balances))
	for asset, e := range l.balances {
		entries[asset] = e
	}
	l.mu.RUnlock()

	out := make(map[string]domain.Balance, len(entries))
	for asset, e := range entries {
		e.mu.Lock()
		out[asset] = e.bal
		e.mu.Unlock()
	}
	return out
}

// TotalEquity values every balance in USD. Stablecoins count at face value;
// other assets are converted through their USDT pair when a mark price is
// known.
func (l *Ledger) TotalEquity(priceMap map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for asset, bal := range l.GetAllBalances() {
		if asset == "USDT" || asset == "USD" || asset == "USDC" {
			total = total.Add(bal.Total)
			continue
		}
		if price, ok := priceMap[asset+"USDT"]; ok {
			total = total.Add(bal.Total.Mul(price))
		}
	}
	return total
}

// Restore loads persisted state back into the ledger. The seen-fill set is
// rebuilt from the trade logs so duplicates stay no-ops across restarts.
func (l *Ledger) Restore(state *domain.LedgerState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for symbol, pos := range state.Positions {
		e := &positionEntry{pos: clonePosition(pos)}
		l.positions[symbol] = e
		l.seenMu.Lock()
		for _, t := range pos.Trades {
			l.seen[t.ID] = struct{}{}
		}
		l.seenMu.Unlock()
	}
	for asset, bal := range state.Balances {
		l.balances[asset] = &balanceEntry{bal: *bal}
	}

	l.log.Info("ledger state restored",
		zap.Int("positions", len(state.Positions)),
		zap.Int("balances", len(state.Balances)),
	)
}

func (l *Ledger) positionEntry(symbol string) *positionEntry {
	l.mu.RLock()
	e, ok := l.positions[symbol]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.positions[symbol]; ok {
		return e
	}
	e = &positionEntry{pos: domain.Position{Symbol: symbol}}
	l.positions[symbol] = e
	return e
}

func (l *Ledger) balanceEntry(asset string) *balanceEntry {
	l.mu.RLock()
	e, ok := l.balances[asset]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.balances[asset]; ok {
		return e
	}
	e = &balanceEntry{bal: domain.Balance{Asset: asset}}
	l.balances[asset] = e
	return e
}

func (l *Ledger) isDuplicate(fillID string) bool {
	l.seenMu.Lock()
	defer l.seenMu.Unlock()
	_, ok := l.seen[fillID]
	return ok
}

func (l *Ledger) markSeen(fillID string) {
	l.seenMu.Lock()
	l.seen[fillID] = struct{}{}
	l.seenMu.Unlock()
}

func (l *Ledger) persistPosition(ctx context.Context, pos *domain.Position, trade *domain.Trade) {
	if l.repo == nil {
		return
	}
	if err := l.repo.SavePosition(ctx, pos); err != nil {
		l.log.Warn("failed to persist position", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	if trade != nil {
		if err := l.repo.SaveTrade(ctx, pos.Symbol, trade); err != nil {
			l.log.Warn("failed to persist trade", zap.String("id", trade.ID), zap.Error(err))
		}
	}
}

func (l *Ledger) persistBalance(ctx context.Context, bal *domain.Balance) {
	if l.repo == nil {
		return
	}
	if err := l.repo.SaveBalance(ctx, bal); err != nil {
		l.log.Warn("failed to persist balance", zap.String("asset", bal.Asset), zap.Error(err))
	}
}

func clonePosition(pos *domain.Position) domain.Position {
	out := *pos
	out.Trades = make([]domain.Trade, len(pos.Trades))
	copy(out.Trades, pos.Trades)
	return out
}
