package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/config"
	"github.com/vitos/account_monitor/internal/domain"
)

// Monitor ties the engine together: it feeds the fill stream into the
// ledger, runs the reconciliation loop, and drives periodic alert
// evaluation. Three independent paths touch the ledger — fills, the
// reconciler, and read queries — and each is serialized per key inside the
// ledger itself.
type Monitor struct {
	ledger     *Ledger
	pnl        *PnLEngine
	reconciler *Reconciler
	alerts     *AlertService
	repo       domain.LedgerRepository
	cfg        config.AlertsConfig
	log        *zap.Logger

	mu          sync.RWMutex
	markPrices  map[string]decimal.Decimal
	lastDrifts  []domain.DriftRecord
	marginRatio decimal.Decimal
}

func NewMonitor(
	ledger *Ledger,
	pnl *PnLEngine,
	reconciler *Reconciler,
	alerts *AlertService,
	repo domain.LedgerRepository,
	cfg config.AlertsConfig,
	log *zap.Logger,
) *Monitor {
	m := &Monitor{
		ledger:     ledger,
		pnl:        pnl,
		reconciler: reconciler,
		alerts:     alerts,
		repo:       repo,
		cfg:        cfg,
		log:        log,
		markPrices: make(map[string]decimal.Decimal),
	}

	reconciler.OnReport(m.handleReconciliationReport)
	reconciler.OnStale(func(failures int) {
		m.alerts.Publish(context.Background(), StaleReconciliationAlert(failures))
	})
	return m
}

// Start restores persisted state and runs the background loops until ctx is
// done.
func (m *Monitor) Start(ctx context.Context) error {
	if m.repo != nil {
		state, err := m.repo.LoadState(ctx)
		if err != nil {
			m.log.Warn("failed to restore ledger state, starting empty", zap.Error(err))
		} else {
			m.ledger.Restore(state)
			m.alerts.RestoreSuppression(state.Suppression)
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.reconciler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.evaluationLoop(ctx)
	}()

	wg.Wait()
	m.reconciler.Close()
	return nil
}

// HandleFill is the fill-stream callback. Duplicates are expected under
// at-least-once delivery and logged at debug; validation failures are real
// errors.
func (m *Monitor) HandleFill(ctx context.Context, fill domain.Fill) {
	_, err := m.ledger.ApplyFill(ctx, fill)
	switch {
	case errors.Is(err, domain.ErrDuplicateFill):
		m.log.Debug("duplicate fill ignored", zap.String("id", fill.ID))
		return
	case err != nil:
		m.log.Error("fill rejected",
			zap.String("id", fill.ID),
			zap.String("symbol", fill.Symbol),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	m.markPrices[fill.Symbol] = fill.Price
	m.mu.Unlock()
}

// HandleBalanceUpdate is the balance-stream callback.
func (m *Monitor) HandleBalanceUpdate(ctx context.Context, asset string, free, locked decimal.Decimal) {
	m.ledger.UpdateBalance(ctx, asset, free, locked)
}

// Report builds the current P&L report from the latest known mark prices.
func (m *Monitor) Report() *domain.PnLReport {
	return m.pnl.Report(m.MarkPrices())
}

// MarkPrices returns a copy of the latest per-symbol prices seen on fills.
func (m *Monitor) MarkPrices() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.markPrices))
	for k, v := range m.markPrices {
		out[k] = v
	}
	return out
}

// AccountState assembles the snapshot the alert evaluator consumes,
// including the drift records of the most recent reconciliation cycle.
func (m *Monitor) AccountState() domain.AccountState {
	report := m.Report()
	equity := m.ledger.TotalEquity(m.MarkPrices())

	m.mu.RLock()
	drifts := make([]domain.DriftRecord, len(m.lastDrifts))
	copy(drifts, m.lastDrifts)
	marginRatio := m.marginRatio
	m.mu.RUnlock()

	return domain.AccountState{
		TotalEquity:    equity,
		RealizedPnL:    report.RealizedPnL,
		InitialBalance: decimal.NewFromFloat(m.cfg.InitialBalance),
		MarginRatio:    marginRatio,
		Drifts:         drifts,
		Timestamp:      time.Now(),
	}
}

func (m *Monitor) evaluationLoop(ctx context.Context) {
	if !m.cfg.Enabled {
		m.log.Info("alert evaluation disabled")
		return
	}

	ticker := time.NewTicker(m.cfg.EvalInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.alerts.EvaluateAndPublish(ctx, m.AccountState())
			// Drift alerts fire once per reconciliation cycle.
			m.mu.Lock()
			m.lastDrifts = nil
			m.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) handleReconciliationReport(report *domain.ReconciliationReport, snap *domain.AccountSnapshot) {
	m.mu.Lock()
	m.lastDrifts = report.Drifts
	m.marginRatio = snap.MarginRatio
	m.mu.Unlock()
}
