package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/config"
	"github.com/vitos/account_monitor/internal/domain"
)

// Reconciler periodically compares ledger state against the exchange account
// snapshot and corrects drift beyond tolerance. The snapshot fetch runs
// outside every lock with a bounded timeout; corrections go through the
// ledger entry points, which re-validate the drift under the per-key lock so
// a fill racing the correction turns it into a logged no-op.
type Reconciler struct {
	ledger   *Ledger
	provider domain.SnapshotProvider
	cfg      config.ReconciliationConfig
	repo     domain.LedgerRepository
	log      *zap.Logger

	balanceTol  decimal.Decimal
	positionTol decimal.Decimal

	pool *ants.Pool

	// failures counts consecutive fetch errors; only touched from the Run
	// goroutine (and direct ReconcileOnce callers in tests).
	failures int

	onReport func(*domain.ReconciliationReport, *domain.AccountSnapshot)
	onStale  func(consecutiveFailures int)
}

func NewReconciler(
	ledger *Ledger,
	provider domain.SnapshotProvider,
	cfg config.ReconciliationConfig,
	repo domain.LedgerRepository,
	log *zap.Logger,
) *Reconciler {
	r := &Reconciler{
		ledger:      ledger,
		provider:    provider,
		cfg:         cfg,
		repo:        repo,
		log:         log,
		balanceTol:  decimal.NewFromFloat(cfg.BalanceTolerance),
		positionTol: decimal.NewFromFloat(cfg.PositionTolerance),
	}
	if cfg.Parallelism > 1 {
		pool, err := ants.NewPool(cfg.Parallelism)
		if err != nil {
			log.Warn("failed to create reconciliation pool, falling back to sequential", zap.Error(err))
		} else {
			r.pool = pool
		}
	}
	return r
}

// OnReport registers the per-cycle report consumer. Must be set before Run.
func (r *Reconciler) OnReport(cb func(*domain.ReconciliationReport, *domain.AccountSnapshot)) {
	r.onReport = cb
}

// OnStale registers the callback fired when consecutive fetch failures reach
// the configured threshold.
func (r *Reconciler) OnStale(cb func(consecutiveFailures int)) {
	r.onStale = cb
}

func (r *Reconciler) Close() {
	if r.pool != nil {
		r.pool.Release()
	}
}

// Run drives reconciliation on the configured interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		r.log.Info("reconciliation disabled")
		return
	}

	ticker := time.NewTicker(r.cfg.Interval())
	defer ticker.Stop()

	r.log.Info("reconciliation started", zap.Duration("interval", r.cfg.Interval()))

	for {
		select {
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				// Already counted and logged; next tick retries.
				continue
			}
		case <-ctx.Done():
			r.log.Info("reconciliation stopped")
			return
		}
	}
}

// ReconcileOnce performs a single cycle. A fetch failure aborts the cycle and
// returns the error; it never corrects anything based on stale data.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (*domain.ReconciliationReport, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout())
	snap, err := r.provider.FetchSnapshot(fetchCtx)
	cancel()
	if err != nil {
		r.failures++
		r.log.Warn("snapshot fetch failed, skipping cycle",
			zap.Int("consecutive_failures", r.failures),
			zap.Error(err),
		)
		if r.failures >= r.cfg.MaxFetchFailures && r.onStale != nil {
			r.onStale(r.failures)
		}
		return nil, err
	}
	r.failures = 0

	report := &domain.ReconciliationReport{
		ID:        ulid.Make().String(),
		Timestamp: time.Now(),
	}
	report.Drifts = append(report.Drifts, r.reconcileBalances(ctx, snap)...)
	report.Drifts = append(report.Drifts, r.reconcilePositions(ctx, snap)...)

	r.persistDrifts(ctx, report)

	if len(report.Drifts) > 0 {
		r.log.Warn("drift detected",
			zap.String("cycle", report.ID),
			zap.Int("records", len(report.Drifts)),
		)
	} else {
		r.log.Debug("reconciliation clean", zap.String("cycle", report.ID))
	}

	if r.onReport != nil {
		r.onReport(report, snap)
	}
	return report, nil
}

func (r *Reconciler) reconcileBalances(ctx context.Context, snap *domain.AccountSnapshot) []domain.DriftRecord {
	local := r.ledger.GetAllBalances()

	var drifts []domain.DriftRecord
	for _, asset := range unionKeys(local, snap.Balances) {
		external, inSnapshot := snap.Balances[asset]
		if !inSnapshot {
			// Locally tracked asset missing from the snapshot: nothing
			// trustworthy to compare against, leave it alone.
			continue
		}

		localTotal := decimal.Zero
		if bal, ok := local[asset]; ok {
			localTotal = bal.Total
		} else if external.Total.IsZero() {
			continue
		}

		drift := external.Total.Sub(localTotal)
		if drift.Abs().LessThanOrEqual(r.balanceTol) {
			continue
		}

		_, _, applied := r.ledger.CorrectBalance(ctx, asset, external, r.balanceTol)
		if !applied {
			r.log.Info("balance drift resolved before correction",
				zap.String("asset", asset))
		}
		drifts = append(drifts, domain.DriftRecord{
			Kind:          domain.DriftBalance,
			Key:           asset,
			LocalValue:    localTotal,
			ExternalValue: external.Total,
			Drift:         drift,
			DriftPercent:  driftPercent(drift, localTotal),
			Corrected:     applied,
			Timestamp:     time.Now(),
		})
	}
	return drifts
}

func (r *Reconciler) reconcilePositions(ctx context.Context, snap *domain.AccountSnapshot) []domain.DriftRecord {
	local := r.ledger.GetAllPositions()
	symbols := unionKeys(local, snap.Positions)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		drifts []domain.DriftRecord
	)

	check := func(symbol string) {
		external, inSnapshot := snap.Positions[symbol]
		if !inSnapshot {
			external = domain.SnapshotPosition{Quantity: decimal.Zero}
		}

		localQty := decimal.Zero
		if pos, ok := local[symbol]; ok {
			localQty = pos.Quantity
		} else if external.Quantity.IsZero() {
			return
		}

		drift := external.Quantity.Sub(localQty)
		if drift.Abs().LessThanOrEqual(r.positionTol) {
			return
		}

		_, _, applied := r.ledger.CorrectQuantity(ctx, symbol, external.Quantity, r.positionTol)
		if !applied {
			r.log.Info("position drift resolved before correction",
				zap.String("symbol", symbol))
		}

		mu.Lock()
		drifts = append(drifts, domain.DriftRecord{
			Kind:          domain.DriftPosition,
			Key:           symbol,
			LocalValue:    localQty,
			ExternalValue: external.Quantity,
			Drift:         drift,
			DriftPercent:  driftPercent(drift, localQty),
			Corrected:     applied,
			Timestamp:     time.Now(),
		})
		mu.Unlock()
	}

	// Symbols are independent, so checks can run in parallel on the pool.
	for _, symbol := range symbols {
		symbol := symbol
		if r.pool != nil {
			wg.Add(1)
			if err := r.pool.Submit(func() {
				defer wg.Done()
				check(symbol)
			}); err != nil {
				wg.Done()
				check(symbol)
			}
		} else {
			check(symbol)
		}
	}
	wg.Wait()

	sort.Slice(drifts, func(i, j int) bool { return drifts[i].Key < drifts[j].Key })
	return drifts
}

func (r *Reconciler) persistDrifts(ctx context.Context, report *domain.ReconciliationReport) {
	if r.repo == nil {
		return
	}
	for i := range report.Drifts {
		if err := r.repo.SaveDrift(ctx, report.ID, &report.Drifts[i]); err != nil {
			r.log.Warn("failed to persist drift record", zap.Error(err))
		}
	}
}

// driftPercent is drift relative to the local value. A missing or zero local
// value with nonzero external counts as 100%.
func driftPercent(drift, local decimal.Decimal) decimal.Decimal {
	if local.IsZero() {
		if drift.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return drift.Div(local.Abs()).Mul(decimal.NewFromInt(100))
}

func unionKeys[A, B any](a map[string]A, b map[string]B) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		set[k] = struct{}{}
	}
	for k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
