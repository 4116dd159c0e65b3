package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/domain"
	"github.com/vitos/account_monitor/internal/usecase"
)

// Full flow: fills through the stream callback, a reconciliation cycle
// against a drifted snapshot, and alert evaluation over the resulting state.
func TestMonitor_EndToEnd(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	ledger := usecase.NewLedger(nil, log)
	pnl := usecase.NewPnLEngine(ledger, log)

	snap := snapshot()
	snap.Balances["USDT"] = domain.Balance{Asset: "USDT", Free: d("700"), Total: d("700")}
	snap.Positions["BTCUSDT"] = domain.SnapshotPosition{Quantity: d("1.5"), EntryPrice: d("50100")}
	snap.MarginRatio = d("0.9")
	provider := &fakeProvider{snap: snap}

	reconciler := usecase.NewReconciler(ledger, provider, reconCfg(), nil, log)
	defer reconciler.Close()

	notifier := &fakeNotifier{}
	alerts := usecase.NewAlertService(alertCfg(), notifier, nil, log)
	monitor := usecase.NewMonitor(ledger, pnl, reconciler, alerts, nil, alertCfg(), log)

	monitor.HandleFill(ctx, fill("m1", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	// Replay of the same fill is absorbed silently.
	monitor.HandleFill(ctx, fill("m1", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	monitor.HandleBalanceUpdate(ctx, "USDT", d("700"), d("0"))

	pos, err := ledger.GetPosition("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("1")))

	report, err := reconciler.ReconcileOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, domain.DriftPosition, report.Drifts[0].Kind)

	// The cycle's drifts and margin ratio land in the evaluator input.
	state := monitor.AccountState()
	require.Len(t, state.Drifts, 1)
	assert.True(t, state.MarginRatio.Equal(d("0.9")))

	fired := alerts.Evaluate(state)
	types := make(map[domain.AlertType]bool)
	for _, a := range fired {
		types[a.Type] = true
	}
	// Equity 700 < min 1000, margin 0.9 > 0.8, one position drift.
	assert.True(t, types[domain.AlertLowBalance])
	assert.True(t, types[domain.AlertHighMarginRatio])
	assert.True(t, types[domain.AlertPositionDrift])
}

func TestMonitor_MarkPricesFollowFills(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	ledger := usecase.NewLedger(nil, log)
	pnl := usecase.NewPnLEngine(ledger, log)
	reconciler := usecase.NewReconciler(ledger, &fakeProvider{snap: snapshot()}, reconCfg(), nil, log)
	defer reconciler.Close()
	alerts := usecase.NewAlertService(alertCfg(), &fakeNotifier{}, nil, log)
	monitor := usecase.NewMonitor(ledger, pnl, reconciler, alerts, nil, alertCfg(), log)

	monitor.HandleFill(ctx, fill("p1", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	monitor.HandleFill(ctx, fill("p2", "BTCUSDT", domain.SideBuy, "1", "52000", "0"))

	prices := monitor.MarkPrices()
	require.Contains(t, prices, "BTCUSDT")
	assert.True(t, prices["BTCUSDT"].Equal(d("52000")))

	// Unrealized against the last fill price: 2 @ 51000 avg, marked 52000.
	report := monitor.Report()
	assert.True(t, report.UnrealizedPnL.Equal(d("2000")), "unrealized = %s", report.UnrealizedPnL)
}

func TestMonitor_RejectedFillLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	ledger := usecase.NewLedger(nil, log)
	pnl := usecase.NewPnLEngine(ledger, log)
	reconciler := usecase.NewReconciler(ledger, &fakeProvider{snap: snapshot()}, reconCfg(), nil, log)
	defer reconciler.Close()
	alerts := usecase.NewAlertService(alertCfg(), &fakeNotifier{}, nil, log)
	monitor := usecase.NewMonitor(ledger, pnl, reconciler, alerts, nil, alertCfg(), log)

	bad := fill("", "BTCUSDT", domain.SideBuy, "1", "50000", "0")
	monitor.HandleFill(ctx, bad)

	_, err := ledger.GetPosition("BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.Empty(t, monitor.MarkPrices())
}
