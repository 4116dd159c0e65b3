package usecase_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/domain"
	"github.com/vitos/account_monitor/internal/usecase"
)

func TestUnrealizedPnL(t *testing.T) {
	long := domain.Position{Quantity: d("2"), EntryPrice: d("50000")}
	assert.True(t, usecase.UnrealizedPnL(long, d("51000")).Equal(d("2000")))

	short := domain.Position{Quantity: d("-2"), EntryPrice: d("50000")}
	assert.True(t, usecase.UnrealizedPnL(short, d("49000")).Equal(d("2000")))
	assert.True(t, usecase.UnrealizedPnL(short, d("51000")).Equal(d("-2000")))

	flat := domain.Position{Quantity: decimal.Zero}
	assert.True(t, usecase.UnrealizedPnL(flat, d("51000")).IsZero())
}

func TestReport_Aggregation(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	// BTC: closed round trip, +1000 realized, 2 in fees.
	_, err := ledger.ApplyFill(ctx, fill("b1", "BTCUSDT", domain.SideBuy, "1", "50000", "1"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("b2", "BTCUSDT", domain.SideSell, "1", "51001", "1"))
	require.NoError(t, err)

	// ETH: open long 1 @ 2000.
	_, err = ledger.ApplyFill(ctx, fill("e1", "ETHUSDT", domain.SideBuy, "1", "2000", "0"))
	require.NoError(t, err)

	pnl := usecase.NewPnLEngine(ledger, zap.NewNop())
	report := pnl.Report(map[string]decimal.Decimal{"ETHUSDT": d("2100")})

	assert.True(t, report.RealizedPnL.Equal(d("1000")), "realized = %s", report.RealizedPnL)
	assert.True(t, report.UnrealizedPnL.Equal(d("100")), "unrealized = %s", report.UnrealizedPnL)
	assert.True(t, report.TotalPnL.Equal(d("1100")))
	assert.True(t, report.TotalFees.Equal(d("2")))
	assert.True(t, report.NetPnL.Equal(d("1098")))
}

func TestReport_MissingMarkPrice(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	_, err := ledger.ApplyFill(ctx, fill("b1", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	require.NoError(t, err)

	pnl := usecase.NewPnLEngine(ledger, zap.NewNop())
	report := pnl.Report(nil)

	// No price: unrealized is skipped, nothing faults.
	assert.True(t, report.UnrealizedPnL.IsZero())
}

func TestReport_Statistics(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	// Two winning closures, one losing closure.
	_, err := ledger.ApplyFill(ctx, fill("s1", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("s2", "BTCUSDT", domain.SideSell, "1", "51000", "0"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("s3", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("s4", "BTCUSDT", domain.SideSell, "1", "49500", "0"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("s5", "ETHUSDT", domain.SideSell, "1", "2000", "0"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("s6", "ETHUSDT", domain.SideBuy, "1", "1800", "0"))
	require.NoError(t, err)

	pnl := usecase.NewPnLEngine(ledger, zap.NewNop())
	report := pnl.Report(nil)

	assert.Equal(t, 3, report.TotalClosures)
	assert.Equal(t, 2, report.WinningClosures)
	assert.Equal(t, 1, report.LosingClosures)
	// 2 of 3 closures won.
	assert.True(t, report.WinRate.Equal(d("2").Div(d("3"))), "win rate = %s", report.WinRate)
	// wins 1000+200, losses 500.
	assert.True(t, report.ProfitFactor.Equal(d("2.4")), "profit factor = %s", report.ProfitFactor)
	assert.True(t, report.AverageWin.Equal(d("600")))
	assert.True(t, report.AverageLoss.Equal(d("500")))
}

func TestReport_DegenerateStatistics(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()
	pnl := usecase.NewPnLEngine(ledger, zap.NewNop())

	// No trades at all: every ratio falls back to zero.
	report := pnl.Report(nil)
	assert.True(t, report.WinRate.IsZero())
	assert.True(t, report.ProfitFactor.IsZero())

	// Only winning closures: profit factor stays zero, never a fault.
	_, err := ledger.ApplyFill(ctx, fill("w1", "BTCUSDT", domain.SideBuy, "1", "50000", "0"))
	require.NoError(t, err)
	_, err = ledger.ApplyFill(ctx, fill("w2", "BTCUSDT", domain.SideSell, "1", "51000", "0"))
	require.NoError(t, err)

	report = pnl.Report(nil)
	assert.True(t, report.WinRate.Equal(d("1")))
	assert.True(t, report.ProfitFactor.IsZero())
}
