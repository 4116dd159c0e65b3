package usecase

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/domain"
)

// UnrealizedPnL marks the open quantity of a position to the given price.
// Flat positions are always zero.
func UnrealizedPnL(pos domain.Position, markPrice decimal.Decimal) decimal.Decimal {
	switch {
	case pos.IsLong():
		return markPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	case pos.IsShort():
		return pos.EntryPrice.Sub(markPrice).Mul(pos.Quantity.Abs())
	default:
		return decimal.Zero
	}
}

// PnLEngine derives unrealized P&L and trade statistics from ledger
// snapshots. It holds no state of its own.
type PnLEngine struct {
	ledger *Ledger
	log    *zap.Logger
}

func NewPnLEngine(ledger *Ledger, log *zap.Logger) *PnLEngine {
	return &PnLEngine{ledger: ledger, log: log}
}

// Report aggregates P&L across every tracked position. Positions without a
// mark price still contribute their realized P&L and fees; only the
// unrealized leg needs a price.
func (p *PnLEngine) Report(markPrices map[string]decimal.Decimal) *domain.PnLReport {
	positions := p.ledger.GetAllPositions()

	var realized, unrealized, fees decimal.Decimal
	for symbol, pos := range positions {
		realized = realized.Add(pos.RealizedPnL)
		fees = fees.Add(pos.TotalFees)

		if pos.IsFlat() {
			continue
		}
		price, ok := markPrices[symbol]
		if !ok {
			p.log.Warn("no mark price for open position", zap.String("symbol", symbol))
			continue
		}
		unrealized = unrealized.Add(UnrealizedPnL(pos, price))
	}

	report := &domain.PnLReport{
		Timestamp:     time.Now(),
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      realized.Add(unrealized),
		TotalFees:     fees,
	}
	report.NetPnL = report.TotalPnL.Sub(fees)

	fillStatistics(report, positions)
	return report
}

// fillStatistics derives win rate and profit factor from trade-log closures.
// A closure is any trade that closed part of a position; its recorded
// realized increment decides win or loss. All degenerate denominators fall
// back to zero rather than faulting.
func fillStatistics(report *domain.PnLReport, positions map[string]domain.Position) {
	var wins, losses decimal.Decimal
	for _, pos := range positions {
		for _, t := range pos.Trades {
			if t.ClosedQty.IsZero() {
				continue
			}
			report.TotalClosures++
			switch {
			case t.RealizedPnL.IsPositive():
				report.WinningClosures++
				wins = wins.Add(t.RealizedPnL)
			case t.RealizedPnL.IsNegative():
				report.LosingClosures++
				losses = losses.Add(t.RealizedPnL.Abs())
			}
		}
	}

	if report.TotalClosures > 0 {
		report.WinRate = decimal.NewFromInt(int64(report.WinningClosures)).
			Div(decimal.NewFromInt(int64(report.TotalClosures)))
	}
	if !losses.IsZero() {
		report.ProfitFactor = wins.Div(losses)
	}
	if report.WinningClosures > 0 {
		report.AverageWin = wins.Div(decimal.NewFromInt(int64(report.WinningClosures)))
	}
	if report.LosingClosures > 0 {
		report.AverageLoss = losses.Div(decimal.NewFromInt(int64(report.LosingClosures)))
	}
}
