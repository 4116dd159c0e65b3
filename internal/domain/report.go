package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLReport aggregates P&L across all positions. Statistics are derived from
// trade-log closures: WinRate is winning closures over total closures as a
// 0..1 ratio (0 with no closures), ProfitFactor is total win amount over
// total loss amount (0 with no losses).
type PnLReport struct {
	Timestamp       time.Time
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	TotalPnL        decimal.Decimal
	TotalFees       decimal.Decimal
	NetPnL          decimal.Decimal
	WinRate         decimal.Decimal
	ProfitFactor    decimal.Decimal
	TotalClosures   int
	WinningClosures int
	LosingClosures  int
	AverageWin      decimal.Decimal
	AverageLoss     decimal.Decimal
}
