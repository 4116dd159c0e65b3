package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is a single execution delivered by the exchange stream. Delivery is
// at-least-once; ID is the dedup key. Quantity is always a positive magnitude.
type Fill struct {
	ID          string
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	Timestamp   time.Time
}

// SignedQuantity returns the fill quantity with sign applied (sell = negative).
func (f Fill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// Trade is an applied fill as recorded in the position trade log. ClosedQty
// and RealizedPnL describe the portion of the position this fill closed and
// the fee-adjusted increment that closure produced; both are zero for fills
// that only opened or added.
type Trade struct {
	ID          string
	Timestamp   time.Time
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	ClosedQty   decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Position is the net signed holding in one symbol. Quantity sign encodes the
// state: positive = long, negative = short, zero = flat. EntryPrice is the
// weighted-average entry of the open quantity and is zero while flat.
// Positions are created on the first fill for a symbol and never deleted, so
// the trade log and realized P&L stay queryable after a full close.
type Position struct {
	Symbol      string
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	RealizedPnL decimal.Decimal
	TotalFees   decimal.Decimal
	LastUpdate  time.Time
	Trades      []Trade
}

func (p Position) IsFlat() bool  { return p.Quantity.IsZero() }
func (p Position) IsLong() bool  { return p.Quantity.IsPositive() }
func (p Position) IsShort() bool { return p.Quantity.IsNegative() }
