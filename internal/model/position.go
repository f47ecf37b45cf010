package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a tracked holding. Quantity is always positive; the core
// is long-only. AvgPrice carries fractional won from partial fills, so
// it stays decimal rather than int64.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentPrice  int64           `json:"current_price,omitempty"` // won, 0 until first tick
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketValue returns quantity * current price. Zero until a price is known.
func (p *Position) MarketValue() decimal.Decimal {
	return decimal.NewFromInt(p.CurrentPrice).Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns quantity * average entry price.
func (p *Position) CostBasis() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
}
