// Package strategy defines the contract strategies implement and the
// registry used to construct them by name. Strategies are pure relative
// to their inputs and never touch the broker.
package strategy

import (
	"time"

	"krader/internal/model"
	"krader/internal/portfolio"
)

// Snapshot is the market view handed to a strategy on each candle.
// Historical candles are most recent first.
type Snapshot struct {
	Symbol     string
	Timestamp  time.Time
	LastTick   *model.Tick
	Current    map[model.Timeframe]model.Candle
	Historical map[model.Timeframe][]model.Candle
}

// Context carries account state a strategy may condition on.
type Context struct {
	Portfolio        portfolio.Snapshot
	ActiveOrderCount int
	DailyTradesCount int
	IsMarketOpen     bool
	Metadata         map[string]any
}

// Strategy is the contract the application invokes. Symbols returning
// an empty slice means every universe symbol.
type Strategy interface {
	Name() string
	Symbols() []string
	OnStart() error
	OnStop() error
	OnMarketData(snap Snapshot, ctx Context) ([]model.Signal, error)
	OnFill(symbol string, side model.Side, quantity, price int64)
}
