package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"krader/internal/model"
	"krader/internal/portfolio"
)

// tradingWednesday is a weekday timestamp inside the default session.
var tradingWednesday = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		PositionSizePct:         decimal.NewFromFloat(0.05),
		MaxPositionSize:         100,
		MaxTradesPerDay:         20,
		MaxPortfolioExposurePct: decimal.NewFromFloat(0.8),
		TransactionCostRate:     decimal.Zero,
		DailyLossLimit:          decimal.NewFromInt(500_000),
		TradingStart:            "09:00",
		TradingEnd:              "15:30",
	}
}

func newTestValidator(cfg Config) *Validator {
	v := NewValidator(cfg, nil)
	v.now = func() time.Time { return tradingWednesday }
	return v
}

func snapshot(cash, equity int64) portfolio.Snapshot {
	return portfolio.Snapshot{
		Positions:        map[string]model.Position{},
		Cash:             decimal.NewFromInt(cash),
		TotalEquity:      decimal.NewFromInt(equity),
		DailyPnL:         decimal.Zero,
		DailyStartEquity: decimal.NewFromInt(equity),
	}
}

func buySignal(suggested int64) *model.Signal {
	return &model.Signal{
		SignalID:          "SIG-1",
		StrategyName:      "test",
		Symbol:            "005930",
		Action:            model.ActionBuy,
		Confidence:        0.8,
		SuggestedQuantity: suggested,
		Timestamp:         tradingWednesday,
	}
}

func TestSizingByPercentOfEquity(t *testing.T) {
	v := newTestValidator(testConfig())

	// equity 10,000,000 x 5% / 50,000 won = 10 shares.
	res := v.ValidateSignal(buySignal(0), snapshot(10_000_000, 10_000_000), 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
	assert.EqualValues(t, 10, res.ApprovedQuantity)

	// A tighter per-symbol cap truncates the sized quantity.
	cfg := testConfig()
	cfg.MaxPositionSize = 5
	v = newTestValidator(cfg)
	res = v.ValidateSignal(buySignal(0), snapshot(10_000_000, 10_000_000), 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
	assert.EqualValues(t, 5, res.ApprovedQuantity)
}

func TestSizingRequiresPriceAndEquity(t *testing.T) {
	v := newTestValidator(testConfig())

	res := v.ValidateSignal(buySignal(0), snapshot(10_000_000, 10_000_000), 0, Context{})
	assert.False(t, res.Approved)

	res = v.ValidateSignal(buySignal(0), snapshot(0, 0), 50_000, Context{})
	assert.False(t, res.Approved)
}

func TestInsufficientCashWithFees(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 1000
	cfg.MaxPortfolioExposurePct = decimal.NewFromInt(1)
	cfg.TransactionCostRate = decimal.NewFromFloat(0.01)
	v := newTestValidator(cfg)

	// 10,000,000 / (50,000 x 1.01) = 198.01 -> 198 shares.
	res := v.ValidateSignal(buySignal(200), snapshot(10_000_000, 10_000_000), 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
	assert.EqualValues(t, 198, res.ApprovedQuantity)
}

func TestKillSwitchLatch(t *testing.T) {
	v := newTestValidator(testConfig())
	snap := snapshot(10_000_000, 10_000_000)

	res := v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
	assert.True(t, res.Approved)

	v.ActivateKillSwitch("manual stop")
	for i := 0; i < 3; i++ {
		res = v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
		assert.False(t, res.Approved)
		assert.Contains(t, res.RejectReason, "kill switch")
	}

	v.DeactivateKillSwitch()
	res = v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
	assert.True(t, res.Approved)
}

func TestHoldNeverGeneratesOrders(t *testing.T) {
	v := newTestValidator(testConfig())
	sig := buySignal(10)
	sig.Action = model.ActionHold

	res := v.ValidateSignal(sig, snapshot(10_000_000, 10_000_000), 50_000, Context{})
	assert.False(t, res.Approved)
	assert.Contains(t, res.RejectReason, "HOLD")
}

func TestOutsideTradingHours(t *testing.T) {
	v := newTestValidator(testConfig())
	v.now = func() time.Time {
		return time.Date(2026, 3, 11, 16, 0, 0, 0, time.UTC) // after close
	}
	res := v.ValidateSignal(buySignal(10), snapshot(10_000_000, 10_000_000), 50_000, Context{})
	assert.False(t, res.Approved)
	assert.Contains(t, res.RejectReason, "trading hours")

	v.now = func() time.Time {
		return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) // Saturday
	}
	res = v.ValidateSignal(buySignal(10), snapshot(10_000_000, 10_000_000), 50_000, Context{})
	assert.False(t, res.Approved)
}

func TestDailyTradeLimit(t *testing.T) {
	v := newTestValidator(testConfig())
	snap := snapshot(10_000_000, 10_000_000)

	res := v.ValidateSignal(buySignal(10), snap, 50_000, Context{DailyTradesCount: 19})
	assert.True(t, res.Approved)

	res = v.ValidateSignal(buySignal(10), snap, 50_000, Context{DailyTradesCount: 20})
	assert.False(t, res.Approved)
	assert.Contains(t, res.RejectReason, "daily trade limit")
}

func TestPerSymbolCapHeadroom(t *testing.T) {
	v := newTestValidator(testConfig())
	snap := snapshot(100_000_000, 100_000_000)
	snap.Positions["005930"] = model.Position{
		Symbol: "005930", Quantity: 95,
		AvgPrice: decimal.NewFromInt(50_000), CurrentPrice: 50_000,
	}

	// Headroom is 5; a request for 10 is trimmed, not rejected.
	res := v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
	assert.EqualValues(t, 5, res.ApprovedQuantity)

	snap.Positions["005930"] = model.Position{
		Symbol: "005930", Quantity: 100,
		AvgPrice: decimal.NewFromInt(50_000), CurrentPrice: 50_000,
	}
	res = v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
	assert.False(t, res.Approved, "no headroom left")
}

func TestExposureBoundTrimsQuantity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 1000
	v := newTestValidator(cfg)

	// Existing market value 7,500,000 of 8,000,000 allowed (80% of
	// 10M): headroom 500,000 -> 10 shares at 50,000.
	snap := snapshot(2_500_000, 10_000_000)
	snap.Positions["000660"] = model.Position{
		Symbol: "000660", Quantity: 50,
		AvgPrice: decimal.NewFromInt(150_000), CurrentPrice: 150_000,
	}
	res := v.ValidateSignal(buySignal(100), snap, 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
	assert.EqualValues(t, 10, res.ApprovedQuantity)
}

func TestSellCappedAtHolding(t *testing.T) {
	v := newTestValidator(testConfig())
	snap := snapshot(10_000_000, 10_000_000)
	snap.Positions["005930"] = model.Position{
		Symbol: "005930", Quantity: 7,
		AvgPrice: decimal.NewFromInt(50_000), CurrentPrice: 50_000,
	}

	sig := buySignal(10)
	sig.Action = model.ActionSell
	res := v.ValidateSignal(sig, snap, 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
	assert.EqualValues(t, 7, res.ApprovedQuantity)

	delete(snap.Positions, "005930")
	res = v.ValidateSignal(sig, snap, 50_000, Context{})
	assert.False(t, res.Approved, "selling with no position must reject")
}

func TestDailyLossLimit(t *testing.T) {
	v := newTestValidator(testConfig())
	snap := snapshot(10_000_000, 10_000_000)
	snap.DailyPnL = decimal.NewFromInt(-500_000)

	res := v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
	assert.False(t, res.Approved)
	assert.Contains(t, res.RejectReason, "daily loss")

	snap.DailyPnL = decimal.NewFromInt(-499_999)
	res = v.ValidateSignal(buySignal(10), snap, 50_000, Context{})
	assert.True(t, res.Approved, res.RejectReason)
}
