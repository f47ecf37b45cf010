// Package risk validates signals against position, exposure, cash, and
// loss limits before they reach the OMS. All money math is decimal;
// share counts truncate downward.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/model"
	"krader/internal/portfolio"
)

// Config bounds what the validator will approve.
type Config struct {
	PositionSizePct         decimal.Decimal // fraction of equity per new position
	MaxPositionSize         int64           // shares per symbol
	MaxTradesPerDay         int
	MaxPortfolioExposurePct decimal.Decimal // total market value / equity
	TransactionCostRate     decimal.Decimal // commission + tax, e.g. 0.00015
	DailyLossLimit          decimal.Decimal // won, positive
	TradingStart            string          // "HH:MM" local
	TradingEnd              string          // "HH:MM" local
}

// Context carries per-validation facts the portfolio snapshot lacks.
type Context struct {
	DailyTradesCount int
}

// Result is the validation outcome. ApprovedQuantity may be lower than
// requested when a limit grants only partial headroom.
type Result struct {
	Approved         bool
	ApprovedQuantity int64
	RejectReason     string
}

func reject(reason string) Result {
	return Result{RejectReason: reason}
}

// Validator applies the risk checks in a fixed order; the first failure
// short-circuits. The kill switch latches every validation to reject
// until explicitly deactivated.
type Validator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	startMin, endMin int

	mu         sync.Mutex
	killSwitch bool
	killReason string
}

// NewValidator creates a validator. Malformed trading hours fall back
// to the KRX session 09:00-15:30.
func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	start, err := parseClock(cfg.TradingStart)
	if err != nil {
		start = 9 * 60
	}
	end, err := parseClock(cfg.TradingEnd)
	if err != nil {
		end = 15*60 + 30
	}
	return &Validator{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		startMin: start,
		endMin:   end,
	}
}

func parseClock(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, err
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("clock out of range: %s", s)
	}
	return hh*60 + mm, nil
}

// ActivateKillSwitch latches the validator into rejecting everything.
func (v *Validator) ActivateKillSwitch(reason string) {
	v.mu.Lock()
	v.killSwitch = true
	v.killReason = reason
	v.mu.Unlock()
	v.logger.Error("kill switch activated", "reason", reason)
}

// DeactivateKillSwitch re-enables validation.
func (v *Validator) DeactivateKillSwitch() {
	v.mu.Lock()
	v.killSwitch = false
	v.killReason = ""
	v.mu.Unlock()
	v.logger.Warn("kill switch deactivated")
}

// KillSwitchActive reports the latch state.
func (v *Validator) KillSwitchActive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.killSwitch
}

// IsMarketOpen reports whether t falls inside the configured session on
// a weekday.
func (v *Validator) IsMarketOpen(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= v.startMin && minutes <= v.endMin
}

// ValidateSignal runs the checks in order against a portfolio snapshot.
// currentPrice is the last trade price in won, 0 if unknown.
func (v *Validator) ValidateSignal(sig *model.Signal, snap portfolio.Snapshot, currentPrice int64, vctx Context) Result {
	v.mu.Lock()
	killed, killReason := v.killSwitch, v.killReason
	v.mu.Unlock()
	if killed {
		return reject("kill switch active: " + killReason)
	}

	if sig.Action == model.ActionHold {
		return reject("HOLD does not generate orders")
	}

	if !v.IsMarketOpen(v.now()) {
		return reject("outside trading hours")
	}

	price := decimal.NewFromInt(currentPrice)

	// Requested quantity: the signal's suggestion, else sized from equity.
	var requestedQty int64
	if sig.SuggestedQuantity > 0 {
		requestedQty = sig.SuggestedQuantity
	} else {
		if currentPrice <= 0 {
			return reject("cannot size position without a current price")
		}
		if snap.TotalEquity.LessThanOrEqual(decimal.Zero) {
			return reject("cannot size position without equity")
		}
		requestedQty = snap.TotalEquity.Mul(v.cfg.PositionSizePct).Div(price).IntPart()
		if requestedQty > v.cfg.MaxPositionSize {
			requestedQty = v.cfg.MaxPositionSize
		}
		if requestedQty <= 0 {
			return reject("computed position size is zero")
		}
	}

	if vctx.DailyTradesCount >= v.cfg.MaxTradesPerDay {
		return reject(fmt.Sprintf("daily trade limit reached (%d)", v.cfg.MaxTradesPerDay))
	}

	approvedQty := requestedQty

	// Per-symbol cap: approve whatever headroom remains.
	var currentQty int64
	if pos, ok := snap.Positions[sig.Symbol]; ok {
		currentQty = pos.Quantity
	}
	if sig.Action == model.ActionBuy {
		headroom := v.cfg.MaxPositionSize - currentQty
		if headroom <= 0 {
			return reject(fmt.Sprintf("position cap reached for %s (%d)", sig.Symbol, v.cfg.MaxPositionSize))
		}
		if approvedQty > headroom {
			approvedQty = headroom
		}
	} else if approvedQty > currentQty {
		// Never sell more than held.
		if currentQty <= 0 {
			return reject("no position to sell for " + sig.Symbol)
		}
		approvedQty = currentQty
	}

	if sig.Action == model.ActionBuy && currentPrice > 0 && snap.TotalEquity.GreaterThan(decimal.Zero) {
		// Exposure bound: shrink quantity to the largest that fits.
		marketValue := decimal.Zero
		for _, p := range snap.Positions {
			marketValue = marketValue.Add(p.MarketValue())
		}
		maxValue := snap.TotalEquity.Mul(v.cfg.MaxPortfolioExposurePct)
		headroomValue := maxValue.Sub(marketValue)
		if headroomValue.LessThanOrEqual(decimal.Zero) {
			return reject("portfolio exposure limit reached")
		}
		maxQty := headroomValue.Div(price).IntPart()
		if maxQty <= 0 {
			return reject("portfolio exposure limit reached")
		}
		if approvedQty > maxQty {
			approvedQty = maxQty
		}

		// Cash bound including transaction costs.
		costRate := decimal.NewFromInt(1).Add(v.cfg.TransactionCostRate)
		totalCost := price.Mul(decimal.NewFromInt(approvedQty)).Mul(costRate)
		if totalCost.GreaterThan(snap.Cash) {
			affordable := snap.Cash.Div(price.Mul(costRate)).IntPart()
			if affordable <= 0 {
				return reject("insufficient cash")
			}
			approvedQty = affordable
		}
	}

	if snap.DailyPnL.LessThanOrEqual(v.cfg.DailyLossLimit.Neg()) {
		return reject(fmt.Sprintf("daily loss limit hit (%s)", snap.DailyPnL))
	}

	if approvedQty <= 0 {
		return reject("approved quantity is zero")
	}

	if approvedQty < requestedQty {
		v.logger.Info("signal partially approved",
			"signal_id", sig.SignalID, "requested", requestedQty, "approved", approvedQty)
	}
	return Result{Approved: true, ApprovedQuantity: approvedQty}
}
