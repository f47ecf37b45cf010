// Package portfolio tracks positions, cash, and equity. The tracker is
// the sole owner of portfolio state; everyone else reads snapshots.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/broker"
	"krader/internal/model"
	"krader/internal/store"
)

// Snapshot is a read-only copy of the portfolio at one instant.
type Snapshot struct {
	Positions        map[string]model.Position
	Cash             decimal.Decimal
	TotalEquity      decimal.Decimal
	DailyPnL         decimal.Decimal
	DailyStartEquity decimal.Decimal
	LastUpdated      time.Time
}

// Exposure returns total position market value over equity, zero when
// equity is unknown.
func (s Snapshot) Exposure() decimal.Decimal {
	if s.TotalEquity.IsZero() {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.MarketValue())
	}
	return total.Div(s.TotalEquity)
}

// Tracker maintains the in-memory portfolio and mirrors position
// changes to the store.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger

	mu               sync.Mutex
	positions        map[string]*model.Position
	cash             decimal.Decimal
	totalEquity      decimal.Decimal
	dailyStartEquity decimal.Decimal
	lastUpdated      time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(st *store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:     st,
		logger:    logger,
		positions: make(map[string]*model.Position),
	}
}

// LoadFromStore restores persisted positions. Called at startup before
// broker reconciliation.
func (t *Tracker) LoadFromStore(ctx context.Context) error {
	positions, err := t.store.Positions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	t.mu.Lock()
	t.positions = make(map[string]*model.Position, len(positions))
	for i := range positions {
		p := positions[i]
		t.positions[p.Symbol] = &p
	}
	t.lastUpdated = time.Now()
	t.mu.Unlock()
	t.logger.Info("positions loaded from store", "count", len(positions))
	return nil
}

// ApplyFill folds one fill into the position for the order's symbol.
// BUY averages into the position; SELL reduces it, deleting at zero.
// A SELL against no position is logged and dropped; this core never
// goes short.
func (t *Tracker) ApplyFill(ctx context.Context, symbol string, side model.Side, quantity, price int64) error {
	t.mu.Lock()
	pos, exists := t.positions[symbol]
	fillQty := decimal.NewFromInt(quantity)
	fillPrice := decimal.NewFromInt(price)

	var toDelete bool
	switch side {
	case model.SideBuy:
		if exists {
			oldQty := decimal.NewFromInt(pos.Quantity)
			newQty := pos.Quantity + quantity
			pos.AvgPrice = pos.AvgPrice.Mul(oldQty).Add(fillPrice.Mul(fillQty)).
				Div(decimal.NewFromInt(newQty))
			pos.Quantity = newQty
		} else {
			pos = &model.Position{
				Symbol:   symbol,
				Quantity: quantity,
				AvgPrice: fillPrice,
			}
			t.positions[symbol] = pos
		}
		pos.CurrentPrice = price
		pos.UpdatedAt = time.Now()

	case model.SideSell:
		if !exists {
			t.mu.Unlock()
			t.logger.Warn("sell fill with no position", "symbol", symbol, "quantity", quantity)
			return nil
		}
		pos.Quantity -= quantity
		pos.CurrentPrice = price
		pos.UpdatedAt = time.Now()
		if pos.Quantity <= 0 {
			delete(t.positions, symbol)
			toDelete = true
		}

	default:
		t.mu.Unlock()
		return fmt.Errorf("unknown side %q for fill on %s", side, symbol)
	}

	t.recalcLocked()
	saved := *pos
	t.mu.Unlock()

	if toDelete {
		if err := t.store.DeletePosition(ctx, symbol); err != nil {
			return fmt.Errorf("delete position %s: %w", symbol, err)
		}
		t.logger.Info("position closed", "symbol", symbol)
		return nil
	}
	if err := t.store.SavePosition(ctx, &saved); err != nil {
		return fmt.Errorf("persist position %s: %w", symbol, err)
	}
	t.logger.Info("position updated",
		"symbol", symbol, "quantity", saved.Quantity, "avg_price", saved.AvgPrice)
	return nil
}

// SyncWithBroker replaces local state with the broker's view. Symbols
// the broker does not report are removed locally and from the store.
func (t *Tracker) SyncWithBroker(ctx context.Context, positions []broker.Position, balance broker.Balance) error {
	t.mu.Lock()
	brokerSet := make(map[string]bool, len(positions))
	fresh := make(map[string]*model.Position, len(positions))
	for _, bp := range positions {
		brokerSet[bp.Symbol] = true
		fresh[bp.Symbol] = &model.Position{
			Symbol:        bp.Symbol,
			Quantity:      bp.Quantity,
			AvgPrice:      bp.AvgPrice,
			CurrentPrice:  bp.CurrentPrice,
			UnrealizedPnL: bp.UnrealizedPnL,
			UpdatedAt:     time.Now(),
		}
	}

	var removed []string
	for sym := range t.positions {
		if !brokerSet[sym] {
			removed = append(removed, sym)
		}
	}
	t.positions = fresh
	t.cash = balance.AvailableCash
	t.totalEquity = balance.TotalEquity
	if t.dailyStartEquity.IsZero() {
		t.dailyStartEquity = balance.TotalEquity
	}
	t.lastUpdated = time.Now()
	toSave := make([]model.Position, 0, len(fresh))
	for _, p := range fresh {
		toSave = append(toSave, *p)
	}
	t.mu.Unlock()

	for _, sym := range removed {
		if err := t.store.DeletePosition(ctx, sym); err != nil {
			return fmt.Errorf("remove stale position %s: %w", sym, err)
		}
	}
	for i := range toSave {
		if err := t.store.SavePosition(ctx, &toSave[i]); err != nil {
			return fmt.Errorf("persist synced position %s: %w", toSave[i].Symbol, err)
		}
	}
	t.logger.Info("portfolio synced with broker",
		"positions", len(toSave), "removed", len(removed), "equity", balance.TotalEquity)
	return nil
}

// UpdatePrice refreshes the mark price used for market value and
// unrealized PnL. Symbols without a position are ignored.
func (t *Tracker) UpdatePrice(symbol string, price int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	qty := decimal.NewFromInt(pos.Quantity)
	pos.UnrealizedPnL = decimal.NewFromInt(price).Sub(pos.AvgPrice).Mul(qty)
	t.recalcLocked()
}

// recalcLocked refreshes equity from cash plus marked positions. Daily
// PnL is equity drift since the session's first sync; best effort when
// marks are stale. Caller holds mu.
func (t *Tracker) recalcLocked() {
	value := decimal.Zero
	for _, p := range t.positions {
		value = value.Add(p.MarketValue())
	}
	if !t.cash.IsZero() || len(t.positions) > 0 {
		t.totalEquity = t.cash.Add(value)
	}
	t.lastUpdated = time.Now()
}

// Snapshot returns a copy of the portfolio.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	positions := make(map[string]model.Position, len(t.positions))
	for sym, p := range t.positions {
		positions[sym] = *p
	}
	return Snapshot{
		Positions:        positions,
		Cash:             t.cash,
		TotalEquity:      t.totalEquity,
		DailyPnL:         t.totalEquity.Sub(t.dailyStartEquity),
		DailyStartEquity: t.dailyStartEquity,
		LastUpdated:      t.lastUpdated,
	}
}

// ResetDailyPnL rebases daily PnL on the current equity. Called when a
// new trading session opens.
func (t *Tracker) ResetDailyPnL() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dailyStartEquity = t.totalEquity
}

// CalculateDailyPnL returns equity drift since the session rebase. Not
// invoked automatically; the daily loss check uses whatever the last
// recalc produced.
func (t *Tracker) CalculateDailyPnL() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalEquity.Sub(t.dailyStartEquity)
}

// Position returns a copy of one position.
func (t *Tracker) Position(symbol string) (model.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}
