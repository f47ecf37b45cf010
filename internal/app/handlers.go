package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"krader/internal/events"
	"krader/internal/model"
	"krader/internal/risk"
	"krader/internal/store"
	"krader/internal/strategy"
)

const handlerTimeout = 10 * time.Second

// subscribeHandlers registers every event-bus handler. Handler errors
// are logged by the bus; nothing here stops the dispatcher.
func (a *App) subscribeHandlers() {
	a.bus.Subscribe(events.KindMarket, a.onMarketEvent)
	a.bus.Subscribe(events.KindSignal, a.onSignalEvent)
	a.bus.Subscribe(events.KindFill, a.onFillForPortfolio)
	a.bus.Subscribe(events.KindFill, a.onFillForStrategies)
	a.bus.Subscribe(events.KindOrder, a.onOrderEvent)
	a.bus.Subscribe(events.KindError, a.onErrorEvent)
	a.bus.Subscribe(events.KindControl, func(e events.Event) error {
		a.notifier.HandleControlEvent(e.(events.ControlEvent))
		return nil
	})
}

// onMarketEvent marks positions on ticks and drives the strategies on
// closed candles. Ticks never generate signals directly.
func (a *App) onMarketEvent(e events.Event) error {
	me := e.(events.MarketEvent)

	if me.EventType == events.MarketTick && me.Tick != nil {
		a.mu.Lock()
		a.lastTicks[me.Symbol] = *me.Tick
		a.mu.Unlock()
		a.tracker.UpdatePrice(me.Symbol, me.Tick.Price)
		if a.metrics != nil {
			a.metrics.TicksTotal.Inc()
		}
		if a.health != nil {
			a.health.SetLastTickTime(me.Tick.Timestamp)
		}
		return nil
	}

	if me.EventType != events.MarketCandle || me.Candle == nil {
		return nil
	}
	if a.metrics != nil {
		a.metrics.CandlesTotal.WithLabelValues(string(me.Candle.Timeframe)).Inc()
	}
	return a.runStrategies(me.Symbol)
}

// runStrategies builds the market snapshot and trading context for one
// symbol and invokes every strategy whose symbol set permits it. A
// strategy failure counts toward the error-rate kill switch.
func (a *App) runStrategies(symbol string) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	historical := make(map[model.Timeframe][]model.Candle, len(a.timeframes))
	for _, tf := range a.timeframes {
		candles, err := a.marketSvc.HistoricalCandles(ctx, symbol, tf, 250)
		if err != nil {
			return fmt.Errorf("load history %s %s: %w", symbol, tf, err)
		}
		historical[tf] = candles
	}

	a.mu.Lock()
	var lastTick *model.Tick
	if t, ok := a.lastTicks[symbol]; ok {
		tick := t
		lastTick = &tick
	}
	universeList := make([]string, 0, len(a.universeSymbols))
	for sym := range a.universeSymbols {
		universeList = append(universeList, sym)
	}
	dailyTrades := a.dailyTrades
	a.mu.Unlock()

	snap := strategy.Snapshot{
		Symbol:     symbol,
		Timestamp:  time.Now(),
		LastTick:   lastTick,
		Current:    a.marketSvc.CurrentCandles(symbol),
		Historical: historical,
	}
	sctx := strategy.Context{
		Portfolio:        a.tracker.Snapshot(),
		ActiveOrderCount: a.oms.ActiveOrderCount(),
		DailyTradesCount: dailyTrades,
		IsMarketOpen:     a.validator.IsMarketOpen(time.Now()),
		Metadata:         map[string]any{"universe": universeList},
	}

	for _, s := range a.strategies {
		if !strategyWants(s, symbol) {
			continue
		}
		signals, err := s.OnMarketData(snap, sctx)
		if err != nil {
			a.logger.Error("strategy failed", "strategy", s.Name(), "symbol", symbol, "error", err)
			if a.control.RecordError() {
				a.control.HandleRepeatedErrors(ctx)
			}
			continue
		}
		for _, sig := range signals {
			if a.metrics != nil {
				a.metrics.SignalsTotal.WithLabelValues(sig.StrategyName, string(sig.Action)).Inc()
			}
			a.bus.Publish(events.SignalEvent{
				SignalID:          sig.SignalID,
				StrategyName:      sig.StrategyName,
				Symbol:            sig.Symbol,
				Action:            sig.Action,
				Confidence:        sig.Confidence,
				Reason:            sig.Reason,
				SuggestedQuantity: sig.SuggestedQuantity,
				Metadata:          sig.Metadata,
				Timestamp:         sig.Timestamp,
			})
		}
	}
	return nil
}

func strategyWants(s strategy.Strategy, symbol string) bool {
	symbols := s.Symbols()
	if len(symbols) == 0 {
		return true
	}
	for _, sym := range symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// onSignalEvent persists the signal, runs risk validation, and forwards
// approvals to the OMS. HOLD signals stop after persistence.
func (a *App) onSignalEvent(e events.Event) error {
	se := e.(events.SignalEvent)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	sig := &model.Signal{
		SignalID:          se.SignalID,
		StrategyName:      se.StrategyName,
		Symbol:            se.Symbol,
		Action:            se.Action,
		Confidence:        se.Confidence,
		Reason:            se.Reason,
		SuggestedQuantity: se.SuggestedQuantity,
		Metadata:          se.Metadata,
		Timestamp:         se.Timestamp,
	}
	if err := a.store.SaveSignal(ctx, sig); err != nil {
		return err
	}
	if sig.Action == model.ActionHold {
		return nil
	}
	if a.control.IsPaused() {
		a.logger.Debug("signal skipped while paused", "signal_id", sig.SignalID)
		return nil
	}

	price := a.currentPrice(sig.Symbol)
	result := a.validator.ValidateSignal(sig, a.tracker.Snapshot(), price,
		risk.Context{DailyTradesCount: a.DailyTrades()})
	if !result.Approved {
		a.logger.Info("signal rejected",
			"signal_id", sig.SignalID, "symbol", sig.Symbol,
			"action", sig.Action, "reason", result.RejectReason)
		if a.metrics != nil {
			a.metrics.RejectionsTotal.WithLabelValues(rejectionClass(result.RejectReason)).Inc()
		}
		return nil
	}

	order, err := a.oms.SubmitSignal(ctx, sig, result.ApprovedQuantity, 0)
	if err != nil {
		return fmt.Errorf("submit signal %s: %w", sig.SignalID, err)
	}
	a.mu.Lock()
	a.dailyTrades++
	a.mu.Unlock()
	a.logger.Info("signal submitted",
		"signal_id", sig.SignalID, "order_id", order.OrderID,
		"quantity", result.ApprovedQuantity)
	return nil
}

// currentPrice reads the last trade price from the in-progress 1m
// candle, falling back to the last tick.
func (a *App) currentPrice(symbol string) int64 {
	if candle, ok := a.marketSvc.CurrentCandles(symbol)[model.TF1m]; ok {
		return candle.Close
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if tick, ok := a.lastTicks[symbol]; ok {
		return tick.Price
	}
	return 0
}

// onFillForPortfolio folds a fill into the portfolio. The OMS persists
// the order before publishing FillEvent, so the store read here always
// sees the updated order.
func (a *App) onFillForPortfolio(e events.Event) error {
	fe := e.(events.FillEvent)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	order, err := a.store.Order(ctx, fe.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("fill for unknown order", "order_id", fe.OrderID)
			return nil
		}
		return err
	}
	if a.metrics != nil {
		a.metrics.FillsTotal.Inc()
	}
	a.tradeLog.Info("fill",
		"fill_id", fe.FillID, "order_id", fe.OrderID,
		"symbol", order.Symbol, "side", order.Side,
		"quantity", fe.Quantity, "price", fe.Price)
	return a.tracker.ApplyFill(ctx, order.Symbol, order.Side, fe.Quantity, fe.Price)
}

// onFillForStrategies forwards the fill to each strategy's OnFill.
func (a *App) onFillForStrategies(e events.Event) error {
	fe := e.(events.FillEvent)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	order, err := a.store.Order(ctx, fe.OrderID)
	if err != nil {
		return nil // already logged by the portfolio handler
	}
	for _, s := range a.strategies {
		if strategyWants(s, order.Symbol) {
			s.OnFill(order.Symbol, order.Side, fe.Quantity, fe.Price)
		}
	}
	return nil
}

// onOrderEvent records the order lifecycle in the trades log and keeps
// the notifier informed.
func (a *App) onOrderEvent(e events.Event) error {
	oe := e.(events.OrderEvent)
	a.tradeLog.Info("order",
		"order_id", oe.OrderID, "event", oe.EventType,
		"symbol", oe.Order.Symbol, "side", oe.Order.Side,
		"quantity", oe.Order.Quantity, "filled", oe.Order.FilledQuantity,
		"status", oe.Order.Status, "reject_reason", oe.Order.RejectReason)
	if a.metrics != nil {
		a.metrics.OrdersTotal.WithLabelValues(string(oe.Order.Side), string(oe.Order.Status)).Inc()
	}
	a.notifier.HandleOrderEvent(oe)
	return nil
}

// onErrorEvent persists the error, notifies, and feeds the error-rate
// kill switch for error and critical severities.
func (a *App) onErrorEvent(e events.Event) error {
	ee := e.(events.ErrorEvent)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if a.metrics != nil {
		a.metrics.ErrorsTotal.WithLabelValues(ee.ErrorType).Inc()
	}
	a.notifier.HandleErrorEvent(ee)

	if err := a.store.LogError(ctx, &model.ErrorRecord{
		RunID:      a.reconciler.RunID(),
		ErrorType:  ee.ErrorType,
		Message:    ee.Message,
		Context:    ee.Context,
		OccurredAt: ee.Timestamp,
	}); err != nil {
		a.logger.Error("persist error record failed", "error", err)
	}

	if ee.Severity == model.SeverityWarning {
		return nil
	}
	if a.control.RecordError() {
		a.control.HandleRepeatedErrors(ctx)
	}
	return nil
}

// onBrokerError republishes asynchronous adapter errors onto the bus.
func (a *App) onBrokerError(errorType, message string, severity model.Severity, context map[string]any) {
	a.bus.Publish(events.ErrorEvent{
		ErrorType: errorType,
		Message:   message,
		Severity:  severity,
		Context:   context,
		Timestamp: time.Now(),
	})
	if severity == model.SeverityCritical && a.health != nil {
		a.health.SetBrokerConnected(a.broker.IsConnected())
	}
}

// rejectionClass buckets free-form reject reasons for metrics labels.
func rejectionClass(reason string) string {
	switch {
	case strings.Contains(reason, "kill switch"):
		return "kill_switch"
	case strings.Contains(reason, "trading hours"):
		return "market_closed"
	case strings.Contains(reason, "daily trade limit"):
		return "trade_limit"
	case strings.Contains(reason, "exposure"):
		return "exposure"
	case strings.Contains(reason, "cash"):
		return "cash"
	case strings.Contains(reason, "daily loss"):
		return "loss_limit"
	case strings.Contains(reason, "position"):
		return "position_cap"
	default:
		return "other"
	}
}
