// Package oms manages the order lifecycle: idempotent submission,
// fill application, cancellation, and the active order set. The OMS is
// the sole writer of order state; every mutation is persisted before
// the corresponding event is published.
package oms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"krader/internal/broker"
	"krader/internal/events"
	"krader/internal/model"
	"krader/internal/store"
)

// ErrPaused is returned when a signal reaches a paused OMS.
var ErrPaused = errors.New("oms: paused, rejecting new signals")

// OMS owns active (non-terminal) orders in memory; the store is the
// durable truth.
type OMS struct {
	broker broker.Broker
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger

	mu          sync.Mutex
	paused      bool
	active      map[string]*model.Order // order_id -> order
	brokerIndex map[string]string       // broker_order_id -> order_id
}

// New creates an OMS. Call LoadActiveOrders before processing fills so
// reconnect-time fills find their orders.
func New(b broker.Broker, st *store.Store, bus *events.Bus, logger *slog.Logger) *OMS {
	if logger == nil {
		logger = slog.Default()
	}
	return &OMS{
		broker:      b,
		store:       st,
		bus:         bus,
		logger:      logger,
		active:      make(map[string]*model.Order),
		brokerIndex: make(map[string]string),
	}
}

// LoadActiveOrders pulls every non-terminal order from the store into
// memory. Used at startup before reconciliation.
func (o *OMS) LoadActiveOrders(ctx context.Context) (int, error) {
	orders, err := o.store.OpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active orders: %w", err)
	}
	o.mu.Lock()
	for _, ord := range orders {
		o.track(ord)
	}
	o.mu.Unlock()
	o.logger.Info("active orders loaded", "count", len(orders))
	return len(orders), nil
}

// track registers an order in the in-memory indexes. Caller holds mu.
func (o *OMS) track(ord *model.Order) {
	o.active[ord.OrderID] = ord
	if ord.BrokerOrderID != "" {
		o.brokerIndex[ord.BrokerOrderID] = ord.OrderID
	}
}

// untrack removes a terminal order from the indexes. Caller holds mu.
func (o *OMS) untrack(ord *model.Order) {
	delete(o.active, ord.OrderID)
	if ord.BrokerOrderID != "" {
		delete(o.brokerIndex, ord.BrokerOrderID)
	}
}

// Pause stops the OMS from accepting new signals. Working orders are
// unaffected.
func (o *OMS) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	o.logger.Warn("oms paused")
}

// Resume re-enables signal acceptance.
func (o *OMS) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.logger.Info("oms resumed")
}

// IsPaused reports whether new signals are being rejected.
func (o *OMS) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// ActiveOrders returns copies of every non-terminal order.
func (o *OMS) ActiveOrders() []model.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.Order, 0, len(o.active))
	for _, ord := range o.active {
		out = append(out, *ord)
	}
	return out
}

// ActiveOrderCount returns the number of working orders.
func (o *OMS) ActiveOrderCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// SubmitSignal turns an approved signal into an order. Submission is
// idempotent: resubmitting the same signal within the idempotency
// bucket returns the already-working order instead of placing a new one.
func (o *OMS) SubmitSignal(ctx context.Context, sig *model.Signal, quantity, price int64) (*model.Order, error) {
	if o.IsPaused() {
		return nil, ErrPaused
	}
	if sig.Action != model.ActionBuy && sig.Action != model.ActionSell {
		return nil, fmt.Errorf("signal %s action %s does not generate orders", sig.SignalID, sig.Action)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("signal %s quantity must be positive, got %d", sig.SignalID, quantity)
	}

	orderID := GenerateOrderID(sig.SignalID, sig.Symbol, sig.Action, quantity, sig.Timestamp)

	existing, err := o.lookupOrder(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("order lookup %s: %w", orderID, err)
	}
	if existing != nil {
		if !existing.IsTerminal() {
			o.logger.Info("duplicate submission, returning existing order",
				"order_id", orderID, "signal_id", sig.SignalID)
			return existing, nil
		}
		// Terminal order under the same key: this is a new attempt.
		orderID = orderID + "-" + uuid.NewString()[:8]
	}

	side := model.SideBuy
	if sig.Action == model.ActionSell {
		side = model.SideSell
	}
	order := model.NewOrder(orderID, sig.SignalID, sig.Symbol, side, quantity, price)

	if err := o.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order %s: %w", orderID, err)
	}
	o.publishOrderEvent(order, events.OrderNew)

	brokerOrderID, err := o.broker.PlaceOrder(ctx, order)
	if err != nil {
		if rejErr := order.MarkRejected(err.Error()); rejErr != nil {
			o.logger.Error("reject transition failed", "order_id", orderID, "error", rejErr)
		}
		if upErr := o.store.UpdateOrder(ctx, order); upErr != nil {
			o.logger.Error("persist rejected order failed", "order_id", orderID, "error", upErr)
		}
		o.publishOrderEvent(order, events.OrderRejected)
		return order, fmt.Errorf("place order %s: %w", orderID, err)
	}

	if err := order.MarkSubmitted(brokerOrderID); err != nil {
		return order, fmt.Errorf("submit transition %s: %w", orderID, err)
	}
	if err := o.store.UpdateOrder(ctx, order); err != nil {
		return order, fmt.Errorf("persist submitted order %s: %w", orderID, err)
	}

	o.mu.Lock()
	o.track(order)
	o.mu.Unlock()

	o.logger.Info("order submitted",
		"order_id", orderID, "broker_order_id", brokerOrderID,
		"symbol", order.Symbol, "side", order.Side, "quantity", quantity, "price", price)
	return order, nil
}

// lookupOrder checks memory first, then the store.
func (o *OMS) lookupOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o.mu.Lock()
	if ord, ok := o.active[orderID]; ok {
		o.mu.Unlock()
		return ord, nil
	}
	o.mu.Unlock()
	ord, err := o.store.Order(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return ord, err
}

// HandleFill applies a broker execution report. The fill and the
// updated order are persisted before FillEvent and OrderEvent are
// published, so subscribers always see durable state.
func (o *OMS) HandleFill(ctx context.Context, brokerOrderID string, quantity, price int64, brokerFillID string, commission int64, filledAt time.Time) error {
	order, err := o.orderByBrokerID(ctx, brokerOrderID)
	if err != nil {
		return fmt.Errorf("fill for unknown broker order %s: %w", brokerOrderID, err)
	}
	if quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d (order %s)", quantity, order.OrderID)
	}
	if quantity > order.RemainingQuantity() {
		return fmt.Errorf("fill quantity %d exceeds remaining %d (order %s)",
			quantity, order.RemainingQuantity(), order.OrderID)
	}

	existing, err := o.store.FillsForOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("count fills for %s: %w", order.OrderID, err)
	}
	fill := &model.Fill{
		FillID:       fmt.Sprintf("FILL-%s-%d", order.OrderID, len(existing)+1),
		OrderID:      order.OrderID,
		BrokerFillID: brokerFillID,
		Quantity:     quantity,
		Price:        price,
		Commission:   commission,
		FilledAt:     filledAt,
	}
	if err := o.store.SaveFill(ctx, fill); err != nil {
		return fmt.Errorf("persist fill %s: %w", fill.FillID, err)
	}

	if err := order.ApplyFill(quantity); err != nil {
		return fmt.Errorf("apply fill to %s: %w", order.OrderID, err)
	}
	if err := o.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist filled order %s: %w", order.OrderID, err)
	}

	if order.IsTerminal() {
		o.mu.Lock()
		o.untrack(order)
		o.mu.Unlock()
	}

	o.bus.Publish(events.FillEvent{
		FillID:    fill.FillID,
		OrderID:   fill.OrderID,
		Quantity:  fill.Quantity,
		Price:     fill.Price,
		Timestamp: fill.FilledAt,
	})
	eventType := events.OrderPartial
	if order.Status == model.OrderFilled {
		eventType = events.OrderFilled
	}
	o.publishOrderEvent(order, eventType)

	o.logger.Info("fill applied",
		"fill_id", fill.FillID, "order_id", order.OrderID,
		"quantity", quantity, "price", price, "status", order.Status)
	return nil
}

// orderByBrokerID checks the in-memory index first, then the store.
func (o *OMS) orderByBrokerID(ctx context.Context, brokerOrderID string) (*model.Order, error) {
	o.mu.Lock()
	if orderID, ok := o.brokerIndex[brokerOrderID]; ok {
		if ord, ok := o.active[orderID]; ok {
			o.mu.Unlock()
			return ord, nil
		}
	}
	o.mu.Unlock()
	return o.store.OrderByBrokerID(ctx, brokerOrderID)
}

// CancelOrder requests cancellation of a working order. On broker
// confirmation the order moves to CANCELED.
func (o *OMS) CancelOrder(ctx context.Context, orderID string) error {
	order, err := o.lookupOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	if order.IsTerminal() {
		return fmt.Errorf("cancel %s: order already %s", orderID, order.Status)
	}
	if order.BrokerOrderID == "" {
		return fmt.Errorf("cancel %s: order not yet submitted", orderID)
	}

	ok, err := o.broker.CancelOrder(ctx, order.BrokerOrderID)
	if err != nil {
		return fmt.Errorf("broker cancel %s: %w", orderID, err)
	}
	if !ok {
		return fmt.Errorf("broker declined cancel for %s", orderID)
	}

	if err := order.MarkCanceled(); err != nil {
		return fmt.Errorf("cancel transition %s: %w", orderID, err)
	}
	if err := o.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist canceled order %s: %w", orderID, err)
	}

	o.mu.Lock()
	o.untrack(order)
	o.mu.Unlock()

	o.publishOrderEvent(order, events.OrderCanceled)
	o.logger.Info("order canceled", "order_id", orderID)
	return nil
}

// HandleCancel records a broker-initiated cancellation (expiry, venue
// action) for a working order. Terminal orders are left untouched.
func (o *OMS) HandleCancel(ctx context.Context, brokerOrderID string) error {
	order, err := o.orderByBrokerID(ctx, brokerOrderID)
	if err != nil {
		return fmt.Errorf("cancel notice for broker order %s: %w", brokerOrderID, err)
	}
	if order.IsTerminal() {
		o.logger.Warn("cancel notice for terminal order",
			"order_id", order.OrderID, "status", order.Status)
		return nil
	}
	if err := order.MarkCanceled(); err != nil {
		return fmt.Errorf("cancel transition %s: %w", order.OrderID, err)
	}
	if err := o.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist canceled order %s: %w", order.OrderID, err)
	}

	o.mu.Lock()
	o.untrack(order)
	o.mu.Unlock()

	o.publishOrderEvent(order, events.OrderCanceled)
	o.logger.Info("order canceled by broker", "order_id", order.OrderID)
	return nil
}

// CancelAll cancels every working order and returns how many cancel
// requests were issued. Individual failures are logged and skipped.
func (o *OMS) CancelAll(ctx context.Context) int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	requested := 0
	for _, id := range ids {
		if err := o.CancelOrder(ctx, id); err != nil {
			o.logger.Error("cancel all: order cancel failed", "order_id", id, "error", err)
			continue
		}
		requested++
	}
	o.logger.Info("cancel all complete", "requested", requested, "total", len(ids))
	return requested
}

func (o *OMS) publishOrderEvent(order *model.Order, eventType events.OrderEventType) {
	o.bus.Publish(events.OrderEvent{
		OrderID:   order.OrderID,
		EventType: eventType,
		Order:     *order,
		Timestamp: time.Now(),
	})
}
