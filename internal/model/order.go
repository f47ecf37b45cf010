package model

import (
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is an order lifecycle state.
type OrderStatus string

const (
	OrderPendingNew  OrderStatus = "PENDING_NEW"
	OrderSubmitted   OrderStatus = "SUBMITTED"
	OrderPartialFill OrderStatus = "PARTIAL_FILL"
	OrderFilled      OrderStatus = "FILLED"
	OrderCanceled    OrderStatus = "CANCELED"
	OrderRejected    OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

// IsActive reports whether the order is still working.
func (s OrderStatus) IsActive() bool {
	return s == OrderPendingNew || s == OrderSubmitted || s == OrderPartialFill
}

// validTransitions is the order state machine. PARTIAL_FILL -> PARTIAL_FILL
// is allowed for subsequent partial fills.
var validTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderPendingNew: {
		OrderSubmitted: true,
		OrderRejected:  true,
	},
	OrderSubmitted: {
		OrderPartialFill: true,
		OrderFilled:      true,
		OrderCanceled:    true,
		OrderRejected:    true,
	},
	OrderPartialFill: {
		OrderPartialFill: true,
		OrderFilled:      true,
		OrderCanceled:    true,
	},
	OrderFilled:   {},
	OrderCanceled: {},
	OrderRejected: {},
}

// InvalidTransitionError reports a disallowed order state change.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s (order %s)", e.From, e.To, e.OrderID)
}

// Order represents an order with its state machine. Prices are in won;
// Price is zero for MARKET orders.
type Order struct {
	OrderID        string      `json:"order_id"` // deterministic idempotency key
	SignalID       string      `json:"signal_id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	OrderType      OrderType   `json:"order_type"`
	Quantity       int64       `json:"quantity"`
	FilledQuantity int64       `json:"filled_quantity"`
	Price          int64       `json:"price,omitempty"` // required iff LIMIT
	BrokerOrderID  string      `json:"broker_order_id,omitempty"`
	Status         OrderStatus `json:"status"`
	RejectReason   string      `json:"reject_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewOrder builds a PENDING_NEW order. A non-zero price makes it a
// LIMIT order, otherwise MARKET.
func NewOrder(orderID, signalID, symbol string, side Side, quantity, price int64) *Order {
	typ := OrderTypeMarket
	if price > 0 {
		typ = OrderTypeLimit
	}
	now := time.Now()
	return &Order{
		OrderID:   orderID,
		SignalID:  signalID,
		Symbol:    symbol,
		Side:      side,
		OrderType: typ,
		Quantity:  quantity,
		Price:     price,
		Status:    OrderPendingNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the order is in a terminal state.
func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// IsActive reports whether the order is still working.
func (o *Order) IsActive() bool { return o.Status.IsActive() }

// RemainingQuantity returns the unfilled quantity.
func (o *Order) RemainingQuantity() int64 { return o.Quantity - o.FilledQuantity }

// CanTransitionTo reports whether the state machine permits a move to next.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	return validTransitions[o.Status][next]
}

// TransitionTo moves the order to next, or fails with InvalidTransitionError.
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.CanTransitionTo(next) {
		return &InvalidTransitionError{OrderID: o.OrderID, From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return nil
}

// ApplyFill applies a fill quantity to the order and advances the state
// machine: FILLED once fully filled, PARTIAL_FILL from SUBMITTED.
func (o *Order) ApplyFill(quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d", quantity)
	}
	if quantity > o.RemainingQuantity() {
		return fmt.Errorf("fill quantity %d exceeds remaining %d", quantity, o.RemainingQuantity())
	}

	o.FilledQuantity += quantity
	o.UpdatedAt = time.Now()

	if o.FilledQuantity >= o.Quantity {
		return o.TransitionTo(OrderFilled)
	}
	if o.Status == OrderSubmitted {
		return o.TransitionTo(OrderPartialFill)
	}
	return nil
}

// MarkSubmitted records the broker order ID and moves to SUBMITTED.
func (o *Order) MarkSubmitted(brokerOrderID string) error {
	o.BrokerOrderID = brokerOrderID
	return o.TransitionTo(OrderSubmitted)
}

// MarkRejected records the reject reason and moves to REJECTED.
func (o *Order) MarkRejected(reason string) error {
	o.RejectReason = reason
	return o.TransitionTo(OrderRejected)
}

// MarkCanceled moves the order to CANCELED.
func (o *Order) MarkCanceled() error {
	return o.TransitionTo(OrderCanceled)
}
