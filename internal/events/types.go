// Package events provides the typed in-process event bus that connects
// market data, strategies, risk, order management, and control.
package events

import (
	"time"

	"krader/internal/model"
)

// Kind tags each event type for handler registration and dispatch.
type Kind int

const (
	KindMarket Kind = iota
	KindSignal
	KindOrder
	KindFill
	KindControl
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindSignal:
		return "signal"
	case KindOrder:
		return "order"
	case KindFill:
		return "fill"
	case KindControl:
		return "control"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event is implemented by every message carried on the bus.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

// MarketEventType distinguishes tick and candle market events.
type MarketEventType string

const (
	MarketTick   MarketEventType = "tick"
	MarketCandle MarketEventType = "candle"
)

// MarketEvent carries a tick or a closed candle.
type MarketEvent struct {
	Symbol    string
	EventType MarketEventType
	Tick      *model.Tick   // set when EventType == MarketTick
	Candle    *model.Candle // set when EventType == MarketCandle
	Timestamp time.Time
}

func (e MarketEvent) Kind() Kind            { return KindMarket }
func (e MarketEvent) OccurredAt() time.Time { return e.Timestamp }

// SignalEvent carries a strategy signal toward risk validation.
type SignalEvent struct {
	SignalID          string
	StrategyName      string
	Symbol            string
	Action            model.Action
	Confidence        float64
	Reason            string
	SuggestedQuantity int64
	Metadata          map[string]any
	Timestamp         time.Time
}

func (e SignalEvent) Kind() Kind            { return KindSignal }
func (e SignalEvent) OccurredAt() time.Time { return e.Timestamp }

// OrderEventType tags order lifecycle notifications.
type OrderEventType string

const (
	OrderNew      OrderEventType = "new"
	OrderPartial  OrderEventType = "partial"
	OrderFilled   OrderEventType = "filled"
	OrderCanceled OrderEventType = "canceled"
	OrderRejected OrderEventType = "rejected"
)

// OrderEvent carries an order lifecycle notification. Order is a copy so
// handlers never observe later OMS mutations.
type OrderEvent struct {
	OrderID   string
	EventType OrderEventType
	Order     model.Order
	Timestamp time.Time
}

func (e OrderEvent) Kind() Kind            { return KindOrder }
func (e OrderEvent) OccurredAt() time.Time { return e.Timestamp }

// FillEvent notifies subscribers of an applied fill. The OMS persists the
// fill and the updated order before publishing, so handlers can read
// order metadata from the store.
type FillEvent struct {
	FillID    string
	OrderID   string
	Quantity  int64
	Price     int64
	Timestamp time.Time
}

func (e FillEvent) Kind() Kind            { return KindFill }
func (e FillEvent) OccurredAt() time.Time { return e.Timestamp }

// ControlCommand is a system control verb.
type ControlCommand string

const (
	CommandPause    ControlCommand = "pause"
	CommandResume   ControlCommand = "resume"
	CommandShutdown ControlCommand = "shutdown"
	CommandKill     ControlCommand = "kill"
)

// ControlEvent carries a control plane command.
type ControlEvent struct {
	Command   ControlCommand
	Timestamp time.Time
}

func (e ControlEvent) Kind() Kind            { return KindControl }
func (e ControlEvent) OccurredAt() time.Time { return e.Timestamp }

// ErrorEvent reports a non-fatal error to subscribers (notifier, control).
type ErrorEvent struct {
	ErrorType string
	Message   string
	Severity  model.Severity
	Context   map[string]any
	Timestamp time.Time
}

func (e ErrorEvent) Kind() Kind            { return KindError }
func (e ErrorEvent) OccurredAt() time.Time { return e.Timestamp }
