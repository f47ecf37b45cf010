// Package broker defines the contract the trading core consumes. The
// concrete brokerage adapter (Kiwoom OpenAPI+ over its COM control) is
// implemented elsewhere; the core only sees this interface and the
// normalized error types. Adapters that run on a non-cooperative message
// pump must marshal callbacks onto ordinary goroutine context before
// invoking them.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"krader/internal/model"
)

// Position is a broker-reported position.
type Position struct {
	Symbol        string
	Quantity      int64
	AvgPrice      decimal.Decimal
	CurrentPrice  int64 // won, 0 if unknown
	UnrealizedPnL decimal.Decimal
}

// Balance is a broker-reported account balance.
type Balance struct {
	TotalEquity   decimal.Decimal
	AvailableCash decimal.Decimal
	MarginUsed    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// OpenOrder is a broker-reported working order.
type OpenOrder struct {
	BrokerOrderID  string
	Symbol         string
	Side           model.Side
	Quantity       int64
	FilledQuantity int64
	Price          int64
}

// TickCallback receives real-time ticks for subscribed symbols.
type TickCallback func(model.Tick)

// ErrorCallback receives asynchronous adapter errors (connection drops,
// bad ticks) for republication as ErrorEvents.
type ErrorCallback func(errorType, message string, severity model.Severity, context map[string]any)

// Broker is the capability surface the core requires from an adapter.
// All blocking operations take a context; rate limiting between requests
// is the adapter's concern and the core never assumes immediate
// completion.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// PlaceOrder submits an order and returns the broker's order ID.
	// Failures are reported as OrderRejectedError, InsufficientFundsError,
	// RateLimitError, or ConnectionLostError.
	PlaceOrder(ctx context.Context, order *model.Order) (string, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
	AmendOrder(ctx context.Context, brokerOrderID string, quantity, price int64) (bool, error)

	FetchPositions(ctx context.Context) ([]Position, error)
	FetchOpenOrders(ctx context.Context) ([]OpenOrder, error)
	FetchBalance(ctx context.Context) (Balance, error)

	SubscribeMarketData(ctx context.Context, symbols []string, cb TickCallback) error
	UnsubscribeMarketData(ctx context.Context, symbols []string) error

	SetErrorCallback(cb ErrorCallback)
}
