package broker

import "fmt"

// Adapters normalize their native error codes onto these types so the
// core never sees wire-level codes. Callers match with errors.As.

// OrderRejectedError means the broker refused the order.
type OrderRejectedError struct {
	Code    string
	Message string
	OrderID string
}

func (e *OrderRejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("order rejected [%s]: %s", e.Code, e.Message)
	}
	return "order rejected: " + e.Message
}

// InsufficientFundsError means there is not enough cash or margin.
type InsufficientFundsError struct {
	Message string
}

func (e *InsufficientFundsError) Error() string {
	return "insufficient funds: " + e.Message
}

// RateLimitError means the adapter's request budget is exhausted.
type RateLimitError struct {
	Message      string
	RetryAfterMs int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (retry after %dms): %s", e.RetryAfterMs, e.Message)
}

// ConnectionLostError means the broker session dropped.
type ConnectionLostError struct {
	Message string
}

func (e *ConnectionLostError) Error() string {
	return "broker connection lost: " + e.Message
}

// SymbolNotFoundError means the symbol is unknown or not tradeable.
type SymbolNotFoundError struct {
	Symbol string
}

func (e *SymbolNotFoundError) Error() string {
	return "symbol not found: " + e.Symbol
}

// MarketClosedError means the venue is not accepting orders.
type MarketClosedError struct {
	Message string
}

func (e *MarketClosedError) Error() string {
	return "market closed: " + e.Message
}
