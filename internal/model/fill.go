package model

import "time"

// Fill is a partial or complete execution of an order. FillID follows the
// pattern "FILL-{order_id}-{seq}" where seq is 1-based per order.
type Fill struct {
	FillID       string    `json:"fill_id"`
	OrderID      string    `json:"order_id"`
	BrokerFillID string    `json:"broker_fill_id,omitempty"`
	Quantity     int64     `json:"quantity"` // > 0
	Price        int64     `json:"price"`    // won, > 0
	Commission   int64     `json:"commission,omitempty"`
	FilledAt     time.Time `json:"filled_at"`
}
