package model

import (
	"errors"
	"time"
)

// Tick represents a single market data tick from the broker feed.
// Price is stored as int64 in won (KRW has no sub-unit) to avoid float drift.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     int64     `json:"price"`  // won
	Volume    int64     `json:"volume"` // last traded quantity
	Timestamp time.Time `json:"timestamp"`
}

var (
	ErrInvalidTickPrice  = errors.New("tick price must be positive")
	ErrInvalidTickVolume = errors.New("tick volume cannot be negative")
)

// NewTick validates and builds a Tick. Rejects price <= 0 and volume < 0
// at the boundary so bad broker data never enters the pipeline.
func NewTick(symbol string, price, volume int64, ts time.Time) (Tick, error) {
	if price <= 0 {
		return Tick{}, ErrInvalidTickPrice
	}
	if volume < 0 {
		return Tick{}, ErrInvalidTickVolume
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return Tick{Symbol: symbol, Price: price, Volume: volume, Timestamp: ts}, nil
}
