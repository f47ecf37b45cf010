package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Candle represents an OHLCV bar for a single symbol and timeframe.
// All prices are in won (int64).
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"` // bucket start, timeframe-aligned
	Open      int64     `json:"open"`
	High      int64     `json:"high"`
	Low       int64     `json:"low"`
	Close     int64     `json:"close"`
	Volume    int64     `json:"volume"` // cumulative quantity in this bucket
}

// CandleFromTick starts a new candle initialized from a single tick.
func CandleFromTick(tick Tick, tf Timeframe, openTime time.Time) *Candle {
	return &Candle{
		Symbol:    tick.Symbol,
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Volume,
	}
}

// Update folds a tick into the candle.
func (c *Candle) Update(tick Tick) error {
	if tick.Symbol != c.Symbol {
		return fmt.Errorf("tick symbol %s does not match candle %s", tick.Symbol, c.Symbol)
	}
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Volume
	return nil
}

// IsBullish reports whether the candle closed above its open.
func (c *Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c *Candle) IsBearish() bool { return c.Close < c.Open }

// BodySize returns the absolute open-to-close range.
func (c *Candle) BodySize() int64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// TotalRange returns the high-to-low range.
func (c *Candle) TotalRange() int64 { return c.High - c.Low }

// Key returns a unique key for this candle's bucket: "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
