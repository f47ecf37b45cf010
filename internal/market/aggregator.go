// Package market owns real-time market data: symbol subscriptions, the
// tick-to-candle aggregator, and publication of market events.
package market

import (
	"sync"

	"krader/internal/model"
)

// CloseFunc receives each candle as it closes.
type CloseFunc func(model.Candle)

// Aggregator builds one in-progress candle per (symbol, timeframe) from
// the tick stream. Candles close when a tick lands in a later bucket or
// on FlushAll; closed candles go to the callback and are not retained.
type Aggregator struct {
	mu         sync.Mutex
	timeframes []model.Timeframe
	current    map[string]*model.Candle // key: symbol|timeframe
	onClose    CloseFunc
}

// NewAggregator creates an aggregator for the given timeframes. onClose
// may be nil; closed candles are then dropped.
func NewAggregator(timeframes []model.Timeframe, onClose CloseFunc) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = model.DefaultTimeframes
	}
	return &Aggregator{
		timeframes: timeframes,
		current:    make(map[string]*model.Candle),
		onClose:    onClose,
	}
}

// OnTick folds a tick into the in-progress candle of every timeframe,
// closing and re-opening candles whose bucket has rolled over.
func (a *Aggregator) OnTick(tick model.Tick) {
	var closed []model.Candle

	a.mu.Lock()
	for _, tf := range a.timeframes {
		key := tick.Symbol + "|" + string(tf)
		openTime := tf.OpenTime(tick.Timestamp)

		cur, ok := a.current[key]
		if !ok {
			a.current[key] = model.CandleFromTick(tick, tf, openTime)
			continue
		}
		if !cur.OpenTime.Equal(openTime) {
			closed = append(closed, *cur)
			a.current[key] = model.CandleFromTick(tick, tf, openTime)
			continue
		}
		cur.Update(tick)
	}
	a.mu.Unlock()

	if a.onClose != nil {
		for _, c := range closed {
			a.onClose(c)
		}
	}
}

// Current returns a copy of the in-progress candle for (symbol, tf).
func (a *Aggregator) Current(symbol string, tf model.Timeframe) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.current[symbol+"|"+string(tf)]
	if !ok {
		return model.Candle{}, false
	}
	return *cur, true
}

// CurrentForSymbol returns the in-progress candles of one symbol keyed
// by timeframe.
func (a *Aggregator) CurrentForSymbol(symbol string) map[model.Timeframe]model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[model.Timeframe]model.Candle)
	for _, tf := range a.timeframes {
		if cur, ok := a.current[symbol+"|"+string(tf)]; ok {
			out[tf] = *cur
		}
	}
	return out
}

// FlushAll closes every in-progress candle and clears state. Used on
// shutdown so partial candles are not lost.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	closed := make([]model.Candle, 0, len(a.current))
	for _, cur := range a.current {
		closed = append(closed, *cur)
	}
	a.current = make(map[string]*model.Candle)
	a.mu.Unlock()

	if a.onClose != nil {
		for _, c := range closed {
			a.onClose(c)
		}
	}
}

// Clear drops in-progress candles for the given symbols without closing
// them. Used when a symbol is unsubscribed.
func (a *Aggregator) Clear(symbols ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sym := range symbols {
		for _, tf := range a.timeframes {
			delete(a.current, sym+"|"+string(tf))
		}
	}
}
