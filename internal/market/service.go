package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"krader/internal/broker"
	"krader/internal/events"
	"krader/internal/model"
	"krader/internal/store"
	"krader/internal/streams"
)

// Service owns the subscribed symbol set. Ticks from the broker are
// published as market events and folded into the aggregator; closed
// candles are persisted, published, and optionally streamed to Redis.
type Service struct {
	broker    broker.Broker
	bus       *events.Bus
	store     *store.Store
	publisher *streams.Publisher // nil when streaming is disabled
	logger    *slog.Logger

	aggregator *Aggregator

	mu         sync.Mutex
	subscribed map[string]bool
}

// NewService wires the market data service. publisher may be nil.
func NewService(b broker.Broker, bus *events.Bus, st *store.Store, publisher *streams.Publisher, timeframes []model.Timeframe, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		broker:     b,
		bus:        bus,
		store:      st,
		publisher:  publisher,
		logger:     logger,
		subscribed: make(map[string]bool),
	}
	s.aggregator = NewAggregator(timeframes, s.onCandleClose)
	return s
}

// Subscribe adds symbols to the live feed. Only the delta against the
// current set is passed to the broker.
func (s *Service) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	var added []string
	for _, sym := range symbols {
		if !s.subscribed[sym] {
			s.subscribed[sym] = true
			added = append(added, sym)
		}
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	if err := s.broker.SubscribeMarketData(ctx, added, s.onTick); err != nil {
		s.mu.Lock()
		for _, sym := range added {
			delete(s.subscribed, sym)
		}
		s.mu.Unlock()
		return err
	}
	s.logger.Info("subscribed market data", "symbols", added)
	return nil
}

// Unsubscribe removes symbols from the live feed and drops their
// in-progress candles.
func (s *Service) Unsubscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	var removed []string
	for _, sym := range symbols {
		if s.subscribed[sym] {
			delete(s.subscribed, sym)
			removed = append(removed, sym)
		}
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	s.aggregator.Clear(removed...)
	if err := s.broker.UnsubscribeMarketData(ctx, removed); err != nil {
		return err
	}
	s.logger.Info("unsubscribed market data", "symbols", removed)
	return nil
}

// Subscribed returns the currently subscribed symbols.
func (s *Service) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		out = append(out, sym)
	}
	return out
}

// CurrentCandles returns the in-progress candles of one symbol by
// timeframe.
func (s *Service) CurrentCandles(symbol string) map[model.Timeframe]model.Candle {
	return s.aggregator.CurrentForSymbol(symbol)
}

// HistoricalCandles returns up to limit closed candles, most recent first.
func (s *Service) HistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	return s.store.Candles(ctx, symbol, tf, limit)
}

// Shutdown unsubscribes everything and flushes the aggregator so
// partial candles are persisted.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	s.subscribed = make(map[string]bool)
	s.mu.Unlock()

	var firstErr error
	if len(symbols) > 0 {
		if err := s.broker.UnsubscribeMarketData(ctx, symbols); err != nil {
			firstErr = err
		}
	}
	s.aggregator.FlushAll()
	s.logger.Info("market data service stopped", "symbols", len(symbols))
	return firstErr
}

func (s *Service) onTick(tick model.Tick) {
	s.bus.Publish(events.MarketEvent{
		Symbol:    tick.Symbol,
		EventType: events.MarketTick,
		Tick:      &tick,
		Timestamp: tick.Timestamp,
	})
	s.aggregator.OnTick(tick)
}

func (s *Service) onCandleClose(candle model.Candle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Persist before publishing so candle event handlers can read the
	// closed candle from the store.
	if err := s.store.SaveCandle(ctx, &candle); err != nil {
		s.logger.Error("persist candle failed", "key", candle.Key(), "error", err)
	}
	if s.publisher != nil {
		s.publisher.PublishCandle(ctx, &candle)
	}
	s.bus.Publish(events.MarketEvent{
		Symbol:    candle.Symbol,
		EventType: events.MarketCandle,
		Candle:    &candle,
		Timestamp: candle.OpenTime,
	})
}
