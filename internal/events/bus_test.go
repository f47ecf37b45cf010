package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"krader/internal/model"
)

func tickEvent(symbol string, price int64) MarketEvent {
	return MarketEvent{
		Symbol:    symbol,
		EventType: MarketTick,
		Tick:      &model.Tick{Symbol: symbol, Price: price, Volume: 1, Timestamp: time.Now()},
		Timestamp: time.Now(),
	}
}

func TestBusDispatchOrder(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var got []int64
	bus.Subscribe(KindMarket, func(e Event) error {
		mu.Lock()
		got = append(got, e.(MarketEvent).Tick.Price)
		mu.Unlock()
		return nil
	})

	bus.Start()
	for i := int64(1); i <= 100; i++ {
		bus.Publish(tickEvent("005930", i))
	}
	bus.WaitEmpty()
	bus.Stop()

	if len(got) != 100 {
		t.Fatalf("expected 100 events, got %d", len(got))
	}
	for i, p := range got {
		if p != int64(i+1) {
			t.Fatalf("out of order at %d: got %d", i, p)
		}
	}
}

func TestBusHandlerFailureIsolated(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var okCount int
	bus.Subscribe(KindMarket, func(e Event) error {
		return errors.New("handler error")
	})
	bus.Subscribe(KindMarket, func(e Event) error {
		panic("handler panic")
	})
	bus.Subscribe(KindMarket, func(e Event) error {
		mu.Lock()
		okCount++
		mu.Unlock()
		return nil
	})

	bus.Start()
	bus.Publish(tickEvent("005930", 72000))
	bus.Publish(tickEvent("005930", 72100))
	bus.WaitEmpty()
	bus.Stop()

	if okCount != 2 {
		t.Errorf("healthy handler should see both events, got %d", okCount)
	}
}

func TestBusStopDrainsQueue(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var seen int
	bus.Subscribe(KindMarket, func(e Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	bus.Start()
	for i := 0; i < 50; i++ {
		bus.Publish(tickEvent("005930", int64(i+1)))
	}
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if seen != 50 {
		t.Errorf("stop must drain queued events: saw %d of 50", seen)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var count int
	sub := bus.Subscribe(KindMarket, func(e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	bus.Start()
	bus.Publish(tickEvent("005930", 72000))
	bus.WaitEmpty()
	bus.Unsubscribe(sub)
	bus.Publish(tickEvent("005930", 72100))
	bus.WaitEmpty()
	bus.Stop()

	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBusPublishAfterStopDropped(t *testing.T) {
	bus := NewBus(nil)
	var count int
	var mu sync.Mutex
	bus.Subscribe(KindControl, func(e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	bus.Start()
	bus.Stop()
	bus.Publish(ControlEvent{Command: CommandPause, Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("publish after stop must not dispatch, got %d", count)
	}
}

func TestBusQueueLen(t *testing.T) {
	bus := NewBus(nil)
	release := make(chan struct{})
	bus.Subscribe(KindMarket, func(e Event) error {
		<-release
		return nil
	})

	bus.Start()
	for i := 0; i < 3; i++ {
		bus.Publish(tickEvent("005930", int64(72000+i)))
	}
	if got := bus.QueueLen(); got != 3 {
		t.Errorf("queue depth with blocked handler: got %d, want 3", got)
	}

	close(release)
	bus.WaitEmpty()
	if got := bus.QueueLen(); got != 0 {
		t.Errorf("queue depth after drain: got %d, want 0", got)
	}
	bus.Stop()
}

func TestBusKindsIsolated(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	var market, ctrl int
	bus.Subscribe(KindMarket, func(e Event) error {
		mu.Lock()
		market++
		mu.Unlock()
		return nil
	})
	bus.Subscribe(KindControl, func(e Event) error {
		mu.Lock()
		ctrl++
		mu.Unlock()
		return nil
	})

	bus.Start()
	bus.Publish(tickEvent("005930", 72000))
	bus.Publish(ControlEvent{Command: CommandPause, Timestamp: time.Now()})
	bus.WaitEmpty()
	bus.Stop()

	if market != 1 || ctrl != 1 {
		t.Errorf("cross-kind leakage: market=%d control=%d", market, ctrl)
	}
}
