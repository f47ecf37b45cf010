package events

import (
	"log/slog"
	"sync"
)

// Handler processes one event. Handlers for a single event run
// concurrently with each other; an error is logged and does not affect
// other handlers or the dispatcher.
type Handler func(Event) error

// Subscription identifies a registered handler so it can be removed.
// Returned by Subscribe because function values are not comparable.
type Subscription struct {
	kind    Kind
	handler Handler
}

// Bus is a typed pub/sub bus with a single dispatcher goroutine. The
// queue is unbounded and FIFO: events of one kind are dispatched in
// publish order, and the dispatcher joins all handlers of an event
// before taking the next one.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	handlers map[Kind][]*Subscription
	running  bool
	pending  int // queued + in-flight events, for WaitEmpty
	done     chan struct{}

	logger *slog.Logger
}

// NewBus creates a bus. Call Start before publishing.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[Kind][]*Subscription),
		logger:   logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscribe registers a handler for an event kind and returns the
// subscription token used for Unsubscribe.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	sub := &Subscription{kind: kind, handler: handler}
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[sub.kind]
	for i, s := range subs {
		if s == sub {
			b.handlers[sub.kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues an event. The queue is unbounded, so Publish never
// blocks and never drops while the bus is running. Publishing to a
// stopped bus is a logged no-op.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.logger.Warn("event published to stopped bus", "kind", event.Kind().String())
		return
	}
	b.queue = append(b.queue, event)
	b.pending++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Start launches the dispatcher goroutine. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.dispatchLoop()
	b.logger.Info("event bus started")
}

// Stop halts the dispatcher and drains every already-queued event
// synchronously before returning.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cond.Broadcast()
	done := b.done
	b.mu.Unlock()

	<-done

	// Drain the remainder on the caller's goroutine.
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			break
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.process(event)

		b.mu.Lock()
		b.pending--
		b.cond.Broadcast()
		b.mu.Unlock()
	}
	b.logger.Info("event bus stopped")
}

// QueueLen reports the number of events queued or in flight.
func (b *Bus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// WaitEmpty blocks until every published event has been fully handled.
func (b *Bus) WaitEmpty() {
	b.mu.Lock()
	for b.pending > 0 {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for b.running && len(b.queue) == 0 {
			b.cond.Wait()
		}
		if !b.running {
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.process(event)

		b.mu.Lock()
		b.pending--
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// process invokes every handler for the event concurrently and waits
// for all of them. A panic or error in one handler never reaches the
// others or the dispatcher.
func (b *Bus) process(event Event) {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.handlers[event.Kind()]))
	copy(subs, b.handlers[event.Kind()])
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"kind", event.Kind().String(), "panic", r)
				}
			}()
			if err := s.handler(event); err != nil {
				b.logger.Error("event handler failed",
					"kind", event.Kind().String(), "error", err)
			}
		}(sub)
	}
	wg.Wait()
}
