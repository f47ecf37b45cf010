package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"krader/internal/events"
	"krader/internal/model"
)

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingSender) Send(ctx context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.subjects))
	copy(out, r.subjects)
	return out
}

func newRunningService(t *testing.T) (*Service, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	svc := NewService(sender, nil)
	svc.Start()
	return svc, sender
}

func TestEnqueueDeliversAndStops(t *testing.T) {
	svc, sender := newRunningService(t)

	svc.Enqueue("evt-1", "subject one", "body")
	svc.Enqueue("evt-2", "subject two", "body")
	svc.Stop() // drains the queue before returning

	got := sender.sent()
	if len(got) != 2 {
		t.Fatalf("sent: got %v", got)
	}
	if got[0] != "subject one" || got[1] != "subject two" {
		t.Errorf("order: got %v", got)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	svc, sender := newRunningService(t)

	for i := 0; i < 5; i++ {
		svc.Enqueue("evt-dup", "repeated", "body")
	}
	svc.Stop()

	if got := sender.sent(); len(got) != 1 {
		t.Errorf("duplicate event IDs inside the TTL must collapse: got %v", got)
	}
}

// newIdleService returns a service that accepts Enqueue but has no
// worker draining the queue, so queue and cache state can be inspected.
func newIdleService(queueCap int) *Service {
	svc := NewService(&recordingSender{}, nil)
	svc.queue = make(chan message, queueCap)
	svc.running = true
	return svc
}

func TestEnqueueDedupExpiresAndPrunes(t *testing.T) {
	svc := newIdleService(10)
	base := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	current := base
	svc.now = func() time.Time { return current }

	svc.Enqueue("evt-1", "first", "body")
	svc.Enqueue("evt-1", "first again", "body")
	if len(svc.queue) != 1 {
		t.Fatalf("duplicate inside the TTL must collapse: queue %d", len(svc.queue))
	}

	// Past the TTL the same event ID delivers again and the stale
	// cache entry is gone.
	current = base.Add(dedupTTL)
	svc.Enqueue("evt-2", "second", "body")
	if len(svc.queue) != 2 {
		t.Fatalf("expected 2 queued messages, got %d", len(svc.queue))
	}
	if _, ok := svc.sentCache["evt-1"]; ok {
		t.Error("expired cache entry not pruned")
	}
	svc.Enqueue("evt-1", "first redelivered", "body")
	if len(svc.queue) != 3 {
		t.Errorf("expired event ID must redeliver: queue %d", len(svc.queue))
	}
}

func TestEnqueueOverflowDropIsRetryable(t *testing.T) {
	svc := newIdleService(1)

	svc.Enqueue("evt-1", "fills the queue", "body")
	svc.Enqueue("evt-2", "overflow", "body")
	if len(svc.queue) != 1 {
		t.Fatalf("overflow must drop: queue %d", len(svc.queue))
	}
	if _, ok := svc.sentCache["evt-2"]; ok {
		t.Fatal("a dropped notification must not enter the dedup cache")
	}

	// Once the queue has room again the same event ID goes through.
	<-svc.queue
	svc.Enqueue("evt-2", "overflow retry", "body")
	if len(svc.queue) != 1 {
		t.Errorf("retry after overflow must enqueue: queue %d", len(svc.queue))
	}
	if _, ok := svc.sentCache["evt-2"]; !ok {
		t.Error("successful enqueue must record the dedup entry")
	}
}

func TestEnqueueAfterStopIsDropped(t *testing.T) {
	svc, sender := newRunningService(t)
	svc.Stop()

	svc.Enqueue("evt-late", "late", "body")
	if got := sender.sent(); len(got) != 0 {
		t.Errorf("stopped service must drop messages: got %v", got)
	}
}

func TestHandleOrderEventFiltersLifecycle(t *testing.T) {
	svc, sender := newRunningService(t)

	order := model.Order{
		OrderID: "ORD-1", Symbol: "005930", Side: model.SideBuy,
		Quantity: 10, FilledQuantity: 10, Status: model.OrderFilled,
	}
	svc.HandleOrderEvent(events.OrderEvent{
		OrderID: "ORD-1", EventType: events.OrderNew, Order: order, Timestamp: time.Now(),
	})
	svc.HandleOrderEvent(events.OrderEvent{
		OrderID: "ORD-1", EventType: events.OrderPartial, Order: order, Timestamp: time.Now(),
	})
	svc.HandleOrderEvent(events.OrderEvent{
		OrderID: "ORD-1", EventType: events.OrderFilled, Order: order, Timestamp: time.Now(),
	})
	svc.Stop()

	got := sender.sent()
	if len(got) != 1 {
		t.Fatalf("only terminal lifecycle events notify: got %v", got)
	}
}

func TestHandleErrorEventSkipsWarnings(t *testing.T) {
	svc, sender := newRunningService(t)
	now := time.Now()

	svc.HandleErrorEvent(events.ErrorEvent{
		ErrorType: "tick_parse", Message: "bad tick",
		Severity: model.SeverityWarning, Timestamp: now,
	})
	svc.HandleErrorEvent(events.ErrorEvent{
		ErrorType: "broker", Message: "connection lost",
		Severity: model.SeverityCritical, Timestamp: now,
	})
	svc.Stop()

	got := sender.sent()
	if len(got) != 1 {
		t.Fatalf("warnings must not notify: got %v", got)
	}
}

func TestHandleControlEventFilters(t *testing.T) {
	svc, sender := newRunningService(t)
	now := time.Now()

	svc.HandleControlEvent(events.ControlEvent{Command: events.CommandPause, Timestamp: now})
	svc.HandleControlEvent(events.ControlEvent{Command: events.CommandResume, Timestamp: now})
	svc.HandleControlEvent(events.ControlEvent{Command: events.CommandKill, Timestamp: now})
	svc.Stop()

	got := sender.sent()
	if len(got) != 1 {
		t.Fatalf("only kill and shutdown notify: got %v", got)
	}
}
