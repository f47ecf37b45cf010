// Package notify delivers trade and error notifications without ever
// blocking the event path: messages are queued and sent by a background
// worker, with deduplication and a per-minute rate limit.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"krader/internal/events"
	"krader/internal/model"
)

const (
	maxQueueSize       = 1000
	rateLimitPerMinute = 10
	dedupTTL           = 5 * time.Minute
)

// Sender delivers one notification. Implementations must be safe for
// use from a single worker goroutine.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// LogSender writes notifications to the log. The default sink when no
// external channel is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) Send(ctx context.Context, subject, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "subject", subject, "body", body)
	return nil
}

type message struct {
	eventID string
	subject string
	body    string
}

// Service queues notifications and drains them asynchronously.
type Service struct {
	sender Sender
	logger *slog.Logger

	queue chan message
	done  chan struct{}

	mu             sync.Mutex
	running        bool
	sentCache      map[string]time.Time
	sendTimestamps []time.Time

	now func() time.Time
}

// NewService creates a notification service around a sender.
func NewService(sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:    sender,
		logger:    logger,
		queue:     make(chan message, maxQueueSize),
		done:      make(chan struct{}),
		sentCache: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Start launches the worker goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.worker()
	s.logger.Info("notifier started")
}

// Stop closes the queue and waits for the worker to drain it.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	close(s.queue)
	<-s.done
	s.logger.Info("notifier stopped")
}

// Enqueue queues a notification. Duplicate event IDs inside the dedup
// TTL and queue overflow are dropped with a log line. An overflow drop
// does not count as sent, so the same event ID may be retried.
func (s *Service) Enqueue(eventID, subject, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	now := s.now()
	for id, ts := range s.sentCache {
		if now.Sub(ts) >= dedupTTL {
			delete(s.sentCache, id)
		}
	}
	if sent, ok := s.sentCache[eventID]; ok && now.Sub(sent) < dedupTTL {
		return
	}
	select {
	case s.queue <- message{eventID: eventID, subject: subject, body: body}:
		s.sentCache[eventID] = now
	default:
		s.logger.Warn("notification queue full, dropping", "subject", subject)
	}
}

func (s *Service) worker() {
	defer close(s.done)
	for msg := range s.queue {
		s.throttle()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.sender.Send(ctx, msg.subject, msg.body)
		cancel()
		if err != nil {
			s.logger.Error("notification send failed", "subject", msg.subject, "error", err)
		}
	}
}

// throttle sleeps until the rolling one-minute window has room.
func (s *Service) throttle() {
	for {
		s.mu.Lock()
		cutoff := time.Now().Add(-time.Minute)
		kept := s.sendTimestamps[:0]
		for _, ts := range s.sendTimestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		s.sendTimestamps = kept
		if len(s.sendTimestamps) < rateLimitPerMinute {
			s.sendTimestamps = append(s.sendTimestamps, time.Now())
			s.mu.Unlock()
			return
		}
		wait := time.Until(s.sendTimestamps[0].Add(time.Minute))
		s.mu.Unlock()
		if wait > 0 {
			time.Sleep(wait)
		}
	}
}

// HandleOrderEvent notifies on fills, cancels, and rejects.
func (s *Service) HandleOrderEvent(e events.OrderEvent) {
	switch e.EventType {
	case events.OrderFilled, events.OrderCanceled, events.OrderRejected:
		subject := fmt.Sprintf("[krader] order %s %s %s", e.EventType, e.Order.Side, e.Order.Symbol)
		body := fmt.Sprintf("order %s: %s %d %s, status %s, filled %d/%d",
			e.OrderID, e.Order.Side, e.Order.Quantity, e.Order.Symbol,
			e.Order.Status, e.Order.FilledQuantity, e.Order.Quantity)
		if e.Order.RejectReason != "" {
			body += ", reason: " + e.Order.RejectReason
		}
		s.Enqueue("order:"+e.OrderID+":"+string(e.EventType), subject, body)
	}
}

// HandleErrorEvent notifies on error and critical severities.
func (s *Service) HandleErrorEvent(e events.ErrorEvent) {
	if e.Severity == model.SeverityWarning {
		return
	}
	subject := fmt.Sprintf("[krader] %s: %s", e.Severity, e.ErrorType)
	s.Enqueue(
		fmt.Sprintf("error:%s:%d", e.ErrorType, e.Timestamp.Unix()),
		subject, e.Message)
}

// HandleControlEvent notifies on kill switch and shutdown.
func (s *Service) HandleControlEvent(e events.ControlEvent) {
	if e.Command != events.CommandKill && e.Command != events.CommandShutdown {
		return
	}
	s.Enqueue(
		fmt.Sprintf("control:%s:%d", e.Command, e.Timestamp.Unix()),
		fmt.Sprintf("[krader] control: %s", e.Command),
		fmt.Sprintf("control command %s at %s", e.Command, e.Timestamp.Format(time.RFC3339)))
}
