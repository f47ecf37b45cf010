// Package control is the trading control plane: pause/resume, shutdown
// requests, and the error-rate kill switch.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"krader/internal/events"
	"krader/internal/oms"
	"krader/internal/risk"
)

const (
	defaultErrorWindow    = 5 * time.Minute
	defaultErrorThreshold = 3
)

// Manager coordinates the OMS, validator, and bus when the system needs
// to stop trading.
type Manager struct {
	oms       *oms.OMS
	validator *risk.Validator
	bus       *events.Bus
	logger    *slog.Logger

	errorWindow    time.Duration
	errorThreshold int
	now            func() time.Time

	mu                sync.Mutex
	paused            bool
	shutdownRequested bool
	errorTimestamps   []time.Time
}

// NewManager wires a control manager with default error-rate settings.
func NewManager(o *oms.OMS, v *risk.Validator, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		oms:            o,
		validator:      v,
		bus:            bus,
		logger:         logger,
		errorWindow:    defaultErrorWindow,
		errorThreshold: defaultErrorThreshold,
		now:            time.Now,
	}
}

// Pause halts new signal processing and publishes ControlEvent{pause}.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.oms.Pause()
	m.bus.Publish(events.ControlEvent{Command: events.CommandPause, Timestamp: m.now()})
	m.logger.Warn("trading paused")
}

// Resume re-enables signal processing.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.oms.Resume()
	m.bus.Publish(events.ControlEvent{Command: events.CommandResume, Timestamp: m.now()})
	m.logger.Info("trading resumed")
}

// IsPaused reports the pause flag.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// RequestShutdown flags the application loop to exit and publishes
// ControlEvent{shutdown}.
func (m *Manager) RequestShutdown() {
	m.mu.Lock()
	m.shutdownRequested = true
	m.mu.Unlock()
	m.bus.Publish(events.ControlEvent{Command: events.CommandShutdown, Timestamp: m.now()})
	m.logger.Info("shutdown requested")
}

// ShutdownRequested reports the shutdown flag.
func (m *Manager) ShutdownRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownRequested
}

// ActivateKillSwitch stops all trading: latches the validator, pauses
// the OMS, cancels every working order, and publishes
// ControlEvent{kill}. Returns the number of cancel requests issued.
func (m *Manager) ActivateKillSwitch(ctx context.Context, reason string) int {
	m.validator.ActivateKillSwitch(reason)
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.oms.Pause()
	canceled := m.oms.CancelAll(ctx)
	m.bus.Publish(events.ControlEvent{Command: events.CommandKill, Timestamp: m.now()})
	m.logger.Error("kill switch engaged", "reason", reason, "orders_canceled", canceled)
	return canceled
}

// DeactivateKillSwitch releases the validator latch. Trading stays
// paused until Resume is called explicitly.
func (m *Manager) DeactivateKillSwitch() {
	m.validator.DeactivateKillSwitch()
}

// Status is a point-in-time view of the control plane.
type Status struct {
	Paused            bool
	KillSwitchActive  bool
	ShutdownRequested bool
	RecentErrors      int
	ActiveOrders      int
}

// Status snapshots the control plane state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	cutoff := m.now().Add(-m.errorWindow)
	recent := 0
	for _, ts := range m.errorTimestamps {
		if ts.After(cutoff) {
			recent++
		}
	}
	s := Status{
		Paused:            m.paused,
		ShutdownRequested: m.shutdownRequested,
		RecentErrors:      recent,
	}
	m.mu.Unlock()
	s.KillSwitchActive = m.validator.KillSwitchActive()
	s.ActiveOrders = m.oms.ActiveOrderCount()
	return s
}

// RecordError timestamps an error and reports whether the rolling
// window now holds enough errors to trip the kill switch.
func (m *Manager) RecordError() bool {
	now := m.now()
	cutoff := now.Add(-m.errorWindow)

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.errorTimestamps[:0]
	for _, ts := range m.errorTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.errorTimestamps = append(kept, now)
	return len(m.errorTimestamps) >= m.errorThreshold
}

// HandleRepeatedErrors trips the kill switch with a descriptive reason.
func (m *Manager) HandleRepeatedErrors(ctx context.Context) {
	m.mu.Lock()
	count := len(m.errorTimestamps)
	m.mu.Unlock()
	reason := fmt.Sprintf("%d errors within %s", count, m.errorWindow)
	m.ActivateKillSwitch(ctx, reason)
}
