// Package recovery brings local state back in line with the broker at
// startup. The broker is the source of truth; local orders and
// positions are corrected, never the other way around.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"krader/internal/broker"
	"krader/internal/model"
	"krader/internal/portfolio"
	"krader/internal/store"
)

// Report summarizes one reconciliation pass.
type Report struct {
	Success         bool
	RunID           string
	PositionsSynced int
	OrdersUpdated   int
	OrdersCanceled  int
	Discrepancies   []string
}

// Reconciler performs the startup sync.
type Reconciler struct {
	broker  broker.Broker
	store   *store.Store
	tracker *portfolio.Tracker
	logger  *slog.Logger

	runID string
}

// NewReconciler wires a reconciler.
func NewReconciler(b broker.Broker, st *store.Store, tracker *portfolio.Tracker, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{broker: b, store: st, tracker: tracker, logger: logger}
}

// RunID returns the run created by the last Reconcile call.
func (r *Reconciler) RunID() string { return r.runID }

// Reconcile marks crashed runs, opens a new run, and syncs positions
// and orders from the broker. A failed reconciliation means trading
// must not start.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	report := Report{}

	crashed, err := r.store.MarkUnfinishedRunsCrashed(ctx, time.Now())
	if err != nil {
		return r.fail(ctx, report, fmt.Errorf("mark crashed runs: %w", err))
	}
	if crashed > 0 {
		r.logger.Warn("previous runs marked crashed", "count", crashed)
	}

	r.runID = "RUN-" + uuid.NewString()[:8]
	report.RunID = r.runID
	if err := r.store.StartRun(ctx, &model.Run{
		RunID:     r.runID,
		StartedAt: time.Now(),
		Status:    model.RunRunning,
	}); err != nil {
		return r.fail(ctx, report, fmt.Errorf("start run: %w", err))
	}

	if !r.broker.IsConnected() {
		return r.fail(ctx, report, fmt.Errorf("broker not connected"))
	}

	positions, err := r.broker.FetchPositions(ctx)
	if err != nil {
		return r.fail(ctx, report, fmt.Errorf("fetch positions: %w", err))
	}
	balance, err := r.broker.FetchBalance(ctx)
	if err != nil {
		return r.fail(ctx, report, fmt.Errorf("fetch balance: %w", err))
	}
	if err := r.tracker.SyncWithBroker(ctx, positions, balance); err != nil {
		return r.fail(ctx, report, fmt.Errorf("sync portfolio: %w", err))
	}
	report.PositionsSynced = len(positions)

	updated, canceled, discrepancies, err := r.reconcileOrders(ctx)
	if err != nil {
		return r.fail(ctx, report, fmt.Errorf("reconcile orders: %w", err))
	}
	report.OrdersUpdated = updated
	report.OrdersCanceled = canceled
	report.Discrepancies = discrepancies

	report.Success = true
	r.logger.Info("reconciliation complete",
		"run_id", r.runID, "positions", report.PositionsSynced,
		"orders_updated", updated, "orders_canceled", canceled,
		"discrepancies", len(discrepancies))
	return report
}

// reconcileOrders closes local orders the broker no longer knows and
// adopts the broker's filled quantities.
func (r *Reconciler) reconcileOrders(ctx context.Context) (updated, canceled int, discrepancies []string, err error) {
	brokerOrders, err := r.broker.FetchOpenOrders(ctx)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("fetch open orders: %w", err)
	}
	byBrokerID := make(map[string]broker.OpenOrder, len(brokerOrders))
	for _, bo := range brokerOrders {
		byBrokerID[bo.BrokerOrderID] = bo
	}

	localOpen, err := r.store.OpenOrders(ctx)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("load open orders: %w", err)
	}

	matched := make(map[string]bool)
	for _, o := range localOpen {
		bo, found := byBrokerID[o.BrokerOrderID]
		if !found || o.BrokerOrderID == "" {
			// Gone at the broker. Reconciliation overrides the state
			// machine: fills mean done, otherwise it died unfilled.
			if o.FilledQuantity > 0 {
				o.Status = model.OrderFilled
			} else {
				o.Status = model.OrderCanceled
			}
			o.UpdatedAt = time.Now()
			if err := r.store.UpdateOrder(ctx, o); err != nil {
				return updated, canceled, discrepancies, fmt.Errorf("close stale order %s: %w", o.OrderID, err)
			}
			canceled++
			discrepancies = append(discrepancies,
				fmt.Sprintf("order %s missing at broker, marked %s", o.OrderID, o.Status))
			continue
		}
		matched[o.BrokerOrderID] = true
		if bo.FilledQuantity != o.FilledQuantity {
			discrepancies = append(discrepancies,
				fmt.Sprintf("order %s filled_quantity %d -> %d", o.OrderID, o.FilledQuantity, bo.FilledQuantity))
			o.FilledQuantity = bo.FilledQuantity
			if o.FilledQuantity >= o.Quantity {
				o.Status = model.OrderFilled
			}
			o.UpdatedAt = time.Now()
			if err := r.store.UpdateOrder(ctx, o); err != nil {
				return updated, canceled, discrepancies, fmt.Errorf("update order %s: %w", o.OrderID, err)
			}
			updated++
		}
	}

	for _, bo := range brokerOrders {
		if !matched[bo.BrokerOrderID] {
			r.logger.Warn("broker order has no local counterpart",
				"broker_order_id", bo.BrokerOrderID, "symbol", bo.Symbol)
			discrepancies = append(discrepancies,
				fmt.Sprintf("unknown broker order %s (%s)", bo.BrokerOrderID, bo.Symbol))
		}
	}
	return updated, canceled, discrepancies, nil
}

// fail records the error against the run (when one exists) and returns
// a failed report.
func (r *Reconciler) fail(ctx context.Context, report Report, err error) Report {
	r.logger.Error("reconciliation failed", "error", err)
	if r.runID != "" {
		logErr := r.store.LogError(ctx, &model.ErrorRecord{
			RunID:      r.runID,
			ErrorType:  "reconciliation",
			Message:    err.Error(),
			OccurredAt: time.Now(),
		})
		if logErr != nil {
			r.logger.Error("record reconciliation error failed", "error", logErr)
		}
	}
	report.Success = false
	return report
}

// EndRun records the terminal status of the current run.
func (r *Reconciler) EndRun(ctx context.Context, status model.RunStatus, errorMessage string) error {
	if r.runID == "" {
		return nil
	}
	return r.store.EndRun(ctx, r.runID, status, errorMessage, time.Now())
}
