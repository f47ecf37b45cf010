package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"krader/internal/model"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// SaveSignal persists a strategy signal for audit, HOLD included.
func (s *Store) SaveSignal(ctx context.Context, sig *model.Signal) error {
	defer s.timeWrite(time.Now())
	var metadata []byte
	if len(sig.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(sig.Metadata)
		if err != nil {
			return fmt.Errorf("marshal signal metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (signal_id, strategy_name, symbol, action, confidence, reason, suggested_quantity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.SignalID, sig.StrategyName, sig.Symbol, string(sig.Action), sig.Confidence,
		sig.Reason, sig.SuggestedQuantity, nullString(metadata), sig.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

func nullString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// SaveOrder inserts a new order row.
func (s *Store) SaveOrder(ctx context.Context, o *model.Order) error {
	defer s.timeWrite(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, signal_id, symbol, side, order_type, quantity, filled_quantity, price, broker_order_id, status, reject_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.OrderID, o.SignalID, o.Symbol, string(o.Side), string(o.OrderType), o.Quantity,
		o.FilledQuantity, o.Price, o.BrokerOrderID, string(o.Status), o.RejectReason,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

// UpdateOrder rewrites the mutable columns of an existing order.
func (s *Store) UpdateOrder(ctx context.Context, o *model.Order) error {
	defer s.timeWrite(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET filled_quantity = ?, broker_order_id = ?, status = ?, reject_reason = ?, updated_at = ?
		WHERE order_id = ?
	`, o.FilledQuantity, o.BrokerOrderID, string(o.Status), o.RejectReason,
		o.UpdatedAt.UnixMilli(), o.OrderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.OrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update order %s: %w", o.OrderID, ErrNotFound)
	}
	return nil
}

const orderColumns = `order_id, signal_id, symbol, side, order_type, quantity, filled_quantity, price, broker_order_id, status, reject_reason, created_at, updated_at`

// Order fetches one order by its idempotency key.
func (s *Store) Order(ctx context.Context, orderID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	return scanOrder(row)
}

// OrderByBrokerID fetches one order by the broker's order ID.
func (s *Store) OrderByBrokerID(ctx context.Context, brokerOrderID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE broker_order_id = ?`, brokerOrderID)
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var side, typ, status string
	var signalID, brokerOrderID, rejectReason sql.NullString
	var createdMs, updatedMs int64
	err := row.Scan(&o.OrderID, &signalID, &o.Symbol, &side, &typ, &o.Quantity,
		&o.FilledQuantity, &o.Price, &brokerOrderID, &status, &rejectReason,
		&createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.SignalID = signalID.String
	o.Side = model.Side(side)
	o.OrderType = model.OrderType(typ)
	o.BrokerOrderID = brokerOrderID.String
	o.Status = model.OrderStatus(status)
	o.RejectReason = rejectReason.String
	o.CreatedAt = msToTime(createdMs)
	o.UpdatedAt = msToTime(updatedMs)
	return &o, nil
}

// OpenOrders returns every order in a non-terminal status.
func (s *Store) OpenOrders(ctx context.Context) ([]*model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (?, ?, ?) ORDER BY created_at`,
		string(model.OrderPendingNew), string(model.OrderSubmitted), string(model.OrderPartialFill))
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountOrdersToday counts non-rejected orders created in [dayStart, dayEnd).
func (s *Store) CountOrdersToday(ctx context.Context, dayStart, dayEnd time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE created_at >= ? AND created_at < ? AND status != ?
	`, dayStart.UnixMilli(), dayEnd.UnixMilli(), string(model.OrderRejected)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// OrdersBetween returns orders created in [from, to), oldest first.
func (s *Store) OrdersBetween(ctx context.Context, from, to time.Time) ([]*model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SaveFill inserts a fill row.
func (s *Store) SaveFill(ctx context.Context, f *model.Fill) error {
	defer s.timeWrite(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (fill_id, order_id, broker_fill_id, quantity, price, commission, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.FillID, f.OrderID, f.BrokerFillID, f.Quantity, f.Price, f.Commission, f.FilledAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save fill %s: %w", f.FillID, err)
	}
	return nil
}

// FillsForOrder returns the fills of one order in execution order.
func (s *Store) FillsForOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fill_id, order_id, broker_fill_id, quantity, price, commission, filled_at
		FROM fills WHERE order_id = ? ORDER BY filled_at, fill_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var brokerFillID sql.NullString
		var filledMs int64
		if err := rows.Scan(&f.FillID, &f.OrderID, &brokerFillID, &f.Quantity, &f.Price, &f.Commission, &filledMs); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.BrokerFillID = brokerFillID.String
		f.FilledAt = msToTime(filledMs)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
