package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/model"
)

// SavePosition upserts a position keyed by symbol.
func (s *Store) SavePosition(ctx context.Context, p *model.Position) error {
	defer s.timeWrite(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, current_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			updated_at = excluded.updated_at
	`, p.Symbol, p.Quantity, p.AvgPrice.String(), p.CurrentPrice, timeToMs(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	return nil
}

// Positions returns every stored position.
func (s *Store) Positions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, current_price, updated_at
		FROM positions ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgPrice string
		var updatedMs int64
		if err := rows.Scan(&p.Symbol, &p.Quantity, &avgPrice, &p.CurrentPrice, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.AvgPrice, err = decimal.NewFromString(avgPrice)
		if err != nil {
			return nil, fmt.Errorf("position %s avg_price %q: %w", p.Symbol, avgPrice, err)
		}
		p.UpdatedAt = msToTime(updatedMs)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DeletePosition removes a position row. Missing rows are not an error.
func (s *Store) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}
