// Package store is the durable state layer: candles, signals, orders,
// fills, positions, bot runs, and errors in a single SQLite database.
// One connection, WAL journal, foreign keys on; every write commits
// before the method returns so event publication can follow the write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"krader/internal/model"
)

// Store wraps the SQLite database.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	observeWrite func(time.Duration)
}

// New opens (creating if needed) the database at path and applies the
// schema. Writes are serialized through a single connection.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// SetWriteObserver installs a callback receiving each write's duration,
// for latency metrics. Call before the store is shared across goroutines.
func (s *Store) SetWriteObserver(fn func(time.Duration)) { s.observeWrite = fn }

// timeWrite reports a write's duration to the observer. Use as
// defer s.timeWrite(time.Now()).
func (s *Store) timeWrite(start time.Time) {
	if s.observeWrite != nil {
		s.observeWrite(time.Since(start))
	}
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			open_time  INTEGER NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			volume     INTEGER NOT NULL,
			UNIQUE (symbol, timeframe, open_time)
		);

		CREATE TABLE IF NOT EXISTS signals (
			signal_id          TEXT    PRIMARY KEY,
			strategy_name      TEXT    NOT NULL,
			symbol             TEXT    NOT NULL,
			action             TEXT    NOT NULL,
			confidence         REAL    NOT NULL,
			reason             TEXT,
			suggested_quantity INTEGER NOT NULL DEFAULT 0,
			metadata           TEXT,
			created_at         INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			order_id        TEXT    PRIMARY KEY,
			signal_id       TEXT,
			symbol          TEXT    NOT NULL,
			side            TEXT    NOT NULL,
			order_type      TEXT    NOT NULL,
			quantity        INTEGER NOT NULL,
			filled_quantity INTEGER NOT NULL DEFAULT 0,
			price           INTEGER NOT NULL DEFAULT 0,
			broker_order_id TEXT,
			status          TEXT    NOT NULL,
			reject_reason   TEXT,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
		CREATE INDEX IF NOT EXISTS idx_orders_broker ON orders (broker_order_id);
		CREATE INDEX IF NOT EXISTS idx_orders_created ON orders (created_at);

		CREATE TABLE IF NOT EXISTS fills (
			fill_id        TEXT    PRIMARY KEY,
			order_id       TEXT    NOT NULL REFERENCES orders (order_id),
			broker_fill_id TEXT,
			quantity       INTEGER NOT NULL,
			price          INTEGER NOT NULL,
			commission     INTEGER NOT NULL DEFAULT 0,
			filled_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fills_order ON fills (order_id);

		CREATE TABLE IF NOT EXISTS positions (
			symbol        TEXT    PRIMARY KEY,
			quantity      INTEGER NOT NULL,
			avg_price     TEXT    NOT NULL,
			current_price INTEGER NOT NULL DEFAULT 0,
			updated_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bot_runs (
			run_id        TEXT    PRIMARY KEY,
			started_at    INTEGER NOT NULL,
			ended_at      INTEGER,
			status        TEXT    NOT NULL,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS errors (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT,
			error_type  TEXT NOT NULL,
			message     TEXT NOT NULL,
			context     TEXT,
			occurred_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_errors_occurred ON errors (occurred_at);
	`)
	return err
}

// SaveCandle upserts a closed candle keyed by (symbol, timeframe, open_time).
func (s *Store) SaveCandle(ctx context.Context, c *model.Candle) error {
	defer s.timeWrite(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Symbol, string(c.Timeframe), c.OpenTime.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("save candle: %w", err)
	}
	return nil
}

// Candles returns up to limit candles for (symbol, timeframe), most
// recent first.
func (s *Store) Candles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func scanCandle(rows *sql.Rows) (model.Candle, error) {
	var c model.Candle
	var tf string
	var openMs int64
	if err := rows.Scan(&c.Symbol, &tf, &openMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
		return model.Candle{}, fmt.Errorf("scan candle: %w", err)
	}
	c.Timeframe = model.Timeframe(tf)
	c.OpenTime = msToTime(openMs)
	return c, nil
}
