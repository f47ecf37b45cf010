// Package streams publishes closed candles to Redis for external
// consumers (dashboards, research notebooks). Optional: when disabled
// the rest of the system is unaffected.
package streams

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"krader/internal/model"
)

const (
	// ~1 trading day of 1m candles plus buffer.
	streamMaxLen     = 500
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes closed candles to Redis Streams and pubsub channels.
type Publisher struct {
	client *goredis.Client
	logger *slog.Logger
}

// New creates a publisher and pings the server.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("redis publisher connected", "addr", cfg.Addr)
	return &Publisher{client: client, logger: logger}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// PublishCandle writes one closed candle: XADD to its stream, SET the
// latest key with a TTL, and PUBLISH for live subscribers. Errors are
// logged, not returned; stream publication is best effort.
func (p *Publisher) PublishCandle(ctx context.Context, c *model.Candle) {
	streamKey := fmt.Sprintf("candle:%s:%s", c.Timeframe, c.Symbol)
	latestKey := fmt.Sprintf("candle:%s:latest:%s", c.Timeframe, c.Symbol)
	pubsubCh := fmt.Sprintf("pub:candle:%s:%s", c.Timeframe, c.Symbol)
	jsonData := string(c.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Error("redis candle pipeline failed", "key", c.Key(), "error", err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
