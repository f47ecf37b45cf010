// Package universe selects the tradeable symbol set. Providers fetch
// symbols ranked by trading value; the cached wrapper keeps the last
// good list so a failed refresh never empties the universe.
package universe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultKOSPI is the fallback universe when no provider responds:
// large-cap KOSPI names by market capitalization.
var DefaultKOSPI = []string{
	"005930", // Samsung Electronics
	"000660", // SK Hynix
	"373220", // LG Energy Solution
	"207940", // Samsung Biologics
	"005380", // Hyundai Motor
	"006400", // Samsung SDI
	"051910", // LG Chem
	"035420", // NAVER
	"000270", // Kia
	"105560", // KB Financial
	"055550", // Shinhan Financial
	"035720", // Kakao
	"003670", // POSCO Holdings
	"068270", // Celltrion
	"028260", // Samsung C&T
	"012330", // Hyundai Mobis
	"066570", // LG Electronics
	"003550", // LG
	"096770", // SK Innovation
	"034730", // SK
}

// Provider fetches symbols ranked by trading value, best first.
type Provider interface {
	TopByTradingValue(ctx context.Context, size int) ([]string, error)
}

// Static always returns a fixed list. Used for paper trading and as
// the configured fallback.
type Static struct {
	Symbols []string
}

func (s *Static) TopByTradingValue(ctx context.Context, size int) ([]string, error) {
	if size > len(s.Symbols) {
		size = len(s.Symbols)
	}
	out := make([]string, size)
	copy(out, s.Symbols[:size])
	return out, nil
}

// Cached wraps a provider with a TTL cache. Refresh failures fall back
// to the cached list; an empty refresh result keeps the cache too.
type Cached struct {
	provider Provider
	ttl      time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	cache     []string
	cacheTime time.Time
}

// NewCached wraps provider with the given cache duration.
func NewCached(provider Provider, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{provider: provider, ttl: ttl, logger: logger}
}

// Cache returns the cached universe without refreshing.
func (c *Cached) Cache() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.cache))
	copy(out, c.cache)
	return out
}

// Valid reports whether the cache is populated and inside its TTL.
func (c *Cached) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache) > 0 && time.Since(c.cacheTime) < c.ttl
}

// TopByTradingValue returns the cached list when valid, otherwise
// refreshes. A failed or empty refresh keeps serving the stale cache.
func (c *Cached) TopByTradingValue(ctx context.Context, size int) ([]string, error) {
	c.mu.Lock()
	if len(c.cache) >= size && time.Since(c.cacheTime) < c.ttl {
		out := make([]string, size)
		copy(out, c.cache[:size])
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	symbols, err := c.provider.TopByTradingValue(ctx, size)
	if err != nil || len(symbols) == 0 {
		if err != nil {
			c.logger.Error("universe refresh failed, serving cache", "error", err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.cache) == 0 {
			return nil, err
		}
		n := size
		if n > len(c.cache) {
			n = len(c.cache)
		}
		out := make([]string, n)
		copy(out, c.cache[:n])
		return out, nil
	}

	c.mu.Lock()
	c.cache = symbols
	c.cacheTime = time.Now()
	c.mu.Unlock()
	c.logger.Info("universe refreshed", "symbols", len(symbols))

	if size > len(symbols) {
		size = len(symbols)
	}
	return symbols[:size], nil
}
