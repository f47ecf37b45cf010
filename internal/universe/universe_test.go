package universe

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyProvider returns its scripted symbols until failing is set.
type flakyProvider struct {
	symbols []string
	err     error
	calls   int
}

func (p *flakyProvider) TopByTradingValue(ctx context.Context, size int) ([]string, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if size > len(p.symbols) {
		size = len(p.symbols)
	}
	return p.symbols[:size], nil
}

func TestStaticProvider(t *testing.T) {
	s := &Static{Symbols: []string{"005930", "000660", "035420"}}

	got, err := s.TopByTradingValue(context.Background(), 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(got) != 2 || got[0] != "005930" || got[1] != "000660" {
		t.Errorf("got %v", got)
	}

	// Asking for more than available truncates.
	got, _ = s.TopByTradingValue(context.Background(), 10)
	if len(got) != 3 {
		t.Errorf("oversized request: got %d symbols", len(got))
	}
}

func TestCachedServesFromCache(t *testing.T) {
	p := &flakyProvider{symbols: []string{"005930", "000660"}}
	c := NewCached(p, time.Hour, nil)
	ctx := context.Background()

	got, err := c.TopByTradingValue(ctx, 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("first fetch: %v %v", got, err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls: got %d", p.calls)
	}

	// Inside the TTL the provider is not consulted again.
	if _, err := c.TopByTradingValue(ctx, 2); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("cache miss inside TTL: %d provider calls", p.calls)
	}
	if !c.Valid() {
		t.Error("cache should be valid")
	}
}

func TestCachedFallsBackOnFailure(t *testing.T) {
	p := &flakyProvider{symbols: []string{"005930", "000660"}}
	c := NewCached(p, time.Nanosecond, nil) // every call refreshes
	ctx := context.Background()

	if _, err := c.TopByTradingValue(ctx, 2); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A failed refresh keeps serving the last good list.
	p.err = errors.New("exchange api down")
	got, err := c.TopByTradingValue(ctx, 2)
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if len(got) != 2 || got[0] != "005930" {
		t.Errorf("fallback content: %v", got)
	}

	// An empty refresh result keeps the cache too.
	p.err = nil
	p.symbols = nil
	got, err = c.TopByTradingValue(ctx, 2)
	if err != nil || len(got) != 2 {
		t.Errorf("empty refresh must serve cache: %v %v", got, err)
	}
}

func TestCachedFailsWithEmptyCache(t *testing.T) {
	p := &flakyProvider{err: errors.New("exchange api down")}
	c := NewCached(p, time.Hour, nil)

	if _, err := c.TopByTradingValue(context.Background(), 2); err == nil {
		t.Fatal("no cache and a failed refresh must error")
	}
	if c.Valid() {
		t.Error("cache must stay invalid")
	}
}

func TestDefaultKOSPIShape(t *testing.T) {
	if len(DefaultKOSPI) < 10 {
		t.Fatalf("fallback universe too small: %d", len(DefaultKOSPI))
	}
	seen := make(map[string]bool)
	for _, sym := range DefaultKOSPI {
		if len(sym) != 6 {
			t.Errorf("symbol %q is not a 6-digit KRX code", sym)
		}
		if seen[sym] {
			t.Errorf("duplicate symbol %q", sym)
		}
		seen[sym] = true
	}
}
