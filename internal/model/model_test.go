package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewTickRejectsBadInput(t *testing.T) {
	now := time.Now()

	if _, err := NewTick("005930", 0, 10, now); !errors.Is(err, ErrInvalidTickPrice) {
		t.Errorf("zero price: got %v", err)
	}
	if _, err := NewTick("005930", -100, 10, now); !errors.Is(err, ErrInvalidTickPrice) {
		t.Errorf("negative price: got %v", err)
	}
	if _, err := NewTick("005930", 72000, -1, now); !errors.Is(err, ErrInvalidTickVolume) {
		t.Errorf("negative volume: got %v", err)
	}

	tick, err := NewTick("005930", 72000, 0, now)
	if err != nil {
		t.Fatalf("valid tick rejected: %v", err)
	}
	if tick.Price != 72000 || tick.Volume != 0 {
		t.Errorf("tick fields wrong: %+v", tick)
	}
}

func TestTimeframeOpenTimeAlignment(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	at := time.Date(2026, 3, 10, 10, 37, 42, 123, loc)

	cases := []struct {
		tf   Timeframe
		want time.Time
	}{
		{TF1m, time.Date(2026, 3, 10, 10, 37, 0, 0, loc)},
		{TF5m, time.Date(2026, 3, 10, 10, 35, 0, 0, loc)},
		{TF15m, time.Date(2026, 3, 10, 10, 30, 0, 0, loc)},
		{TF60m, time.Date(2026, 3, 10, 10, 0, 0, 0, loc)},
		{TF1d, time.Date(2026, 3, 10, 0, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		got := tc.tf.OpenTime(at)
		if !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.tf, got, tc.want)
		}
		// open_time mod timeframe = 0 within the day.
		if tc.tf != TF1d {
			minutes := got.Hour()*60 + got.Minute()
			if minutes%tc.tf.Minutes() != 0 {
				t.Errorf("%s: open %v not aligned", tc.tf, got)
			}
		}
	}
}

func TestCandleUpdateInvariants(t *testing.T) {
	loc := time.UTC
	base := time.Date(2026, 3, 10, 1, 0, 0, 0, loc)
	tick, _ := NewTick("005930", 72000, 100, base)
	c := CandleFromTick(tick, TF1m, TF1m.OpenTime(base))

	prices := []int64{72100, 71800, 72500, 72050}
	for i, p := range prices {
		next, _ := NewTick("005930", p, 50, base.Add(time.Duration(i+1)*time.Second))
		if err := c.Update(next); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	if c.Open != 72000 || c.Close != 72050 {
		t.Errorf("open/close wrong: %d/%d", c.Open, c.Close)
	}
	if c.High != 72500 || c.Low != 71800 {
		t.Errorf("high/low wrong: %d/%d", c.High, c.Low)
	}
	if c.High < c.Open || c.High < c.Close {
		t.Error("high must be >= max(open, close)")
	}
	if c.Low > c.Open || c.Low > c.Close {
		t.Error("low must be <= min(open, close)")
	}
	if c.Volume != 100+4*50 {
		t.Errorf("volume wrong: %d", c.Volume)
	}

	other, _ := NewTick("000660", 130000, 10, base)
	if err := c.Update(other); err == nil {
		t.Error("cross-symbol update must fail")
	}
}

func TestNewSignalIDDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	a := NewSignalID("pullback_v1", "005930", ts)
	b := NewSignalID("pullback_v1", "005930", ts)
	if a != b {
		t.Errorf("identical inputs must give identical IDs: %s vs %s", a, b)
	}
	c := NewSignalID("pullback_v1", "000660", ts)
	if a == c {
		t.Error("different symbols must give different IDs")
	}
}
