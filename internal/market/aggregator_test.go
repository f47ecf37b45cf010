package market

import (
	"testing"
	"time"

	"krader/internal/model"
)

func mustTick(t *testing.T, symbol string, price, volume int64, ts time.Time) model.Tick {
	t.Helper()
	tick, err := model.NewTick(symbol, price, volume, ts)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return tick
}

func TestAggregatorBasicCandle(t *testing.T) {
	var closed []model.Candle
	agg := NewAggregator([]model.Timeframe{model.TF1m}, func(c model.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	agg.OnTick(mustTick(t, "005930", 72000, 10, base))
	agg.OnTick(mustTick(t, "005930", 72500, 20, base.Add(10*time.Second)))
	agg.OnTick(mustTick(t, "005930", 71800, 5, base.Add(30*time.Second)))
	// Next minute closes the first bucket.
	agg.OnTick(mustTick(t, "005930", 72100, 15, base.Add(time.Minute)))

	if len(closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(closed))
	}
	c := closed[0]
	if c.Open != 72000 || c.High != 72500 || c.Low != 71800 || c.Close != 71800 {
		t.Errorf("OHLC wrong: %+v", c)
	}
	if c.Volume != 35 {
		t.Errorf("volume wrong: %d", c.Volume)
	}
	if !c.OpenTime.Equal(base) {
		t.Errorf("open_time wrong: %v", c.OpenTime)
	}

	cur, ok := agg.Current("005930", model.TF1m)
	if !ok {
		t.Fatal("expected in-progress candle after rollover")
	}
	if cur.Open != 72100 {
		t.Errorf("new candle should open from rollover tick, got %d", cur.Open)
	}
}

func TestAggregatorMultiTimeframe(t *testing.T) {
	var closed []model.Candle
	agg := NewAggregator([]model.Timeframe{model.TF1m, model.TF5m}, func(c model.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	// 6 minutes of ticks: five 1m closes and one 5m close.
	for i := 0; i <= 6; i++ {
		agg.OnTick(mustTick(t, "005930", 72000+int64(i*100), 10, base.Add(time.Duration(i)*time.Minute)))
	}

	var m1, m5 int
	for _, c := range closed {
		switch c.Timeframe {
		case model.TF1m:
			m1++
		case model.TF5m:
			m5++
		}
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Errorf("OHLC invariant broken: %+v", c)
		}
	}
	if m1 != 6 {
		t.Errorf("expected 6 closed 1m candles, got %d", m1)
	}
	if m5 != 1 {
		t.Errorf("expected 1 closed 5m candle, got %d", m5)
	}
}

func TestAggregatorFlushAll(t *testing.T) {
	var closed []model.Candle
	agg := NewAggregator([]model.Timeframe{model.TF1m, model.TF5m}, func(c model.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	agg.OnTick(mustTick(t, "005930", 72000, 10, base))
	agg.OnTick(mustTick(t, "000660", 130000, 5, base))

	agg.FlushAll()
	if len(closed) != 4 {
		t.Fatalf("expected 4 flushed candles (2 symbols x 2 timeframes), got %d", len(closed))
	}
	if _, ok := agg.Current("005930", model.TF1m); ok {
		t.Error("flush must clear in-progress state")
	}
}

// Feeding the same ticks to a fresh aggregator reproduces the same
// closed candles.
func TestAggregatorDeterministicRefeed(t *testing.T) {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	var ticks []model.Tick
	prices := []int64{72000, 72300, 71900, 72100, 72600, 72200, 72050}
	for i, p := range prices {
		ticks = append(ticks, mustTick(t, "005930", p, int64(i+1), base.Add(time.Duration(i*25)*time.Second)))
	}

	run := func() []model.Candle {
		var out []model.Candle
		agg := NewAggregator([]model.Timeframe{model.TF1m}, func(c model.Candle) {
			out = append(out, c)
		})
		for _, tick := range ticks {
			agg.OnTick(tick)
		}
		agg.FlushAll()
		return out
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("candle counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("candle %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestAggregatorClearSymbol(t *testing.T) {
	var closed []model.Candle
	agg := NewAggregator([]model.Timeframe{model.TF1m}, func(c model.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	agg.OnTick(mustTick(t, "005930", 72000, 10, base))
	agg.OnTick(mustTick(t, "000660", 130000, 5, base))

	agg.Clear("005930")
	if _, ok := agg.Current("005930", model.TF1m); ok {
		t.Error("cleared symbol still has a candle")
	}
	if _, ok := agg.Current("000660", model.TF1m); !ok {
		t.Error("untouched symbol lost its candle")
	}
	if len(closed) != 0 {
		t.Error("Clear must not emit closed candles")
	}
}
