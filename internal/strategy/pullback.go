package strategy

import (
	"sync"
	"time"

	"krader/internal/model"
)

func init() {
	Register("pullback_v1", func(params map[string]any) (Strategy, error) {
		p := NewPullback()
		if v, ok := params["cooldown_minutes"].(int); ok && v > 0 {
			p.cooldown = time.Duration(v) * time.Minute
		}
		if v, ok := params["swing_lookback"].(int); ok && v > 0 {
			p.swingLookback = v
		}
		return p, nil
	})
}

// Pullback is a trend-following pullback entry strategy: the 60m trend
// must be up (EMA50 > EMA200, RSI >= 40), price must be sitting in the
// EMA20/EMA50 band, and entry triggers on a 5m RSI cross back above 40
// with a swing-high break. Exits on a 5m RSI cross below 50 or a close
// under the 5m EMA20.
type Pullback struct {
	cooldown      time.Duration
	swingLookback int

	mu          sync.Mutex
	lastBuyTime map[string]time.Time
}

// NewPullback creates the strategy with a 30 minute re-entry cooldown.
func NewPullback() *Pullback {
	return &Pullback{
		cooldown:      30 * time.Minute,
		swingLookback: 10,
		lastBuyTime:   make(map[string]time.Time),
	}
}

func (p *Pullback) Name() string      { return "pullback_v1" }
func (p *Pullback) Symbols() []string { return nil }
func (p *Pullback) OnStart() error    { return nil }
func (p *Pullback) OnStop() error     { return nil }

func (p *Pullback) OnFill(symbol string, side model.Side, quantity, price int64) {}

// closesOldestFirst flattens most-recent-first candles into an
// oldest-first float series for the indicator helpers.
func closesOldestFirst(candles []model.Candle) (closes, opens, highs, lows []float64) {
	n := len(candles)
	closes = make([]float64, n)
	opens = make([]float64, n)
	highs = make([]float64, n)
	lows = make([]float64, n)
	for i, c := range candles {
		j := n - 1 - i
		closes[j] = float64(c.Close)
		opens[j] = float64(c.Open)
		highs[j] = float64(c.High)
		lows[j] = float64(c.Low)
	}
	return closes, opens, highs, lows
}

func (p *Pullback) OnMarketData(snap Snapshot, ctx Context) ([]model.Signal, error) {
	if !ctx.IsMarketOpen {
		return nil, nil
	}
	if universe, ok := ctx.Metadata["universe"].([]string); ok && len(universe) > 0 {
		found := false
		for _, sym := range universe {
			if sym == snap.Symbol {
				found = true
				break
			}
		}
		if !found {
			return nil, nil
		}
	}

	htfCandles := snap.Historical[model.TF60m]
	ltfCandles := snap.Historical[model.TF5m]
	if len(ltfCandles) == 0 {
		ltfCandles = snap.Historical[model.TF1m]
	}

	htfCloses, htfOpens, htfHighs, htfLows := closesOldestFirst(htfCandles)
	ltfCloses, _, ltfHighs, _ := closesOldestFirst(ltfCandles)

	minLTF := p.swingLookback + 2
	if minLTF < 20 {
		minLTF = 20
	}
	if len(htfCloses) < 200 || len(ltfCloses) < minLTF {
		return []model.Signal{p.signal(snap, model.ActionHold, 0, "insufficient_data", map[string]any{
			"htf_candles": len(htfCloses),
			"ltf_candles": len(ltfCloses),
		})}, nil
	}

	htfEMA20 := last(EMA(htfCloses, 20))
	htfEMA50 := last(EMA(htfCloses, 50))
	htfEMA200 := last(EMA(htfCloses, 200))
	htfRSI := last(RSI(htfCloses, 14))
	htfClose := last(htfCloses)

	ltfEMA20 := last(EMA(ltfCloses, 20))
	ltfRSISeries := RSI(ltfCloses, 14)
	ltfRSI := last(ltfRSISeries)
	ltfRSIPrev := ltfRSISeries[len(ltfRSISeries)-2]
	ltfClose := last(ltfCloses)

	swingHigh := ltfClose
	swingStart := len(ltfHighs) - p.swingLookback - 1
	if swingStart < 0 {
		swingStart = 0
	}
	for _, h := range ltfHighs[swingStart : len(ltfHighs)-1] {
		if h > swingHigh {
			swingHigh = h
		}
	}

	meta := map[string]any{
		"htf_ema20":  htfEMA20,
		"htf_ema50":  htfEMA50,
		"htf_ema200": htfEMA200,
		"htf_rsi14":  htfRSI,
		"ltf_ema20":  ltfEMA20,
		"ltf_rsi14":  ltfRSI,
		"swing_high": swingHigh,
	}

	if htfEMA50 <= 0 || htfEMA200 <= 0 {
		return []model.Signal{p.signal(snap, model.ActionHold, 0, "invalid_ema", meta)}, nil
	}
	if htfEMA50 <= htfEMA200 || htfRSI < 40.0 {
		return []model.Signal{p.signal(snap, model.ActionHold, 0, "trend_filter_fail", meta)}, nil
	}

	// Pullback zone: close inside the EMA20/EMA50 band, 1% tolerance.
	bandLow, bandHigh := htfEMA20, htfEMA50
	if bandLow > bandHigh {
		bandLow, bandHigh = bandHigh, bandLow
	}
	tolerance := 0.01 * bandHigh
	inZone := htfClose >= bandLow-tolerance && htfClose <= bandHigh+tolerance

	// Two expanding bearish candles in a row is a collapse, not a
	// pullback.
	n := len(htfCloses)
	collapse := n >= 3 &&
		htfCloses[n-1] < htfOpens[n-1] &&
		htfCloses[n-2] < htfOpens[n-2] &&
		htfHighs[n-1]-htfLows[n-1] > htfHighs[n-2]-htfLows[n-2] &&
		htfHighs[n-2]-htfLows[n-2] > htfHighs[n-3]-htfLows[n-3]

	if !inZone || collapse {
		meta["in_zone"] = inZone
		meta["collapse"] = collapse
		return []model.Signal{p.signal(snap, model.ActionHold, 0, "no_pullback", meta)}, nil
	}

	if (ltfRSIPrev >= 50.0 && ltfRSI < 50.0) || ltfClose < ltfEMA20 {
		return []model.Signal{p.signal(snap, model.ActionSell, 0.6, "exit_trigger", meta)}, nil
	}

	p.mu.Lock()
	lastBuy, hasBuy := p.lastBuyTime[snap.Symbol]
	p.mu.Unlock()
	cooldownActive := hasBuy && snap.Timestamp.Sub(lastBuy) < p.cooldown

	entryTrigger := ltfRSIPrev < 40.0 && ltfRSI >= 40.0 &&
		ltfClose > ltfEMA20 &&
		ltfClose > swingHigh

	if entryTrigger && !cooldownActive {
		confidence := 0.6
		if htfEMA50/htfEMA200 > 1.02 {
			confidence += 0.1
		}
		if htfRSI >= 50.0 {
			confidence += 0.1
		}

		p.mu.Lock()
		p.lastBuyTime[snap.Symbol] = snap.Timestamp
		p.mu.Unlock()

		return []model.Signal{p.signal(snap, model.ActionBuy, confidence, "entry_trigger", meta)}, nil
	}

	meta["cooldown_active"] = cooldownActive
	return []model.Signal{p.signal(snap, model.ActionHold, 0, "hold", meta)}, nil
}

func (p *Pullback) signal(snap Snapshot, action model.Action, confidence float64, reason string, meta map[string]any) model.Signal {
	return model.Signal{
		SignalID:     model.NewSignalID(p.Name(), snap.Symbol, snap.Timestamp),
		StrategyName: p.Name(),
		Symbol:       snap.Symbol,
		Action:       action,
		Confidence:   confidence,
		Reason:       reason,
		Metadata:     meta,
		Timestamp:    snap.Timestamp,
	}
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
