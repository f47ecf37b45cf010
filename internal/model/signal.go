package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Action is a trading action requested by a strategy.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// Signal is a trading intent emitted by a strategy. HOLD signals are
// persisted for audit but never produce orders.
type Signal struct {
	SignalID          string         `json:"signal_id"`
	StrategyName      string         `json:"strategy_name"`
	Symbol            string         `json:"symbol"`
	Action            Action         `json:"action"`
	Confidence        float64        `json:"confidence"` // [0, 1]
	Reason            string         `json:"reason"`
	SuggestedQuantity int64          `json:"suggested_quantity,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// NewSignalID derives a signal ID from the strategy, symbol, and
// millisecond timestamp. Deterministic for identical inputs.
func NewSignalID(strategyName, symbol string, ts time.Time) string {
	key := fmt.Sprintf("%s|%s|%d", strategyName, symbol, ts.UnixMilli())
	sum := sha256.Sum256([]byte(key))
	return "SIG-" + hex.EncodeToString(sum[:])[:12]
}
