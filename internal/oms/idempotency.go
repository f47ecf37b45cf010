package oms

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"krader/internal/model"
)

// bucketSeconds is the idempotency window: identical signals within the
// same bucket map to the same order ID.
const bucketSeconds = 60

// GenerateOrderID derives the deterministic idempotency key for an
// order from its originating signal. Two submissions of the same signal
// within one bucket collapse to one order.
func GenerateOrderID(signalID, symbol string, action model.Action, quantity int64, signalTS time.Time) string {
	bucket := signalTS.Unix() / bucketSeconds
	key := fmt.Sprintf("%s|%s|%s|%d|%d", signalID, symbol, action, quantity, bucket)
	sum := sha256.Sum256([]byte(key))
	return "ORD-" + hex.EncodeToString(sum[:])[:16]
}
