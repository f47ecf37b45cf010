package oms

import (
	"testing"
	"time"

	"krader/internal/model"
)

func TestGenerateOrderIDDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 10, 10, 0, 30, 0, time.UTC)

	a := GenerateOrderID("SIG-1", "005930", model.ActionBuy, 10, ts)
	b := GenerateOrderID("SIG-1", "005930", model.ActionBuy, 10, ts)
	if a != b {
		t.Errorf("identical inputs must yield identical IDs: %s vs %s", a, b)
	}
	if len(a) != len("ORD-")+16 {
		t.Errorf("unexpected ID shape: %s", a)
	}
}

func TestGenerateOrderIDBucketing(t *testing.T) {
	// 10:00:05 and 10:00:55 share the 60s bucket; 10:01:05 does not.
	base := time.Date(2026, 3, 10, 10, 0, 5, 0, time.UTC)
	inBucket := GenerateOrderID("SIG-1", "005930", model.ActionBuy, 10, base)
	sameBucket := GenerateOrderID("SIG-1", "005930", model.ActionBuy, 10, base.Add(50*time.Second))
	nextBucket := GenerateOrderID("SIG-1", "005930", model.ActionBuy, 10, base.Add(60*time.Second))

	if inBucket != sameBucket {
		t.Error("same bucket must collapse to one ID")
	}
	if inBucket == nextBucket {
		t.Error("next bucket must produce a new ID")
	}
}

func TestGenerateOrderIDVariesByInput(t *testing.T) {
	ts := time.Date(2026, 3, 10, 10, 0, 30, 0, time.UTC)
	base := GenerateOrderID("SIG-1", "005930", model.ActionBuy, 10, ts)

	variants := []string{
		GenerateOrderID("SIG-2", "005930", model.ActionBuy, 10, ts),
		GenerateOrderID("SIG-1", "000660", model.ActionBuy, 10, ts),
		GenerateOrderID("SIG-1", "005930", model.ActionSell, 10, ts),
		GenerateOrderID("SIG-1", "005930", model.ActionBuy, 11, ts),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base ID", i)
		}
	}
}
