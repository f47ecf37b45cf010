package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/model"
	"krader/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, string) {
	t.Helper()
	st, err := store.New(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	dir := t.TempDir()
	return NewService(st, dir, nil), st, dir
}

func TestGenerateSkipsEmptyDay(t *testing.T) {
	svc, _, _ := newTestService(t)

	path, err := svc.Generate(context.Background(), time.Now(), decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if path != "" {
		t.Errorf("no trades must produce no journal, got %q", path)
	}
	if !svc.GeneratedToday() {
		t.Error("an empty day still latches the once-per-day flag")
	}
}

func TestGenerateWritesReport(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	order := model.NewOrder("ORD-1", "SIG-1", "005930", model.SideBuy, 10, 0)
	order.MarkSubmitted("B1")
	order.ApplyFill(10)
	if err := st.SaveOrder(ctx, order); err != nil {
		t.Fatalf("save order: %v", err)
	}
	if err := st.SaveFill(ctx, &model.Fill{
		FillID: "FILL-ORD-1-1", OrderID: "ORD-1",
		Quantity: 10, Price: 70_000, FilledAt: time.Now(),
	}); err != nil {
		t.Fatalf("save fill: %v", err)
	}

	path, err := svc.Generate(ctx, time.Now(),
		decimal.NewFromInt(10_000_000), decimal.NewFromInt(9_300_000))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if path == "" {
		t.Fatal("expected a journal path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"# Trade Journal", "## Summary", "ORD-1", "SIG-1", "005930",
		"FILL-ORD-1-1", "10000000",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("journal missing %q", want)
		}
	}

	// Second call on the same day is a no-op.
	again, err := svc.Generate(ctx, time.Now(), decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if again != "" {
		t.Errorf("once-per-day latch failed, got %q", again)
	}
}

func TestGenerateFailedWriteRetries(t *testing.T) {
	st, err := store.New(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	order := model.NewOrder("ORD-1", "SIG-1", "005930", model.SideBuy, 10, 0)
	if err := st.SaveOrder(ctx, order); err != nil {
		t.Fatalf("save order: %v", err)
	}

	// A regular file where the journal directory should be makes the
	// write fail.
	blocked := filepath.Join(t.TempDir(), "journal")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	svc := NewService(st, blocked, nil)

	if _, err := svc.Generate(ctx, time.Now(), decimal.Zero, decimal.Zero); err == nil {
		t.Fatal("expected a write failure")
	}
	if svc.GeneratedToday() {
		t.Fatal("a failed write must not latch the day")
	}

	// Retry into a usable directory succeeds the same day.
	svc.dir = t.TempDir()
	path, err := svc.Generate(ctx, time.Now(), decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if path == "" {
		t.Fatal("retry should write the journal")
	}
	if !svc.GeneratedToday() {
		t.Error("successful write must latch the day")
	}
}

func TestResetDayClearsLatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Generate(ctx, time.Now(), decimal.Zero, decimal.Zero); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !svc.GeneratedToday() {
		t.Fatal("latch should be set")
	}
	svc.ResetDay()
	if svc.GeneratedToday() {
		t.Error("latch should be cleared")
	}
}
