// Package journal writes a daily markdown trade report from the store:
// every order with its signal context and fills, plus a summary line.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/model"
	"krader/internal/store"
)

// Service generates at most one journal per trading day.
type Service struct {
	store  *store.Store
	dir    string
	logger *slog.Logger

	mu             sync.Mutex
	generatedToday bool
}

// NewService creates a journal service writing into dir.
func NewService(st *store.Store, dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, dir: dir, logger: logger}
}

// GeneratedToday reports whether today's journal was already written.
func (s *Service) GeneratedToday() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generatedToday
}

// ResetDay clears the once-per-day latch at the start of a new session.
func (s *Service) ResetDay() {
	s.mu.Lock()
	s.generatedToday = false
	s.mu.Unlock()
}

// Generate writes the journal for date. Returns the output path, or ""
// when there were no trades or the journal was already written today.
func (s *Service) Generate(ctx context.Context, date time.Time, equity, cash decimal.Decimal) (string, error) {
	s.mu.Lock()
	if s.generatedToday {
		s.mu.Unlock()
		return "", nil
	}
	s.mu.Unlock()

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	orders, err := s.store.OrdersBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return "", fmt.Errorf("journal orders: %w", err)
	}

	if len(orders) == 0 {
		s.mu.Lock()
		s.generatedToday = true
		s.mu.Unlock()
		s.logger.Info("no trades today, skipping journal")
		return "", nil
	}

	var b strings.Builder
	dateStr := dayStart.Format("2006-01-02")
	fmt.Fprintf(&b, "# Trade Journal %s\n\n", dateStr)
	s.writeSummary(&b, orders, equity, cash)

	for _, order := range orders {
		if err := s.writeTrade(ctx, &b, order); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("journal dir: %w", err)
	}
	path := filepath.Join(s.dir, dateStr+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}

	// Latch only after the file is on disk so a failed write retries.
	s.mu.Lock()
	s.generatedToday = true
	s.mu.Unlock()

	s.logger.Info("journal written", "path", path, "trades", len(orders))
	return path, nil
}

func (s *Service) writeSummary(b *strings.Builder, orders []*model.Order, equity, cash decimal.Decimal) {
	var filled, canceled, rejected int
	var buys, sells int
	for _, o := range orders {
		switch o.Status {
		case model.OrderFilled:
			filled++
		case model.OrderCanceled:
			canceled++
		case model.OrderRejected:
			rejected++
		}
		if o.Side == model.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(b, "| Orders | Filled | Canceled | Rejected | Buys | Sells |\n")
	fmt.Fprintf(b, "|---|---|---|---|---|---|\n")
	fmt.Fprintf(b, "| %d | %d | %d | %d | %d | %d |\n\n", len(orders), filled, canceled, rejected, buys, sells)
	fmt.Fprintf(b, "Equity: %s KRW, cash: %s KRW\n\n", equity.StringFixed(0), cash.StringFixed(0))
}

func (s *Service) writeTrade(ctx context.Context, b *strings.Builder, order *model.Order) error {
	fmt.Fprintf(b, "## %s %s %d @ %s\n\n", order.Side, order.Symbol, order.Quantity, priceStr(order))
	fmt.Fprintf(b, "- Order: `%s` (%s, status %s, filled %d/%d)\n",
		order.OrderID, order.OrderType, order.Status, order.FilledQuantity, order.Quantity)

	if order.SignalID != "" {
		fmt.Fprintf(b, "- Signal: `%s`\n", order.SignalID)
	}
	if order.RejectReason != "" {
		fmt.Fprintf(b, "- Reject reason: %s\n", order.RejectReason)
	}

	fills, err := s.store.FillsForOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("journal fills for %s: %w", order.OrderID, err)
	}
	for _, f := range fills {
		fmt.Fprintf(b, "- Fill `%s`: %d @ %d KRW at %s\n",
			f.FillID, f.Quantity, f.Price, f.FilledAt.Format("15:04:05"))
	}
	b.WriteString("\n")
	return nil
}

func priceStr(o *model.Order) string {
	if o.OrderType == model.OrderTypeMarket {
		return "market"
	}
	return fmt.Sprintf("%d KRW", o.Price)
}
