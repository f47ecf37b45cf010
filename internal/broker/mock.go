package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/internal/model"
)

// seedPrices holds starting prices (won) for KOSPI blue chips so the
// synthetic feed produces plausible magnitudes.
var seedPrices = map[string]int64{
	"005930": 72000,  // Samsung Electronics
	"000660": 130000, // SK Hynix
	"373220": 450000, // LG Energy Solution
	"207940": 750000, // Samsung Biologics
	"005380": 210000, // Hyundai Motor
	"006400": 380000, // Samsung SDI
	"051910": 460000, // LG Chem
	"035420": 210000, // NAVER
	"000270": 95000,  // Kia
	"105560": 65000,  // KB Financial
	"055550": 42000,  // Shinhan Financial
	"035720": 45000,  // Kakao
	"003670": 320000, // POSCO Holdings
	"068270": 180000, // Celltrion
	"028260": 130000, // Samsung C&T
	"012330": 240000, // Hyundai Mobis
	"066570": 100000, // LG Electronics
	"003550": 80000,  // LG
	"096770": 110000, // SK Innovation
	"034730": 170000, // SK
}

const defaultSeedPrice = 50000

// RoundToTickSize rounds a price to the KRX tick-size grid.
func RoundToTickSize(price int64) int64 {
	var step int64
	switch {
	case price < 2000:
		step = 1
	case price < 5000:
		step = 5
	case price < 20000:
		step = 10
	case price < 50000:
		step = 50
	case price < 200000:
		step = 100
	case price < 500000:
		step = 500
	default:
		step = 1000
	}
	rounded := (price + step/2) / step * step
	if rounded < step {
		return step
	}
	return rounded
}

// Mock is an in-process broker with a synthetic random-walk tick
// generator. Used for paper trading and tests; no network I/O.
type Mock struct {
	mu            sync.Mutex
	connected     bool
	orderCounter  int64
	subscriptions map[string]TickCallback
	prices        map[string]float64
	errorCb       ErrorCallback

	tickInterval time.Duration
	rng          *rand.Rand
	cancelTicks  context.CancelFunc
	tickDone     chan struct{}

	// Balance returned by FetchBalance; configurable for tests.
	StartingEquity decimal.Decimal

	logger *slog.Logger
}

// NewMock creates a mock broker with the given tick interval.
func NewMock(tickInterval time.Duration, logger *slog.Logger) *Mock {
	if tickInterval <= 0 {
		tickInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mock{
		subscriptions:  make(map[string]TickCallback),
		prices:         make(map[string]float64),
		tickInterval:   tickInterval,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		StartingEquity: decimal.NewFromInt(10_000_000),
		logger:         logger,
	}
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.logger.Info("mock broker connected")
	return nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	cancel := m.cancelTicks
	done := m.tickDone
	m.cancelTicks = nil
	m.tickDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.logger.Info("mock broker disconnected")
	return nil
}

func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) PlaceOrder(ctx context.Context, order *model.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", &ConnectionLostError{Message: "mock broker not connected"}
	}
	m.orderCounter++
	return fmt.Sprintf("MOCK-%d", m.orderCounter), nil
}

func (m *Mock) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	return true, nil
}

func (m *Mock) AmendOrder(ctx context.Context, brokerOrderID string, quantity, price int64) (bool, error) {
	return true, nil
}

func (m *Mock) FetchPositions(ctx context.Context) ([]Position, error) {
	return nil, nil
}

func (m *Mock) FetchOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	return nil, nil
}

func (m *Mock) FetchBalance(ctx context.Context) (Balance, error) {
	return Balance{
		TotalEquity:   m.StartingEquity,
		AvailableCash: m.StartingEquity,
	}, nil
}

func (m *Mock) SubscribeMarketData(ctx context.Context, symbols []string, cb TickCallback) error {
	m.mu.Lock()
	for _, sym := range symbols {
		m.subscriptions[sym] = cb
		if _, ok := m.prices[sym]; !ok {
			seed, found := seedPrices[sym]
			if !found {
				seed = defaultSeedPrice
			}
			m.prices[sym] = float64(seed)
		}
	}
	needStart := m.cancelTicks == nil && len(m.subscriptions) > 0
	var tickCtx context.Context
	if needStart {
		tickCtx, m.cancelTicks = context.WithCancel(context.Background())
		m.tickDone = make(chan struct{})
	}
	done := m.tickDone
	m.mu.Unlock()

	if needStart {
		go m.generateTicks(tickCtx, done)
		m.logger.Info("mock tick generator started", "symbols", len(symbols))
	}
	return nil
}

func (m *Mock) UnsubscribeMarketData(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	for _, sym := range symbols {
		delete(m.subscriptions, sym)
		delete(m.prices, sym)
	}
	stop := len(m.subscriptions) == 0 && m.cancelTicks != nil
	cancel := m.cancelTicks
	done := m.tickDone
	if stop {
		m.cancelTicks = nil
		m.tickDone = nil
	}
	m.mu.Unlock()

	if stop {
		cancel()
		<-done
		m.logger.Info("mock tick generator stopped, no subscriptions")
	}
	return nil
}

func (m *Mock) SetErrorCallback(cb ErrorCallback) {
	m.mu.Lock()
	m.errorCb = cb
	m.mu.Unlock()
}

// generateTicks walks each subscribed symbol's price ~0.03% per tick and
// invokes the registered callbacks until the context is cancelled.
func (m *Mock) generateTicks(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.emitTicks()
		}
	}
}

func (m *Mock) emitTicks() {
	m.mu.Lock()
	type pending struct {
		cb   TickCallback
		tick model.Tick
	}
	batch := make([]pending, 0, len(m.subscriptions))
	for sym, cb := range m.subscriptions {
		price, ok := m.prices[sym]
		if !ok {
			continue
		}
		change := m.rng.NormFloat64() * 0.0003
		price *= 1 + change
		price = math.Max(price, 1)
		intPrice := RoundToTickSize(int64(math.Round(price)))
		m.prices[sym] = float64(intPrice)

		volume := int64(m.rng.Intn(500) + 1)
		tick, err := model.NewTick(sym, intPrice, volume, time.Now())
		if err != nil {
			continue
		}
		batch = append(batch, pending{cb: cb, tick: tick})
	}
	m.mu.Unlock()

	// Callbacks run outside the lock; a subscriber can re-enter the mock.
	for _, p := range batch {
		p.cb(p.tick)
	}
}
