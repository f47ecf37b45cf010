// Package metrics exposes Prometheus metrics and a health endpoint for
// the trading core.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading core.
type Metrics struct {
	TicksTotal        prometheus.Counter
	CandlesTotal      *prometheus.CounterVec // labels: timeframe
	SignalsTotal      *prometheus.CounterVec // labels: strategy, action
	OrdersTotal       *prometheus.CounterVec // labels: side, status
	FillsTotal        prometheus.Counter
	RejectionsTotal   *prometheus.CounterVec // labels: reason_class
	ErrorsTotal       *prometheus.CounterVec // labels: error_type
	KillSwitchActive  prometheus.Gauge
	ActiveOrders      prometheus.Gauge
	OpenPositions     prometheus.Gauge
	PortfolioEquity   prometheus.Gauge
	StoreWriteDur     prometheus.Histogram
	EventQueueDepth   prometheus.Gauge
	MarketOpen        prometheus.Gauge // 0=closed, 1=open
	ReconcileDuration prometheus.Histogram
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krader_ticks_total",
			Help: "Total ticks received from the broker feed",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krader_candles_total",
			Help: "Total closed candles (by timeframe)",
		}, []string{"timeframe"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krader_signals_total",
			Help: "Total strategy signals (by strategy and action)",
		}, []string{"strategy", "action"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krader_orders_total",
			Help: "Total order events (by side and status)",
		}, []string{"side", "status"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krader_fills_total",
			Help: "Total fills applied",
		}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krader_risk_rejections_total",
			Help: "Signals rejected by the risk validator",
		}, []string{"reason"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krader_errors_total",
			Help: "Total error events (by error type)",
		}, []string{"error_type"}),
		KillSwitchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krader_kill_switch_active",
			Help: "Kill switch state (0=inactive, 1=active)",
		}),
		ActiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krader_active_orders",
			Help: "Current number of working orders",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krader_open_positions",
			Help: "Current number of open positions",
		}),
		PortfolioEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krader_portfolio_equity_won",
			Help: "Total portfolio equity in won",
		}),
		StoreWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "krader_store_write_duration_seconds",
			Help:    "Store write latency",
			Buckets: prometheus.DefBuckets,
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krader_event_queue_depth",
			Help: "Events queued on the bus",
		}),
		MarketOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "krader_market_open",
			Help: "Trading session state (0=closed, 1=open)",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "krader_reconcile_duration_seconds",
			Help:    "Startup reconciliation latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.SignalsTotal,
		m.OrdersTotal,
		m.FillsTotal,
		m.RejectionsTotal,
		m.ErrorsTotal,
		m.KillSwitchActive,
		m.ActiveOrders,
		m.OpenPositions,
		m.PortfolioEquity,
		m.StoreWriteDur,
		m.EventQueueDepth,
		m.MarketOpen,
		m.ReconcileDuration,
	)
	return m
}

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerConnected bool      `json:"broker_connected"`
	StoreOK         bool      `json:"store_ok"`
	LastTickTime    time.Time `json:"last_tick_time"`
	KillSwitch      bool      `json:"kill_switch"`
	Paused          bool      `json:"paused"`
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`

	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetBrokerConnected(v bool) {
	h.mu.Lock()
	h.BrokerConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetKillSwitch(v bool) {
	h.mu.Lock()
	h.KillSwitch = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPaused(v bool) {
	h.mu.Lock()
	h.Paused = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRunID(id string) {
	h.mu.Lock()
	h.RunID = id
	h.mu.Unlock()
}

// CheckStore pings the database and records latency.
func (h *HealthStatus) CheckStore(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic store checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if db != nil {
					h.CheckStore(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	httpCode := http.StatusOK
	if !h.BrokerConnected || !h.StoreOK {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.KillSwitch {
		status = "killed"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	payload := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		BrokerConnected bool    `json:"broker_connected"`
		StoreOK         bool    `json:"store_ok"`
		StoreLatencyMs  float64 `json:"store_latency_ms"`
		TickAge         string  `json:"tick_age"`
		KillSwitch      bool    `json:"kill_switch"`
		Paused          bool    `json:"paused"`
		RunID           string  `json:"run_id"`
	}{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerConnected: h.BrokerConnected,
		StoreOK:         h.StoreOK,
		StoreLatencyMs:  h.StoreLatencyMs,
		TickAge:         tickAge,
		KillSwitch:      h.KillSwitch,
		Paused:          h.Paused,
		RunID:           h.RunID,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(payload)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
