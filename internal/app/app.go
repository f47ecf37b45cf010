// Package app wires the trading core together and owns the run
// lifecycle: startup, the status loop, the universe refresh loop, and
// the ordered shutdown ladder.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"krader/config"
	"krader/internal/broker"
	"krader/internal/control"
	"krader/internal/events"
	"krader/internal/journal"
	"krader/internal/logger"
	"krader/internal/market"
	"krader/internal/metrics"
	"krader/internal/model"
	"krader/internal/notify"
	"krader/internal/oms"
	"krader/internal/portfolio"
	"krader/internal/recovery"
	"krader/internal/risk"
	"krader/internal/store"
	"krader/internal/strategy"
	"krader/internal/streams"
	"krader/internal/universe"
)

const (
	statusInterval   = 30 * time.Second
	runLoopTick      = time.Second
	shutdownStepWait = 10 * time.Second
)

// Options carries the externally constructed collaborators.
type Options struct {
	Config     *config.Config
	Broker     broker.Broker
	Universe   universe.Provider
	Strategies []strategy.Strategy
	Loggers    *logger.Loggers
}

// App is the assembled trading application.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	tradeLog *slog.Logger

	store      *store.Store
	bus        *events.Bus
	notifier   *notify.Service
	broker     broker.Broker
	validator  *risk.Validator
	oms        *oms.OMS
	tracker    *portfolio.Tracker
	reconciler *recovery.Reconciler
	marketSvc  *market.Service
	control    *control.Manager
	journal    *journal.Service
	publisher  *streams.Publisher
	metrics    *metrics.Metrics
	health     *metrics.HealthStatus
	metricsSrv *metrics.Server

	universe   universe.Provider
	strategies []strategy.Strategy
	timeframes []model.Timeframe

	mu              sync.Mutex
	dailyTrades     int
	universeSymbols map[string]bool // current universe subscriptions
	pinnedSymbols   map[string]bool // per-strategy symbols, never auto-unsubscribed
	lastTicks       map[string]model.Tick
	marketWasOpen   bool
	exitStatus      model.RunStatus
	exitMessage     string

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// New builds an App around the externally supplied collaborators.
// Start performs all I/O.
func New(opts Options) *App {
	return &App{
		cfg:             opts.Config,
		logger:          opts.Loggers.App,
		tradeLog:        opts.Loggers.Trade,
		broker:          opts.Broker,
		universe:        opts.Universe,
		strategies:      opts.Strategies,
		timeframes:      model.DefaultTimeframes,
		universeSymbols: make(map[string]bool),
		pinnedSymbols:   make(map[string]bool),
		lastTicks:       make(map[string]model.Tick),
		exitStatus:      model.RunCompleted,
	}
}

// Start runs the startup sequence. A reconciliation failure is fatal:
// the app refuses to start trading.
func (a *App) Start(ctx context.Context) error {
	var err error
	a.store, err = store.New(a.cfg.Database.Path, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	a.bus = events.NewBus(a.logger)
	a.bus.Start()

	a.notifier = notify.NewService(&notify.LogSender{Logger: a.logger}, a.logger)
	a.notifier.Start()

	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.health = metrics.NewHealthStatus()
		a.metricsSrv = metrics.NewServer(a.cfg.Metrics.Addr, a.health, a.logger)
		a.metricsSrv.Start()
		a.health.StartLivenessChecker(ctx, a.store.DB(), 15*time.Second)
		a.store.SetWriteObserver(func(d time.Duration) {
			a.metrics.StoreWriteDur.Observe(d.Seconds())
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	err = a.broker.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	if a.health != nil {
		a.health.SetBrokerConnected(true)
	}

	a.validator = risk.NewValidator(risk.Config{
		PositionSizePct:         decimal.NewFromFloat(a.cfg.Risk.PositionSizePct),
		MaxPositionSize:         a.cfg.Risk.MaxPositionSize,
		MaxTradesPerDay:         a.cfg.Risk.MaxTradesPerDay,
		MaxPortfolioExposurePct: decimal.NewFromFloat(a.cfg.Risk.MaxPortfolioExposurePct),
		TransactionCostRate:     decimal.NewFromFloat(a.cfg.Risk.TransactionCostRate),
		DailyLossLimit:          decimal.NewFromInt(a.cfg.Risk.DailyLossLimit),
		TradingStart:            a.cfg.Risk.TradingStart(),
		TradingEnd:              a.cfg.Risk.TradingEnd(),
	}, a.logger)

	a.oms = oms.New(a.broker, a.store, a.bus, a.logger)
	if _, err := a.oms.LoadActiveOrders(ctx); err != nil {
		return err
	}

	a.tracker = portfolio.NewTracker(a.store, a.logger)
	if err := a.tracker.LoadFromStore(ctx); err != nil {
		return err
	}

	a.reconciler = recovery.NewReconciler(a.broker, a.store, a.tracker, a.logger)
	reconcileStart := time.Now()
	report := a.reconciler.Reconcile(ctx)
	if a.metrics != nil {
		a.metrics.ReconcileDuration.Observe(time.Since(reconcileStart).Seconds())
	}
	if !report.Success {
		return fmt.Errorf("startup reconciliation failed (run %s), refusing to trade", report.RunID)
	}
	if a.health != nil {
		a.health.SetRunID(report.RunID)
	}
	for _, d := range report.Discrepancies {
		a.logger.Warn("reconciliation discrepancy", "detail", d)
	}

	var publisher *streams.Publisher
	if a.cfg.Streams.Enabled {
		publisher, err = streams.New(streams.Config{
			Addr:     a.cfg.Streams.Addr,
			Password: a.cfg.Streams.Password,
			DB:       a.cfg.Streams.DB,
		}, a.logger)
		if err != nil {
			// Candle streaming is best effort; trading runs without it.
			a.logger.Error("redis publisher unavailable, streaming disabled", "error", err)
			publisher = nil
		}
	}
	a.publisher = publisher
	a.marketSvc = market.NewService(a.broker, a.bus, a.store, publisher, a.timeframes, a.logger)

	a.journal = journal.NewService(a.store, a.cfg.Journal.Dir, a.logger)
	a.control = control.NewManager(a.oms, a.validator, a.bus, a.logger)

	if err := a.loadDailyTrades(ctx); err != nil {
		return err
	}

	a.subscribeHandlers()
	a.broker.SetErrorCallback(a.onBrokerError)

	for _, s := range a.strategies {
		if err := s.OnStart(); err != nil {
			return fmt.Errorf("strategy %s start: %w", s.Name(), err)
		}
		a.logger.Info("strategy started", "strategy", s.Name(), "symbols", s.Symbols())
	}

	if err := a.subscribeInitialSymbols(ctx); err != nil {
		return err
	}

	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	a.refreshCancel = refreshCancel
	a.refreshDone = make(chan struct{})
	go a.universeRefreshLoop(refreshCtx)

	a.mu.Lock()
	a.marketWasOpen = a.validator.IsMarketOpen(time.Now())
	a.mu.Unlock()

	a.logger.Info("krader started",
		"run_id", report.RunID, "mode", a.cfg.Mode,
		"positions_synced", report.PositionsSynced,
		"orders_updated", report.OrdersUpdated,
		"orders_canceled", report.OrdersCanceled,
		"daily_trades", a.DailyTrades())
	return nil
}

// loadDailyTrades restores today's trade count so the per-day limit
// survives restarts.
func (a *App) loadDailyTrades(ctx context.Context) error {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	n, err := a.store.CountOrdersToday(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("load daily trade count: %w", err)
	}
	a.mu.Lock()
	a.dailyTrades = n
	a.mu.Unlock()
	return nil
}

// DailyTrades returns today's order count.
func (a *App) DailyTrades() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dailyTrades
}

// subscribeInitialSymbols fetches the starting universe (falling back
// to the configured default list) and subscribes it plus every symbol
// the strategies pin.
func (a *App) subscribeInitialSymbols(ctx context.Context) error {
	symbols, err := a.universe.TopByTradingValue(ctx, a.cfg.Universe.Size)
	if err != nil || len(symbols) == 0 {
		fallback := a.cfg.Universe.DefaultSymbols
		if len(fallback) == 0 {
			fallback = universe.DefaultKOSPI
		}
		a.logger.Warn("universe fetch failed, using default list",
			"error", err, "fallback_size", len(fallback))
		symbols = fallback
	}

	a.mu.Lock()
	for _, sym := range symbols {
		a.universeSymbols[sym] = true
	}
	for _, s := range a.strategies {
		for _, sym := range s.Symbols() {
			a.pinnedSymbols[sym] = true
		}
	}
	all := make([]string, 0, len(a.universeSymbols)+len(a.pinnedSymbols))
	seen := make(map[string]bool)
	for sym := range a.universeSymbols {
		seen[sym] = true
		all = append(all, sym)
	}
	for sym := range a.pinnedSymbols {
		if !seen[sym] {
			all = append(all, sym)
		}
	}
	a.mu.Unlock()

	subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.marketSvc.Subscribe(subCtx, all); err != nil {
		// Subscribe timeouts are warnings, not fatal.
		a.logger.Warn("initial market data subscription incomplete", "error", err)
	}
	a.logger.Info("universe subscribed", "symbols", len(all))
	return nil
}

// Run blocks until shutdown is requested or ctx is canceled, emitting
// a status line every statusInterval and the daily journal when the
// session closes.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(runLoopTick)
	defer ticker.Stop()
	lastStatus := time.Now()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("run loop canceled")
			return ctx.Err()
		case <-ticker.C:
		}
		if a.control.ShutdownRequested() {
			a.logger.Info("run loop exiting on shutdown request")
			return nil
		}

		open := a.validator.IsMarketOpen(time.Now())
		a.mu.Lock()
		wasOpen := a.marketWasOpen
		a.marketWasOpen = open
		a.mu.Unlock()

		if a.metrics != nil {
			if open {
				a.metrics.MarketOpen.Set(1)
			} else {
				a.metrics.MarketOpen.Set(0)
			}
		}

		if wasOpen && !open {
			a.logger.Info("market closed, generating journal")
			a.generateJournal(ctx)
		}
		if !wasOpen && open {
			a.journal.ResetDay()
			a.tracker.ResetDailyPnL()
			a.mu.Lock()
			a.dailyTrades = 0
			a.mu.Unlock()
			a.logger.Info("market opened, daily counters reset")
		}

		if time.Since(lastStatus) >= statusInterval {
			lastStatus = time.Now()
			a.emitStatus(open)
		}
	}
}

func (a *App) emitStatus(marketOpen bool) {
	snap := a.tracker.Snapshot()
	a.logger.Info("status",
		"market_open", marketOpen,
		"paused", a.control.IsPaused(),
		"kill_switch", a.validator.KillSwitchActive(),
		"positions", len(snap.Positions),
		"equity", snap.TotalEquity,
		"cash", snap.Cash,
		"daily_pnl", snap.DailyPnL,
		"active_orders", a.oms.ActiveOrderCount(),
		"daily_trades", a.DailyTrades())
	if a.metrics != nil {
		a.metrics.ActiveOrders.Set(float64(a.oms.ActiveOrderCount()))
		a.metrics.OpenPositions.Set(float64(len(snap.Positions)))
		a.metrics.EventQueueDepth.Set(float64(a.bus.QueueLen()))
		equity, _ := snap.TotalEquity.Float64()
		a.metrics.PortfolioEquity.Set(equity)
		if a.validator.KillSwitchActive() {
			a.metrics.KillSwitchActive.Set(1)
		} else {
			a.metrics.KillSwitchActive.Set(0)
		}
	}
	if a.health != nil {
		a.health.SetPaused(a.control.IsPaused())
		a.health.SetKillSwitch(a.validator.KillSwitchActive())
	}
}

func (a *App) generateJournal(ctx context.Context) {
	snap := a.tracker.Snapshot()
	if _, err := a.journal.Generate(ctx, time.Now(), snap.TotalEquity, snap.Cash); err != nil {
		a.logger.Error("journal generation failed", "error", err)
	}
}

// universeRefreshLoop re-ranks the universe every refresh interval and
// applies the symbol deltas. An empty result keeps the previous
// universe and emits a warning.
func (a *App) universeRefreshLoop(ctx context.Context) {
	defer close(a.refreshDone)
	interval := time.Duration(a.cfg.Universe.RefreshIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		a.refreshUniverse(ctx)
	}
}

func (a *App) refreshUniverse(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	symbols, err := a.universe.TopByTradingValue(fetchCtx, a.cfg.Universe.Size)
	cancel()
	if err != nil || len(symbols) == 0 {
		a.bus.Publish(events.ErrorEvent{
			ErrorType: "universe",
			Message:   "universe refresh returned no symbols, keeping previous universe",
			Severity:  model.SeverityWarning,
			Context:   map[string]any{"error": fmt.Sprint(err)},
			Timestamp: time.Now(),
		})
		return
	}

	next := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		next[sym] = true
	}

	a.mu.Lock()
	var added, removed []string
	for sym := range next {
		if !a.universeSymbols[sym] {
			added = append(added, sym)
		}
	}
	for sym := range a.universeSymbols {
		if !next[sym] && !a.pinnedSymbols[sym] {
			removed = append(removed, sym)
		}
	}
	a.universeSymbols = next
	a.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if len(added) > 0 {
		if err := a.marketSvc.Subscribe(opCtx, added); err != nil {
			a.logger.Warn("universe subscribe failed", "symbols", added, "error", err)
		}
	}
	if len(removed) > 0 {
		if err := a.marketSvc.Unsubscribe(opCtx, removed); err != nil {
			a.logger.Warn("universe unsubscribe failed", "symbols", removed, "error", err)
		}
	}
	a.logger.Info("universe delta applied", "added", len(added), "removed", len(removed))
}

// RequestShutdown asks the run loop to exit. Safe from signal handlers.
func (a *App) RequestShutdown() {
	a.control.RequestShutdown()
}

// NoteExit overrides the run's terminal status (KILLED, CRASHED).
func (a *App) NoteExit(status model.RunStatus, message string) {
	a.mu.Lock()
	a.exitStatus = status
	a.exitMessage = message
	a.mu.Unlock()
}

// Shutdown tears the application down in a fixed order. Failures at
// one step are logged and the ladder continues.
func (a *App) Shutdown() {
	a.logger.Info("shutdown starting")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownStepWait)
	defer cancel()

	if a.refreshCancel != nil {
		a.refreshCancel()
		select {
		case <-a.refreshDone:
		case <-time.After(shutdownStepWait):
			a.logger.Warn("universe refresh loop did not stop in time, abandoning")
		}
	}

	for _, s := range a.strategies {
		if err := s.OnStop(); err != nil {
			a.logger.Error("strategy stop failed", "strategy", s.Name(), "error", err)
		}
	}

	if a.journal != nil {
		a.generateJournal(ctx)
	}

	if a.marketSvc != nil {
		if err := a.marketSvc.Shutdown(ctx); err != nil {
			a.logger.Error("market service shutdown failed", "error", err)
		}
	}

	if a.notifier != nil {
		a.notifier.Stop()
	}

	if a.bus != nil {
		a.bus.Stop()
	}

	if a.reconciler != nil {
		a.mu.Lock()
		status, message := a.exitStatus, a.exitMessage
		a.mu.Unlock()
		// A latched kill switch at shutdown ends the run KILLED unless a
		// crash already claimed the status.
		if status == model.RunCompleted && a.validator != nil && a.validator.KillSwitchActive() {
			status = model.RunKilled
			if message == "" {
				message = "kill switch active at shutdown"
			}
		}
		if err := a.reconciler.EndRun(ctx, status, message); err != nil {
			a.logger.Error("end run failed", "error", err)
		}
	}

	if a.metricsSrv != nil {
		a.metricsSrv.Stop(ctx)
	}
	if a.publisher != nil {
		a.publisher.Close()
	}

	if a.broker != nil {
		if err := a.broker.Disconnect(ctx); err != nil {
			a.logger.Error("broker disconnect failed", "error", err)
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("store close failed", "error", err)
		}
	}
	a.logger.Info("shutdown complete")
}
