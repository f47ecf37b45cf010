package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"krader/internal/broker"
	"krader/internal/model"
	"krader/internal/portfolio"
	"krader/internal/recovery"
	"krader/internal/risk"
	"krader/internal/store"
)

// shutdownFixture assembles the minimal App that Shutdown touches when
// closing out a run: store, broker, validator, and a reconciled run.
func shutdownFixture(t *testing.T) (*App, string) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "krader.db")

	st, err := store.New(dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	brk := broker.NewMock(0, nil)
	if err := brk.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	tracker := portfolio.NewTracker(st, nil)
	rec := recovery.NewReconciler(brk, st, tracker, nil)
	report := rec.Reconcile(ctx)
	if !report.Success {
		t.Fatalf("reconcile failed: %+v", report)
	}

	validator := risk.NewValidator(risk.Config{
		PositionSizePct:         decimal.NewFromFloat(0.05),
		MaxPositionSize:         100,
		MaxTradesPerDay:         20,
		MaxPortfolioExposurePct: decimal.NewFromFloat(0.8),
		DailyLossLimit:          decimal.NewFromInt(500_000),
		TradingStart:            "09:00",
		TradingEnd:              "15:30",
	}, nil)

	return &App{
		logger:     slog.Default(),
		store:      st,
		broker:     brk,
		validator:  validator,
		tracker:    tracker,
		reconciler: rec,
		exitStatus: model.RunCompleted,
	}, dbPath
}

func lastRunStatus(t *testing.T, dbPath string) *model.Run {
	t.Helper()
	st, err := store.New(dbPath, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	run, err := st.LastRun(context.Background())
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	return run
}

func TestShutdownRecordsCompletedRun(t *testing.T) {
	a, dbPath := shutdownFixture(t)
	a.Shutdown()

	run := lastRunStatus(t, dbPath)
	if run.Status != model.RunCompleted {
		t.Errorf("clean shutdown should end COMPLETED, got %s", run.Status)
	}
}

func TestShutdownRecordsKilledRun(t *testing.T) {
	a, dbPath := shutdownFixture(t)

	a.validator.ActivateKillSwitch("emergency stop")
	a.Shutdown()

	run := lastRunStatus(t, dbPath)
	if run.Status != model.RunKilled {
		t.Errorf("kill switch session should end KILLED, got %s", run.Status)
	}
	if run.ErrorMessage == "" {
		t.Error("killed run should record a reason")
	}
}

func TestShutdownCrashStatusWinsOverKillSwitch(t *testing.T) {
	a, dbPath := shutdownFixture(t)

	a.NoteExit(model.RunCrashed, "fatal handler error")
	a.validator.ActivateKillSwitch("emergency stop")
	a.Shutdown()

	run := lastRunStatus(t, dbPath)
	if run.Status != model.RunCrashed {
		t.Errorf("crash status must not be overridden, got %s", run.Status)
	}
	if run.ErrorMessage != "fatal handler error" {
		t.Errorf("crash message must survive: %q", run.ErrorMessage)
	}
}
