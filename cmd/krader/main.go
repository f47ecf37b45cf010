// Command krader runs the automated KRX equities trading bot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"krader/config"
	"krader/internal/app"
	"krader/internal/broker"
	"krader/internal/logger"
	"krader/internal/model"
	"krader/internal/strategy"
	"krader/internal/universe"
)

var (
	flagConfig   string
	flagMode     string
	flagBroker   string
	flagAccount  string
	flagDB       string
	flagLogLevel string
	flagStrategy string
	flagList     bool
)

func main() {
	root := &cobra.Command{
		Use:           "krader",
		Short:         "Automated KRX equities trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagList {
				for _, name := range strategy.Available() {
					fmt.Println(name)
				}
				return nil
			}
			return run()
		},
	}

	root.Flags().StringVar(&flagConfig, "config", "", "config file path (optional)")
	root.Flags().StringVar(&flagMode, "mode", "", "run mode: live, paper, test")
	root.Flags().StringVar(&flagBroker, "broker", "", "broker adapter: real, mock")
	root.Flags().StringVar(&flagAccount, "account", "", "brokerage account number")
	root.Flags().StringVar(&flagDB, "db", "", "sqlite database path")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "DEBUG, INFO, WARNING, ERROR")
	root.Flags().StringVar(&flagStrategy, "strategy", "", "strategy name")
	root.Flags().BoolVar(&flagList, "list-strategies", false, "print registered strategies and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cfg)

	logs, err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Dir:        cfg.Logging.LogDir,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	if err != nil {
		return err
	}
	defer logs.Close()

	strat, err := strategy.Create(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return err
	}

	brk, err := buildBroker(cfg, logs)
	if err != nil {
		return err
	}

	uni := buildUniverse(cfg, logs)

	application := app.New(app.Options{
		Config:     cfg,
		Broker:     brk,
		Universe:   uni,
		Strategies: []strategy.Strategy{strat},
		Loggers:    logs,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		application.NoteExit(model.RunCrashed, err.Error())
		application.Shutdown()
		return err
	}

	go func() {
		<-ctx.Done()
		application.RequestShutdown()
	}()

	if err := application.Run(ctx); err != nil && ctx.Err() == nil {
		application.NoteExit(model.RunCrashed, err.Error())
		application.Shutdown()
		return err
	}
	application.Shutdown()
	return nil
}

// applyFlags lets CLI flags override the loaded configuration.
func applyFlags(cfg *config.Config) {
	if flagMode != "" {
		cfg.Mode = flagMode
	}
	if flagBroker != "" {
		cfg.Broker.Type = flagBroker
	}
	if flagAccount != "" {
		cfg.Broker.AccountNumber = flagAccount
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagStrategy != "" {
		cfg.Strategy.Name = flagStrategy
	}
	if cfg.Mode == "paper" || cfg.Mode == "test" {
		cfg.Broker.Type = "mock"
	}
}

func buildBroker(cfg *config.Config, logs *logger.Loggers) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case "mock":
		return broker.NewMock(500*time.Millisecond, logs.App), nil
	case "real":
		// The Kiwoom adapter ships as a separate build; this binary
		// only links the core.
		return nil, fmt.Errorf("real broker adapter is not linked into this binary, use --broker mock")
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

func buildUniverse(cfg *config.Config, logs *logger.Loggers) universe.Provider {
	symbols := cfg.Universe.DefaultSymbols
	if len(symbols) == 0 {
		symbols = universe.DefaultKOSPI
	}
	ttl := time.Duration(cfg.Universe.RefreshIntervalSec) * time.Second
	return universe.NewCached(&universe.Static{Symbols: symbols}, ttl, logs.App)
}
