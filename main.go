package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/internal/account"
	"settlement-core/internal/balance"
	"settlement-core/internal/engine"
	"settlement-core/internal/events"
	"settlement-core/internal/fees"
	"settlement-core/internal/fill"
	"settlement-core/internal/journal"
	"settlement-core/internal/market"
	"settlement-core/internal/monitor"
	"settlement-core/internal/reconciliation"
	"settlement-core/internal/sim"
	"settlement-core/pkg/config"
	"settlement-core/pkg/db"
	"settlement-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(
		logger.WithLoggingLevel(logger.Level(cfg.Log.Level)),
		logger.WithFormat(cfg.Log.Format),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, uuid.NewString())

	report, err := run(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, err)
		log.Sync() //nolint:errcheck
		os.Exit(1)
	}
	fmt.Print(report)

	for _, a := range report.Accounts {
		if a.Halted != nil {
			os.Exit(2)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) (*sim.Report, error) {
	runID := logger.RunID(ctx)

	scenario, err := sim.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, err
	}
	candles, err := loadCandles(cfg)
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "simulation starting",
		logger.NewField("scenario", cfg.ScenarioPath),
		logger.NewField("accounts", len(scenario.Accounts)),
		logger.NewField("orders", len(scenario.Orders)),
		logger.NewField("candles", len(candles)),
	)

	bus := events.NewBus()

	mon := monitor.New(bus, monitor.LogSink{Log: log}, log, monitor.FaultRule)
	mon.Start(ctx)
	defer func() {
		mon.Close()
		log.InfoContext(ctx, "monitor closed", logger.NewField("alerts", mon.Alerts()))
	}()

	if cfg.JournalPath != "" {
		database, err := db.New(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			return nil, err
		}
		if err := database.CreateRun(ctx, db.Run{ID: runID, Scenario: cfg.ScenarioPath, StartedAt: time.Now().UTC()}); err != nil {
			return nil, err
		}

		j := journal.New(database, bus, runID, log)
		j.Start(ctx)
		defer func() {
			if err := j.Close(); err != nil {
				log.ErrorContext(ctx, errors.Wrap(err, "close journal"))
			}
			m := j.Metrics()
			log.InfoContext(ctx, "journal closed",
				logger.NewField("writes", m.TotalWrites),
				logger.NewField("batches", m.TotalBatches),
				logger.NewField("dropped_events", bus.Dropped()),
			)
		}()
	}

	prices := market.NewPriceCache()
	fee := fees.NewPercentage(cfg.FeePercentage)
	emulator := newEmulator(cfg.Fill)
	limits := account.Limits(cfg.Limits)

	registry := sim.NewRegistry(func(accountID string) (*engine.Engine, error) {
		acc := account.NewManager(account.Config{
			ReferenceCurrency:       cfg.ReferenceCurrency,
			MarginReservePercentage: cfg.MarginReservePercentage,
			Limits:                  limits,
		}, balance.NewLedger(), prices)
		return engine.New(engine.Config{
			AccountID: accountID,
			Account:   acc,
			Fees:      fee,
			Emulator:  emulator,
			Prices:    prices,
			Bus:       bus,
			Logger:    log,
		})
	})

	auditor := reconciliation.NewService(log, decimal.Zero)
	runner, err := sim.NewRunner(registry, scenario, auditor, log)
	if err != nil {
		return nil, err
	}
	report, err := runner.Run(ctx, candles)
	if err != nil {
		return nil, err
	}

	audits, failed := auditor.Stats()
	m := runner.Metrics().Snapshot()
	log.InfoContext(ctx, "simulation finished",
		logger.NewField("audits", audits),
		logger.NewField("failed_audits", failed),
		logger.NewField("accepted", m.Accepted),
		logger.NewField("rejected", m.Rejected),
		logger.NewField("faults", m.Faults),
		logger.NewField("candle_p95_ms", m.CandleLatency.P95),
		logger.NewField("order_p95_ms", m.OrderLatency.P95),
		logger.NewField("elapsed", m.Elapsed.String()),
	)
	return report, nil
}

func loadCandles(cfg *config.Config) ([]market.Candle, error) {
	if cfg.CandlesPath != "" {
		return market.LoadCSV(cfg.CandlesPath, cfg.RandomWalk.Symbol)
	}
	rw := cfg.RandomWalk
	return market.RandomWalk{
		Symbol:     rw.Symbol,
		StartPrice: rw.StartPrice,
		Step:       rw.Step,
		Interval:   time.Minute,
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Seed:       rw.Seed,
	}.Generate(rw.Candles), nil
}

func newEmulator(fc config.FillConfig) fill.Emulator {
	sc := fill.SimConfig{SlippageBps: fc.SlippageBps, MarketAtClose: fc.MarketAtClose}
	if fc.Seed != 0 {
		sc.Rng = rand.New(rand.NewSource(fc.Seed))
	}
	if fc.Mode == "partial" {
		return fill.Partial{MaxVolumePct: fc.MaxVolumePct, Config: sc}
	}
	return fill.Immediate{Config: sc}
}
