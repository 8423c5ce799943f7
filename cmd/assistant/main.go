package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"trading-assistant-go/internal/config"
	"trading-assistant-go/internal/guard"
	"trading-assistant-go/internal/ledger"
	"trading-assistant-go/internal/logger"
	"trading-assistant-go/internal/marketdata"
	"trading-assistant-go/internal/portfolio"
	"trading-assistant-go/internal/ranking"
	"trading-assistant-go/internal/scheduler"
	"trading-assistant-go/internal/signals"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize the ledger store and recover state: current files,
	// legacy sqlite migration, or fresh-install seed.
	store, err := ledger.NewStore(cfg.Ledger.DataDir, log)
	if err != nil {
		log.Fatal("Failed to initialize ledger store", zap.Error(err))
	}
	var legacy *ledger.LegacyStore
	if cfg.Ledger.LegacyDSN != "" {
		legacy, err = ledger.OpenLegacy(cfg.Ledger.LegacyDSN, log)
		if err != nil {
			// A broken legacy store must not keep the assistant down.
			log.Warn("Failed to open legacy store, skipping migration", zap.Error(err))
		}
	}
	state, err := ledger.LoadOrMigrate(store, legacy, log)
	if err != nil {
		log.Fatal("Failed to load portfolio state", zap.Error(err))
	}
	log.Info("Portfolio state loaded",
		zap.Int("trades", len(state.Trades)),
		zap.Int("transactions", len(state.Transactions)))

	// Market data gateway: scores, decisions, plans, quotes and the
	// market calendar all come from the same service.
	client := marketdata.NewClient(&cfg.MarketData, log)

	ranker := ranking.NewEngine()
	outcomes := signals.NewFileOutcomeLogger(filepath.Join(cfg.Ledger.DataDir, "outcomes.jsonl"))
	guards := guard.Config{
		Cooldown:             cfg.Guards.Cooldown(),
		MinTimeBetweenTrades: cfg.Guards.MinTimeBetweenTrades(),
		MinHold:              cfg.Guards.MinHold(),
	}
	fees := signals.RateFeeModel{Rate: cfg.Trading.FeeRate}

	pf := portfolio.NewService(state, store, fees, guards, outcomes, ranker, log)
	pf.Start()

	agg := signals.NewAggregator(client, client, log)
	sched := scheduler.New(&cfg, agg, ranker, client, client, client, pf, log)

	api := scheduler.NewAPIServer(sched, pf, cfg.Server.Port, log)
	api.Start()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Live quote stream drives exit triggers between ticks.
	if cfg.MarketData.StreamURL != "" {
		stream := marketdata.NewStream(cfg.MarketData.StreamURL, cfg.Trading.Watchlist, sched.HandleQuote, log)
		go stream.Run(ctx)
	}

	sched.Enable()
	<-ctx.Done()

	sched.Disable()
	if err := api.Stop(context.Background()); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	pf.Stop()

	log.Info("Assistant has been shut down.")
}
