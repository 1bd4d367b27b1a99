// Optionflow — an automated conditional trading system for Bybit options.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires both services, waits for SIGINT/SIGTERM
//	monitor/service.go   — price monitor: tasks, cross detection, at-most-once trigger webhooks
//	monitor/spot.go      — spot price poller for BTC-underlying triggers
//	monitor/webhook.go   — trigger delivery to the strategy engine
//	strategy/service.go  — strategy engine: strategy/level lifecycle, monitor provisioning
//	strategy/executor.go — serialized order execution with inter-order spacing
//	exchange/client.go   — Bybit v5 REST client (orders, tickers, balance)
//	exchange/ws.go       — public option ticker stream with auto-reconnect
//	store/store.go       — JSON file persistence (strategies, trades, tasks, settings)
//	api/                 — HTTP APIs for both services
//
// How it trades:
//
//	A strategy is a set of levels, each an option position with an entry
//	trigger. The monitor watches option mark prices (or the BTC spot price)
//	and fires a webhook when a target is crossed. The engine turns triggers
//	into orders, then watches take-profit and stop-loss targets to close,
//	optionally chaining new entries off a closed level.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"optionflow/internal/api"
	"optionflow/internal/config"
	"optionflow/internal/exchange"
	"optionflow/internal/monitor"
	"optionflow/internal/store"
	"optionflow/internal/strategy"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BYBIT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	venue := exchange.NewClient(cfg.Bybit, cfg.DryRun, logger)
	stream := exchange.NewTickerStream(cfg.Bybit.WSURL, logger)
	poller := monitor.NewSpotPoller(venue, cfg.Monitor.SpotPollInterval, logger)
	webhooks := monitor.NewWebhookDispatcher(cfg.Monitor.WebhookTimeout, logger)

	monitorSvc := monitor.NewService(cfg.Monitor, st, stream, poller, webhooks, logger)
	if err := monitorSvc.Restore(); err != nil {
		logger.Error("failed to restore monitor tasks", "error", err)
		os.Exit(1)
	}

	monitorClient := strategy.NewMonitorClient(cfg.Strategy.MonitorBaseURL, logger)
	strategySvc := strategy.NewService(cfg.Strategy, st, monitorClient, venue, logger)

	monitorServer := api.NewServer("monitor_server", cfg.Monitor.ListenAddr, api.NewMonitorMux(monitorSvc, st, logger), logger)
	strategyServer := api.NewServer("strategy_server", cfg.Strategy.ListenAddr, api.NewStrategyMux(strategySvc, st, logger), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ticker stream stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		monitorSvc.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		strategySvc.Run(ctx)
	}()

	go func() {
		if err := monitorServer.Start(); err != nil {
			logger.Error("monitor server failed", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := strategyServer.Start(); err != nil {
			logger.Error("strategy server failed", "error", err)
			cancel()
		}
	}()

	// Recreate whatever the monitor lost while we were down.
	if err := strategySvc.SyncAll(ctx); err != nil {
		logger.Error("startup strategy sync failed", "error", err)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("optionflow started",
		"monitor_addr", cfg.Monitor.ListenAddr,
		"strategy_addr", cfg.Strategy.ListenAddr,
		"testnet", cfg.Bybit.Testnet,
		"dry_run", cfg.DryRun,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := strategyServer.Stop(); err != nil {
		logger.Error("failed to stop strategy server", "error", err)
	}
	if err := monitorServer.Stop(); err != nil {
		logger.Error("failed to stop monitor server", "error", err)
	}
	stream.Close()
	wg.Wait()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
