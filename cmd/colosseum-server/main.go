package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"colosseum/internal/arena"
	"colosseum/internal/config"
	"colosseum/internal/history"
	"colosseum/internal/httpapi"
	"colosseum/internal/marketdata"
	"colosseum/internal/optimize"
	"colosseum/internal/store"
	"colosseum/internal/util"
)

// providerRequestsPerMinute stays under the public crypto data rate limit.
const providerRequestsPerMinute = 180

func main() {
	cfgPath := "config/colosseum.yaml"
	if p := os.Getenv("COLOSSEUM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	arenaCfg, err := cfg.ArenaConfig()
	if err != nil {
		log.Fatalf("invalid arena config: %v", err)
	}

	candleDB, err := store.NewCandleDB(cfg.Storage.KlinesDB)
	if err != nil {
		log.Fatalf("opening klines db: %v", err)
	}
	defer candleDB.Close()

	arenaDB, err := store.NewArenaDB(cfg.Storage.ArenaDB)
	if err != nil {
		log.Fatalf("opening arena db: %v", err)
	}
	defer arenaDB.Close()

	provider := marketdata.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	hist := history.NewManager(provider, candleDB, providerRequestsPerMinute)
	a := arena.New(arenaCfg, provider, hist, arenaDB, optimize.New(nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Restore persisted state and replay any offline gap before going live.
	// A failed sync is not fatal: the arena starts from whatever state was
	// restored and the next sync can catch up.
	report, err := a.SyncAndReview(ctx, true, false)
	if err != nil {
		slog.Error("startup sync failed", "error", err)
	} else {
		slog.Info("startup sync complete",
			"synced", report.Synced,
			"initial_backtest", report.InitialBacktest,
			"offline_hours", report.OfflineHours,
			"bars", report.BarsSynced,
			"optimizations", len(report.Optimizations))
	}

	a.StartMonitoring()

	api := httpapi.NewServer(a, hist, candleDB)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	go func() {
		slog.Info("admin API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	a.StopMonitoring(30 * time.Second)
}
