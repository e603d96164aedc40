package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"colosseum/internal/domain"
)

func testCandle(ts time.Time, close float64) domain.Candle {
	return domain.Candle{
		Symbol:    "BTC-USDT",
		Timeframe: domain.TF4H,
		Timestamp: ts,
		Open:      close - 10,
		High:      close + 20,
		Low:       close - 20,
		Close:     close,
		Volume:    100,
	}
}

func TestCandleDBSaveAndLoad(t *testing.T) {
	db, err := NewCandleDB(filepath.Join(t.TempDir(), "klines.db"))
	if err != nil {
		t.Fatalf("NewCandleDB: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []domain.Candle
	for i := 0; i < 5; i++ {
		candles = append(candles, testCandle(base.Add(time.Duration(i)*4*time.Hour), 50000+float64(i)))
	}

	n, err := db.SaveCandles(ctx, candles)
	if err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}
	if n != 5 {
		t.Errorf("inserted = %d, want 5", n)
	}

	// Re-inserting the same batch plus one new bar must only add the new bar.
	candles = append(candles, testCandle(base.Add(5*4*time.Hour), 50005))
	n, err = db.SaveCandles(ctx, candles)
	if err != nil {
		t.Fatalf("SaveCandles (second): %v", err)
	}
	if n != 1 {
		t.Errorf("inserted on replay = %d, want 1", n)
	}

	got, err := db.Candles(ctx, "BTC-USDT", domain.TF4H, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("len(candles) = %d, want 6", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("candles not ascending at %d", i)
		}
	}

	recent, err := db.RecentCandles(ctx, "BTC-USDT", domain.TF4H, 3)
	if err != nil {
		t.Fatalf("RecentCandles: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if !recent[2].Timestamp.Equal(base.Add(5 * 4 * time.Hour)) {
		t.Errorf("recent[2] = %s, want newest bar", recent[2].Timestamp)
	}

	cov, ok, err := db.GetCoverage(ctx, "BTC-USDT", domain.TF4H)
	if err != nil {
		t.Fatalf("GetCoverage: %v", err)
	}
	if !ok {
		t.Fatal("expected coverage entry")
	}
	if cov.TotalBars != 6 {
		t.Errorf("TotalBars = %d, want 6", cov.TotalBars)
	}
	if !cov.Earliest.Equal(base) || !cov.Latest.Equal(base.Add(5*4*time.Hour)) {
		t.Errorf("coverage range = [%s, %s]", cov.Earliest, cov.Latest)
	}

	if _, ok, _ := db.GetCoverage(ctx, "ETH-USDT", domain.TF4H); ok {
		t.Error("expected no coverage for uncached symbol")
	}
}

func TestCandleDBBacktestLedger(t *testing.T) {
	db, err := NewCandleDB(filepath.Join(t.TempDir(), "klines.db"))
	if err != nil {
		t.Fatalf("NewCandleDB: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ret := range []float64{2.5, 7.1, -1.2} {
		run := &domain.BacktestRun{
			Symbol:     "BTC-USDT",
			Timeframe:  domain.TF4H,
			StrategyID: "rsi",
			Params:     map[string]float64{"rsi_period": 14},
			Metrics: domain.Metrics{
				InitialCapital: 10000,
				FinalCapital:   10000 * (1 + ret/100),
				TotalReturnPct: ret,
			},
			DataPoints: 180,
			Start:      start,
			End:        start.AddDate(0, 1, 0),
			CreatedAt:  start.Add(time.Duration(i) * time.Hour),
		}
		if err := db.SaveBacktestRun(ctx, run); err != nil {
			t.Fatalf("SaveBacktestRun: %v", err)
		}
		if run.ID == 0 {
			t.Error("run.ID not set")
		}
	}

	runs, err := db.BacktestRuns(ctx, "BTC-USDT", domain.TF4H, 10)
	if err != nil {
		t.Fatalf("BacktestRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d, want 3", len(runs))
	}
	if runs[0].Metrics.TotalReturnPct != -1.2 {
		t.Errorf("newest run return = %v, want -1.2", runs[0].Metrics.TotalReturnPct)
	}

	best, err := db.BestRun(ctx, "BTC-USDT", domain.TF4H, "rsi")
	if err != nil {
		t.Fatalf("BestRun: %v", err)
	}
	if best == nil || best.Metrics.TotalReturnPct != 7.1 {
		t.Errorf("best run = %+v, want return 7.1", best)
	}
	if best.Params["rsi_period"] != 14 {
		t.Errorf("best run params = %v", best.Params)
	}

	none, err := db.BestRun(ctx, "BTC-USDT", domain.TF4H, "macd")
	if err != nil {
		t.Fatalf("BestRun (absent): %v", err)
	}
	if none != nil {
		t.Errorf("expected nil best run, got %+v", none)
	}
}

func testSnapshot() *domain.ArenaSnapshot {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.ArenaSnapshot{
		Config: domain.ArenaConfig{
			Symbol:           "BTC-USDT",
			Timeframe:        domain.TF4H,
			PerStrategyRatio: 0.1,
			Commission:       0.001,
			PollInterval:     time.Minute,
			OptimizeInterval: 4 * time.Hour,
			StartDate:        start,
		},
		LastActiveTime: start.AddDate(0, 2, 0),
		Strategies: []domain.StrategyState{
			{
				StrategyID:     "rsi",
				DisplayName:    "RSI Reversal",
				Tunable:        true,
				Params:         map[string]float64{"rsi_period": 14, "oversold": 30, "overbought": 70},
				InitialCapital: 1000,
				CurrentCapital: 0,
				Position:       0.02,
				EntryPrice:     51000,
				LastSignal:     1,
				WinCount:       3,
				LossCount:      1,
			},
			{
				StrategyID:     "macd",
				DisplayName:    "MACD Cross",
				Tunable:        true,
				Params:         map[string]float64{"fast": 12, "slow": 26, "signal": 9},
				InitialCapital: 1000,
				CurrentCapital: 1050,
			},
		},
	}
}

func TestArenaDBSnapshotRoundTrip(t *testing.T) {
	db, err := NewArenaDB(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("NewArenaDB: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if _, err := db.LoadSnapshot(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("LoadSnapshot on empty db: err = %v, want ErrNoSnapshot", err)
	}

	snap := testSnapshot()
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Config.Symbol != "BTC-USDT" || got.Config.Timeframe != domain.TF4H {
		t.Errorf("config = %+v", got.Config)
	}
	if got.Config.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v", got.Config.PollInterval)
	}
	if !got.LastActiveTime.Equal(snap.LastActiveTime) {
		t.Errorf("LastActiveTime = %s, want %s", got.LastActiveTime, snap.LastActiveTime)
	}
	if len(got.Strategies) != 2 {
		t.Fatalf("len(strategies) = %d, want 2", len(got.Strategies))
	}

	// Strategies are sorted by ID: macd first, then rsi.
	rsi := got.Strategies[1]
	if rsi.StrategyID != "rsi" || rsi.Position != 0.02 || rsi.EntryPrice != 51000 {
		t.Errorf("rsi state = %+v", rsi)
	}
	if rsi.Params["oversold"] != 30 {
		t.Errorf("rsi params = %v", rsi.Params)
	}
	if !rsi.Tunable || rsi.WinCount != 3 {
		t.Errorf("rsi flags = %+v", rsi)
	}

	// Saving again overwrites rather than duplicating.
	snap.Strategies[0].CurrentCapital = 1234
	snap.Strategies[0].Position = 0
	if err := db.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot (update): %v", err)
	}
	got, err = db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot (update): %v", err)
	}
	if len(got.Strategies) != 2 {
		t.Fatalf("len(strategies) after update = %d, want 2", len(got.Strategies))
	}
	if got.Strategies[1].CurrentCapital != 1234 {
		t.Errorf("updated capital = %v, want 1234", got.Strategies[1].CurrentCapital)
	}
}

func TestArenaDBTradeIdempotence(t *testing.T) {
	db, err := NewArenaDB(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("NewArenaDB: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	trade := &domain.Trade{
		StrategyID: "rsi",
		Type:       domain.TradeBuy,
		Price:      50000,
		Amount:     0.02,
		Value:      999,
		Timestamp:  ts,
	}

	inserted, err := db.SaveTrade(ctx, trade)
	if err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	if !inserted {
		t.Error("first insert reported skipped")
	}

	inserted, err = db.SaveTrade(ctx, trade)
	if err != nil {
		t.Fatalf("SaveTrade (replay): %v", err)
	}
	if inserted {
		t.Error("replayed trade was not skipped")
	}

	// Same timestamp for a different strategy is a distinct ledger row.
	other := *trade
	other.StrategyID = "macd"
	if inserted, _ := db.SaveTrade(ctx, &other); !inserted {
		t.Error("different strategy at same timestamp was skipped")
	}

	trades, err := db.Trades(ctx, "", 10)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("len(trades) = %d, want 2", len(trades))
	}

	only, err := db.Trades(ctx, "rsi", 10)
	if err != nil {
		t.Fatalf("Trades(rsi): %v", err)
	}
	if len(only) != 1 || only[0].StrategyID != "rsi" {
		t.Errorf("rsi trades = %+v", only)
	}
}

func TestArenaDBSnapshotAndTradesCommitTogether(t *testing.T) {
	db, err := NewArenaDB(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("NewArenaDB: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		{StrategyID: "rsi", Type: domain.TradeBuy, Price: 50000, Amount: 0.02, Value: 999, Timestamp: ts},
		{StrategyID: "macd", Type: domain.TradeBuy, Price: 50000, Amount: 0.01, Value: 499, Timestamp: ts},
	}
	inserted, err := db.SaveSnapshotWithTrades(ctx, testSnapshot(), trades)
	if err != nil {
		t.Fatalf("SaveSnapshotWithTrades: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}

	if _, err := db.LoadSnapshot(ctx); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	ledger, err := db.Trades(ctx, "", 10)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(ledger) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(ledger))
	}

	// Replaying the same save skips the already-recorded trades.
	inserted, err = db.SaveSnapshotWithTrades(ctx, testSnapshot(), trades)
	if err != nil {
		t.Fatalf("SaveSnapshotWithTrades (replay): %v", err)
	}
	if inserted != 0 {
		t.Errorf("replay inserted = %d, want 0", inserted)
	}
	ledger, _ = db.Trades(ctx, "", 10)
	if len(ledger) != 2 {
		t.Errorf("ledger grew to %d trades on replay", len(ledger))
	}
}

func TestArenaDBResetKeepsOptimizationHistory(t *testing.T) {
	db, err := NewArenaDB(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("NewArenaDB: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := db.SaveSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := db.SaveTrade(ctx, &domain.Trade{
		StrategyID: "rsi", Type: domain.TradeBuy, Price: 50000,
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	if err := db.SaveOptimization(ctx, &domain.OptimizationRecord{
		StrategyID:        "rsi",
		OldParams:         map[string]float64{"oversold": 30},
		NewParams:         map[string]float64{"oversold": 25},
		Reason:            "loosened entry after drawdown",
		PerformanceBefore: -3.5,
	}); err != nil {
		t.Fatalf("SaveOptimization: %v", err)
	}

	if err := db.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if _, err := db.LoadSnapshot(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("LoadSnapshot after reset: err = %v, want ErrNoSnapshot", err)
	}
	trades, _ := db.Trades(ctx, "", 10)
	if len(trades) != 0 {
		t.Errorf("trades survived reset: %d", len(trades))
	}
	recs, err := db.Optimizations(ctx, "rsi", 10)
	if err != nil {
		t.Fatalf("Optimizations: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("optimization history lost on reset: %d", len(recs))
	}
	if recs[0].NewParams["oversold"] != 25 {
		t.Errorf("record params = %v", recs[0].NewParams)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	arc := NewArchive(filepath.Join(dir, "archive"))
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []domain.Candle
	for i := 0; i < 4; i++ {
		candles = append(candles, testCandle(base.Add(time.Duration(i)*4*time.Hour), 50000+float64(i)))
	}

	files, err := arc.ArchiveCandles(candles)
	if err != nil {
		t.Fatalf("ArchiveCandles: %v", err)
	}
	if files != 1 {
		t.Errorf("files written = %d, want 1", files)
	}

	// Archiving an overlapping batch merges instead of duplicating.
	more := []domain.Candle{
		candles[3],
		testCandle(base.Add(4*4*time.Hour), 50004),
	}
	if _, err := arc.ArchiveCandles(more); err != nil {
		t.Fatalf("ArchiveCandles (merge): %v", err)
	}

	db, err := NewCandleDB(filepath.Join(dir, "klines.db"))
	if err != nil {
		t.Fatalf("NewCandleDB: %v", err)
	}
	defer db.Close()

	n, err := arc.ImportArchive(ctx, db, "BTC-USDT", domain.TF4H)
	if err != nil {
		t.Fatalf("ImportArchive: %v", err)
	}
	if n != 5 {
		t.Errorf("imported = %d, want 5", n)
	}

	got, err := db.Candles(ctx, "BTC-USDT", domain.TF4H, base, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len(candles) = %d, want 5", len(got))
	}
	if got[4].Close != 50004 {
		t.Errorf("last close = %v, want 50004", got[4].Close)
	}
}
