package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"colosseum/internal/backtest"
	"colosseum/internal/config"
	"colosseum/internal/domain"
	"colosseum/internal/history"
	"colosseum/internal/marketdata"
	"colosseum/internal/store"
	"colosseum/internal/strategy"
	"colosseum/internal/util"
)

const providerRequestsPerMinute = 180

func main() {
	days := flag.Int("days", 90, "history window in days")
	capital := flag.Float64("capital", 10000, "starting capital per run")
	only := flag.String("strategy", "", "run a single strategy (default: all)")
	flag.Parse()

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

	provider := marketdata.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	hist := history.NewManager(provider, candleDB, providerRequestsPerMinute)

	ctx := context.Background()
	candles, err := hist.GetCandles(ctx, arenaCfg.Symbol, arenaCfg.Timeframe, *days)
	if err != nil {
		log.Fatalf("loading history: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("no candles for %s/%s", arenaCfg.Symbol, arenaCfg.Timeframe)
	}

	kinds := strategy.Kinds()
	if *only != "" {
		kinds = []strategy.Kind{strategy.Kind(*only)}
	}

	engine := backtest.New(*capital, arenaCfg.Commission)
	var runs []domain.BacktestRun

	for _, kind := range kinds {
		strat, err := strategy.New(kind, nil)
		if err != nil {
			log.Fatalf("building strategy %s: %v", kind, err)
		}
		result, err := engine.Run(strat, candles)
		if err != nil {
			log.Fatalf("running %s: %v", kind, err)
		}

		run := domain.BacktestRun{
			Symbol:     arenaCfg.Symbol,
			Timeframe:  arenaCfg.Timeframe,
			StrategyID: result.StrategyID,
			Params:     result.Params,
			Metrics:    result.Metrics,
			DataPoints: result.DataPoints,
			Start:      result.Start,
			End:        result.End,
		}
		if err := candleDB.SaveBacktestRun(ctx, &run); err != nil {
			log.Fatalf("recording %s run: %v", kind, err)
		}
		runs = append(runs, run)
	}

	fmt.Printf("%s %s, %d bars, %s to %s\n\n",
		arenaCfg.Symbol, arenaCfg.Timeframe, len(candles),
		candles[0].Timestamp.Format("2006-01-02"),
		candles[len(candles)-1].Timestamp.Format("2006-01-02"))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tRETURN%\tSHARPE\tMAXDD%\tTRADES\tWINRATE%\tFINAL")
	for _, run := range runs {
		m := run.Metrics
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t%.1f\t%.2f\n",
			run.StrategyID, m.TotalReturnPct, m.SharpeRatio, m.MaxDrawdownPct,
			m.TotalTrades, m.WinRate, m.FinalCapital)
	}
	w.Flush()
}
