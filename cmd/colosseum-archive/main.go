package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"colosseum/internal/config"
	"colosseum/internal/store"
	"colosseum/internal/util"
)

func main() {
	mode := flag.String("mode", "export", "export (cache -> parquet) or import (parquet -> cache)")
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

	archive := store.NewArchive(cfg.Storage.ArchiveDir)
	ctx := context.Background()

	switch *mode {
	case "export":
		cov, ok, err := candleDB.GetCoverage(ctx, arenaCfg.Symbol, arenaCfg.Timeframe)
		if err != nil {
			log.Fatalf("reading coverage: %v", err)
		}
		if !ok {
			log.Fatalf("nothing cached for %s/%s", arenaCfg.Symbol, arenaCfg.Timeframe)
		}
		candles, err := candleDB.Candles(ctx, arenaCfg.Symbol, arenaCfg.Timeframe,
			cov.Earliest, cov.Latest.Add(time.Millisecond))
		if err != nil {
			log.Fatalf("loading candles: %v", err)
		}
		files, err := archive.ArchiveCandles(candles)
		if err != nil {
			log.Fatalf("writing archive: %v", err)
		}
		fmt.Printf("archived %d candles into %d files under %s\n", len(candles), files, cfg.Storage.ArchiveDir)

	case "import":
		inserted, err := archive.ImportArchive(ctx, candleDB, arenaCfg.Symbol, arenaCfg.Timeframe)
		if err != nil {
			log.Fatalf("importing archive: %v", err)
		}
		fmt.Printf("imported %d new candles for %s/%s\n", inserted, arenaCfg.Symbol, arenaCfg.Timeframe)

	default:
		log.Fatalf("unknown mode %q (want export or import)", *mode)
	}
}
