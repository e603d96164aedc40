package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"colosseum/internal/domain"
)

// ---------------------------------------------------------------------------
// Parquet archive — cold storage for the candle cache
// ---------------------------------------------------------------------------

// Archive exports cached candles to Parquet files on disk and imports them
// back into a CandleStore. Files are grouped by symbol, timeframe, and year:
//
//	<DataDir>/<SYMBOL>/<TF>/<YYYY>.parquet
type Archive struct {
	DataDir string
}

// NewArchive creates an Archive rooted at the given data directory.
func NewArchive(dataDir string) *Archive {
	return &Archive{DataDir: dataDir}
}

// CandleRecord is the Parquet schema for archived candles.
type CandleRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timeframe string  `parquet:"timeframe"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ArchiveCandles writes candles to Parquet, merging with any records already
// on disk and deduplicating by timestamp. Returns the number of files
// written.
func (a *Archive) ArchiveCandles(candles []domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	type key struct {
		symbol string
		tf     string
		year   int
	}
	groups := make(map[key][]CandleRecord)
	for _, c := range candles {
		k := key{c.Symbol, string(c.Timeframe), c.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], CandleRecord{
			Symbol:    c.Symbol,
			Timeframe: string(c.Timeframe),
			Timestamp: c.Timestamp.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}

	written := 0
	for k, records := range groups {
		path := a.candlePath(k.symbol, k.tf, k.year)

		existing, _ := readParquetFile[CandleRecord](path)
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return written, fmt.Errorf("writing archive for %s/%s/%d: %w", k.symbol, k.tf, k.year, err)
		}
		written++
	}
	return written, nil
}

// ImportArchive loads every archived file for (symbol, timeframe) into the
// candle store. Returns the number of candles newly inserted.
func (a *Archive) ImportArchive(ctx context.Context, dst CandleStore, symbol string, tf domain.Timeframe) (int, error) {
	dir := filepath.Join(a.DataDir, strings.ToUpper(symbol), string(tf))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	total := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		records, err := readParquetFile[CandleRecord](filepath.Join(dir, e.Name()))
		if err != nil {
			return total, fmt.Errorf("reading archive %s: %w", e.Name(), err)
		}

		candles := make([]domain.Candle, 0, len(records))
		for _, r := range records {
			candles = append(candles, domain.Candle{
				Symbol:    symbol,
				Timeframe: tf,
				Timestamp: time.UnixMilli(r.Timestamp).UTC(),
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
		inserted, err := dst.SaveCandles(ctx, candles)
		if err != nil {
			return total, fmt.Errorf("importing archive %s: %w", e.Name(), err)
		}
		total += inserted
	}
	return total, nil
}

// candlePath returns the filesystem path for an archived candle file.
func (a *Archive) candlePath(symbol, tf string, year int) string {
	return filepath.Join(a.DataDir, strings.ToUpper(symbol), tf, fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates records by (symbol, timeframe, timestamp),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	type key struct {
		symbol string
		tf     string
		ts     int64
	}
	seen := make(map[key]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timeframe, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timeframe, r.Timestamp}] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
