// Package store defines storage interfaces for persisting and retrieving
// domain objects: cached candles, backtest results, arena snapshots, the
// trade ledger, and the parameter optimization history.
package store

import (
	"context"
	"errors"
	"time"

	"colosseum/internal/domain"
)

// ErrNoSnapshot is returned by LoadSnapshot when the arena has never been
// persisted (first run, or after a reset).
var ErrNoSnapshot = errors.New("store: no arena snapshot")

// Coverage describes the cached candle range for one (symbol, timeframe).
type Coverage struct {
	Symbol    string
	Timeframe domain.Timeframe
	Earliest  time.Time
	Latest    time.Time
	TotalBars int
	UpdatedAt time.Time
}

// CandleStore persists and retrieves cached OHLCV candles plus the
// append-only backtest results ledger kept alongside them.
type CandleStore interface {
	// SaveCandles inserts candles, silently skipping rows whose
	// (symbol, timeframe, timestamp) key already exists, and refreshes
	// the coverage entry. Returns the number of newly inserted rows.
	SaveCandles(ctx context.Context, candles []domain.Candle) (int, error)

	// Candles returns cached candles for [start, end) in ascending order.
	Candles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)

	// RecentCandles returns the newest limit candles in ascending order.
	RecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error)

	// GetCoverage returns the coverage entry, or ok=false when the pair
	// has never been cached.
	GetCoverage(ctx context.Context, symbol string, tf domain.Timeframe) (Coverage, bool, error)

	// SaveBacktestRun appends one row to the backtest results ledger and
	// sets run.ID.
	SaveBacktestRun(ctx context.Context, run *domain.BacktestRun) error

	// BacktestRuns returns the most recent runs, newest first, up to limit.
	BacktestRuns(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.BacktestRun, error)

	// BestRun returns the highest-return recorded run for a strategy, or
	// nil when none exists.
	BestRun(ctx context.Context, symbol string, tf domain.Timeframe, strategyID string) (*domain.BacktestRun, error)
}

// ArenaStore persists and retrieves the arena snapshot, the trade ledger,
// and the parameter optimization history.
type ArenaStore interface {
	// SaveSnapshot atomically persists the full arena snapshot. Either
	// the whole snapshot lands or none of it does.
	SaveSnapshot(ctx context.Context, snap *domain.ArenaSnapshot) error

	// SaveSnapshotWithTrades persists the snapshot and appends the given
	// trades in the same transaction: either the snapshot and all new
	// trades commit, or none of them do. Trades whose
	// (strategy_id, timestamp) key is already recorded are skipped;
	// inserted is the number of new ledger rows.
	SaveSnapshotWithTrades(ctx context.Context, snap *domain.ArenaSnapshot, trades []domain.Trade) (inserted int, err error)

	// LoadSnapshot returns the persisted snapshot, or ErrNoSnapshot.
	LoadSnapshot(ctx context.Context) (*domain.ArenaSnapshot, error)

	// Trades returns a strategy's trades, newest first, up to limit.
	// An empty strategyID returns trades for all strategies.
	Trades(ctx context.Context, strategyID string, limit int) ([]domain.Trade, error)

	// SaveOptimization appends one parameter optimization record.
	SaveOptimization(ctx context.Context, rec *domain.OptimizationRecord) error

	// Optimizations returns optimization records, newest first, up to
	// limit. An empty strategyID returns records for all strategies.
	Optimizations(ctx context.Context, strategyID string, limit int) ([]domain.OptimizationRecord, error)

	// Reset deletes the snapshot and the trade ledger. The optimization
	// history is kept as an audit trail.
	Reset(ctx context.Context) error
}
