package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"colosseum/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ CandleStore = (*CandleDB)(nil)

// CandleDB implements CandleStore backed by a SQLite database.
type CandleDB struct {
	db *sql.DB
}

const candleSchema = `
CREATE TABLE IF NOT EXISTS klines (
	symbol    TEXT    NOT NULL,
	timeframe TEXT    NOT NULL,
	timestamp INTEGER NOT NULL,
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	volume    REAL    NOT NULL,
	UNIQUE(symbol, timeframe, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_klines_lookup
	ON klines(symbol, timeframe, timestamp);

CREATE TABLE IF NOT EXISTS data_coverage (
	symbol     TEXT    NOT NULL,
	timeframe  TEXT    NOT NULL,
	earliest   INTEGER NOT NULL,
	latest     INTEGER NOT NULL,
	total_bars INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY(symbol, timeframe)
);

CREATE TABLE IF NOT EXISTS backtest_results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol           TEXT NOT NULL,
	timeframe        TEXT NOT NULL,
	strategy_id      TEXT NOT NULL,
	params           TEXT NOT NULL,
	initial_capital  REAL NOT NULL,
	final_capital    REAL NOT NULL,
	total_return_pct REAL NOT NULL,
	sharpe_ratio     REAL NOT NULL,
	max_drawdown_pct REAL NOT NULL,
	total_trades     INTEGER NOT NULL,
	winning_trades   INTEGER NOT NULL,
	losing_trades    INTEGER NOT NULL,
	win_rate         REAL NOT NULL,
	trading_days     INTEGER NOT NULL,
	avg_daily_return REAL NOT NULL,
	data_points      INTEGER NOT NULL,
	start_ts         INTEGER NOT NULL,
	end_ts           INTEGER NOT NULL,
	user_specified   INTEGER NOT NULL,
	notes            TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);
`

// NewCandleDB opens (or creates) a SQLite database at dbPath and ensures the
// schema exists.
func NewCandleDB(dbPath string) (*CandleDB, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(candleSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating candle schema: %w", err)
	}
	return &CandleDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *CandleDB) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Candle cache
// ---------------------------------------------------------------------------

// SaveCandles inserts candles idempotently and refreshes coverage for every
// (symbol, timeframe) pair touched.
func (s *CandleDB) SaveCandles(ctx context.Context, candles []domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO klines
			(symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	type pair struct {
		symbol string
		tf     domain.Timeframe
	}
	touched := make(map[pair]struct{})

	inserted := 0
	for _, c := range candles {
		res, err := stmt.ExecContext(ctx,
			c.Symbol, string(c.Timeframe), c.Timestamp.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return 0, fmt.Errorf("inserting candle %s/%s@%s: %w",
				c.Symbol, c.Timeframe, c.Timestamp, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
		touched[pair{c.Symbol, c.Timeframe}] = struct{}{}
	}

	for p := range touched {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO data_coverage (symbol, timeframe, earliest, latest, total_bars, updated_at)
			SELECT symbol, timeframe, MIN(timestamp), MAX(timestamp), COUNT(*), ?
			  FROM klines WHERE symbol = ? AND timeframe = ?
			ON CONFLICT(symbol, timeframe) DO UPDATE SET
				earliest   = excluded.earliest,
				latest     = excluded.latest,
				total_bars = excluded.total_bars,
				updated_at = excluded.updated_at`,
			time.Now().UnixMilli(), p.symbol, string(p.tf)); err != nil {
			return 0, fmt.Errorf("updating coverage for %s/%s: %w", p.symbol, p.tf, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Candles returns cached candles in [start, end) ascending by timestamp.
func (s *CandleDB) Candles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		  FROM klines
		 WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?
		 ORDER BY timestamp ASC`,
		symbol, string(tf), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandles(rows)
}

// RecentCandles returns the newest limit candles in ascending order.
func (s *CandleDB) RecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		  FROM (SELECT * FROM klines
		         WHERE symbol = ? AND timeframe = ?
		         ORDER BY timestamp DESC LIMIT ?)
		 ORDER BY timestamp ASC`,
		symbol, string(tf), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetCoverage returns the coverage entry for (symbol, timeframe).
func (s *CandleDB) GetCoverage(ctx context.Context, symbol string, tf domain.Timeframe) (Coverage, bool, error) {
	var earliest, latest, updatedAt int64
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT earliest, latest, total_bars, updated_at
		  FROM data_coverage WHERE symbol = ? AND timeframe = ?`,
		symbol, string(tf)).Scan(&earliest, &latest, &total, &updatedAt)
	if err == sql.ErrNoRows {
		return Coverage{}, false, nil
	}
	if err != nil {
		return Coverage{}, false, err
	}
	return Coverage{
		Symbol:    symbol,
		Timeframe: tf,
		Earliest:  time.UnixMilli(earliest).UTC(),
		Latest:    time.UnixMilli(latest).UTC(),
		TotalBars: total,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, true, nil
}

func scanCandles(rows *sql.Rows) ([]domain.Candle, error) {
	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var tf string
		var ts int64
		if err := rows.Scan(&c.Symbol, &tf, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Timeframe = domain.Timeframe(tf)
		c.Timestamp = time.UnixMilli(ts).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ---------------------------------------------------------------------------
// Backtest results ledger
// ---------------------------------------------------------------------------

// SaveBacktestRun appends a run to the ledger and sets run.ID.
func (s *CandleDB) SaveBacktestRun(ctx context.Context, run *domain.BacktestRun) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_results
			(symbol, timeframe, strategy_id, params,
			 initial_capital, final_capital, total_return_pct,
			 sharpe_ratio, max_drawdown_pct,
			 total_trades, winning_trades, losing_trades,
			 win_rate, trading_days, avg_daily_return,
			 data_points, start_ts, end_ts, user_specified, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Symbol, string(run.Timeframe), run.StrategyID, string(params),
		run.Metrics.InitialCapital, run.Metrics.FinalCapital, run.Metrics.TotalReturnPct,
		run.Metrics.SharpeRatio, run.Metrics.MaxDrawdownPct,
		run.Metrics.TotalTrades, run.Metrics.WinningTrades, run.Metrics.LosingTrades,
		run.Metrics.WinRate, run.Metrics.TradingDays, run.Metrics.AvgDailyReturn,
		run.DataPoints, run.Start.UnixMilli(), run.End.UnixMilli(),
		boolToInt(run.UserSpecified), run.Notes, run.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting backtest run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// BacktestRuns returns the most recent runs, newest first.
func (s *CandleDB) BacktestRuns(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx, backtestSelect+`
		 WHERE symbol = ? AND timeframe = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		symbol, string(tf), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBacktestRuns(rows)
}

// BestRun returns the highest-return run for a strategy, or nil.
func (s *CandleDB) BestRun(ctx context.Context, symbol string, tf domain.Timeframe, strategyID string) (*domain.BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx, backtestSelect+`
		 WHERE symbol = ? AND timeframe = ? AND strategy_id = ?
		 ORDER BY total_return_pct DESC, id DESC LIMIT 1`,
		symbol, string(tf), strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanBacktestRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

const backtestSelect = `
		SELECT id, symbol, timeframe, strategy_id, params,
		       initial_capital, final_capital, total_return_pct,
		       sharpe_ratio, max_drawdown_pct,
		       total_trades, winning_trades, losing_trades,
		       win_rate, trading_days, avg_daily_return,
		       data_points, start_ts, end_ts, user_specified, notes, created_at
		  FROM backtest_results`

func scanBacktestRuns(rows *sql.Rows) ([]domain.BacktestRun, error) {
	var runs []domain.BacktestRun
	for rows.Next() {
		var r domain.BacktestRun
		var tf, params string
		var startTS, endTS, createdAt int64
		var userSpecified int
		if err := rows.Scan(&r.ID, &r.Symbol, &tf, &r.StrategyID, &params,
			&r.Metrics.InitialCapital, &r.Metrics.FinalCapital, &r.Metrics.TotalReturnPct,
			&r.Metrics.SharpeRatio, &r.Metrics.MaxDrawdownPct,
			&r.Metrics.TotalTrades, &r.Metrics.WinningTrades, &r.Metrics.LosingTrades,
			&r.Metrics.WinRate, &r.Metrics.TradingDays, &r.Metrics.AvgDailyReturn,
			&r.DataPoints, &startTS, &endTS, &userSpecified, &r.Notes, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("decoding params for run %d: %w", r.ID, err)
		}
		r.Timeframe = domain.Timeframe(tf)
		r.Start = time.UnixMilli(startTS).UTC()
		r.End = time.UnixMilli(endTS).UTC()
		r.UserSpecified = userSpecified != 0
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// openSQLite opens a SQLite database with a single connection. The modernc
// driver serializes writers, so one connection avoids SQLITE_BUSY churn.
func openSQLite(dbPath string) (*sql.DB, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
