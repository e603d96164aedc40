package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"colosseum/internal/domain"
)

// Compile-time interface checks.
var _ ArenaStore = (*ArenaDB)(nil)

// ArenaDB implements ArenaStore backed by a SQLite database.
type ArenaDB struct {
	db *sql.DB
}

const arenaSchema = `
CREATE TABLE IF NOT EXISTS arena_state (
	id                    INTEGER PRIMARY KEY CHECK (id = 1),
	symbol                TEXT    NOT NULL,
	timeframe             TEXT    NOT NULL,
	per_strategy_ratio    REAL    NOT NULL,
	commission            REAL    NOT NULL,
	poll_interval_sec     INTEGER NOT NULL,
	optimize_interval_sec INTEGER NOT NULL,
	start_date            INTEGER NOT NULL,
	last_active_time      INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_state (
	strategy_id     TEXT PRIMARY KEY,
	display_name    TEXT    NOT NULL,
	tunable         INTEGER NOT NULL,
	params          TEXT    NOT NULL,
	initial_capital REAL    NOT NULL,
	current_capital REAL    NOT NULL,
	position        REAL    NOT NULL,
	entry_price     REAL    NOT NULL,
	last_signal     INTEGER NOT NULL,
	win_count       INTEGER NOT NULL,
	loss_count      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS arena_trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	type        TEXT NOT NULL,
	price       REAL NOT NULL,
	amount      REAL NOT NULL,
	value       REAL NOT NULL,
	profit      REAL NOT NULL,
	profit_pct  REAL NOT NULL,
	timestamp   INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	UNIQUE(strategy_id, timestamp)
);

CREATE TABLE IF NOT EXISTS param_optimization_history (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id        TEXT NOT NULL,
	old_params         TEXT NOT NULL,
	new_params         TEXT NOT NULL,
	reason             TEXT NOT NULL,
	performance_before REAL NOT NULL,
	timestamp          INTEGER NOT NULL
);
`

// NewArenaDB opens (or creates) a SQLite database at dbPath and ensures the
// schema exists.
func NewArenaDB(dbPath string) (*ArenaDB, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(arenaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating arena schema: %w", err)
	}
	return &ArenaDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *ArenaDB) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// SaveSnapshot persists the arena config, last-active time, and every
// strategy state within one transaction.
func (s *ArenaDB) SaveSnapshot(ctx context.Context, snap *domain.ArenaSnapshot) error {
	_, err := s.SaveSnapshotWithTrades(ctx, snap, nil)
	return err
}

// SaveSnapshotWithTrades persists the snapshot and appends the given trades
// in the same transaction, so the ledger can never get ahead of the state
// that produced it. Trades already recorded under their
// (strategy_id, timestamp) key are skipped; inserted is the number of new
// ledger rows.
func (s *ArenaDB) SaveSnapshotWithTrades(ctx context.Context, snap *domain.ArenaSnapshot, trades []domain.Trade) (inserted int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	cfg := snap.Config
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO arena_state
			(id, symbol, timeframe, per_strategy_ratio, commission,
			 poll_interval_sec, optimize_interval_sec, start_date,
			 last_active_time, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol                = excluded.symbol,
			timeframe             = excluded.timeframe,
			per_strategy_ratio    = excluded.per_strategy_ratio,
			commission            = excluded.commission,
			poll_interval_sec     = excluded.poll_interval_sec,
			optimize_interval_sec = excluded.optimize_interval_sec,
			start_date            = excluded.start_date,
			last_active_time      = excluded.last_active_time,
			updated_at            = excluded.updated_at`,
		cfg.Symbol, string(cfg.Timeframe), cfg.PerStrategyRatio, cfg.Commission,
		int64(cfg.PollInterval.Seconds()), int64(cfg.OptimizeInterval.Seconds()),
		cfg.StartDate.UnixMilli(), snap.LastActiveTime.UnixMilli(),
		now.UnixMilli()); err != nil {
		return 0, fmt.Errorf("saving arena state: %w", err)
	}

	for i := range snap.Strategies {
		st := &snap.Strategies[i]
		params, err := json.Marshal(st.Params)
		if err != nil {
			return 0, fmt.Errorf("encoding params for %s: %w", st.StrategyID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO strategy_state
				(strategy_id, display_name, tunable, params,
				 initial_capital, current_capital, position, entry_price,
				 last_signal, win_count, loss_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(strategy_id) DO UPDATE SET
				display_name    = excluded.display_name,
				tunable         = excluded.tunable,
				params          = excluded.params,
				initial_capital = excluded.initial_capital,
				current_capital = excluded.current_capital,
				position        = excluded.position,
				entry_price     = excluded.entry_price,
				last_signal     = excluded.last_signal,
				win_count       = excluded.win_count,
				loss_count      = excluded.loss_count,
				updated_at      = excluded.updated_at`,
			st.StrategyID, st.DisplayName, boolToInt(st.Tunable), string(params),
			st.InitialCapital, st.CurrentCapital, st.Position, st.EntryPrice,
			st.LastSignal, st.WinCount, st.LossCount, now.UnixMilli()); err != nil {
			return 0, fmt.Errorf("saving strategy %s: %w", st.StrategyID, err)
		}
	}

	for i := range trades {
		ok, err := insertTrade(ctx, tx, &trades[i], now)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}

	return inserted, tx.Commit()
}

// LoadSnapshot returns the persisted arena snapshot.
func (s *ArenaDB) LoadSnapshot(ctx context.Context) (*domain.ArenaSnapshot, error) {
	var (
		snap       domain.ArenaSnapshot
		tf         string
		pollSec    int64
		optSec     int64
		startDate  int64
		lastActive int64
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, timeframe, per_strategy_ratio, commission,
		       poll_interval_sec, optimize_interval_sec, start_date,
		       last_active_time, updated_at
		  FROM arena_state WHERE id = 1`).Scan(
		&snap.Config.Symbol, &tf, &snap.Config.PerStrategyRatio, &snap.Config.Commission,
		&pollSec, &optSec, &startDate, &lastActive, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	snap.Config.Timeframe = domain.Timeframe(tf)
	snap.Config.PollInterval = time.Duration(pollSec) * time.Second
	snap.Config.OptimizeInterval = time.Duration(optSec) * time.Second
	snap.Config.StartDate = time.UnixMilli(startDate).UTC()
	snap.LastActiveTime = time.UnixMilli(lastActive).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_id, display_name, tunable, params,
		       initial_capital, current_capital, position, entry_price,
		       last_signal, win_count, loss_count, updated_at
		  FROM strategy_state ORDER BY strategy_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st domain.StrategyState
		var tunable int
		var params string
		var stUpdated int64
		if err := rows.Scan(&st.StrategyID, &st.DisplayName, &tunable, &params,
			&st.InitialCapital, &st.CurrentCapital, &st.Position, &st.EntryPrice,
			&st.LastSignal, &st.WinCount, &st.LossCount, &stUpdated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &st.Params); err != nil {
			return nil, fmt.Errorf("decoding params for %s: %w", st.StrategyID, err)
		}
		st.Tunable = tunable != 0
		st.UpdatedAt = time.UnixMilli(stUpdated).UTC()
		snap.Strategies = append(snap.Strategies, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ---------------------------------------------------------------------------
// Trade ledger
// ---------------------------------------------------------------------------

// SaveTrade appends a trade, skipping duplicates on (strategy_id, timestamp).
func (s *ArenaDB) SaveTrade(ctx context.Context, trade *domain.Trade) (bool, error) {
	return insertTrade(ctx, s.db, trade, time.Now().UTC())
}

// execer abstracts *sql.DB and *sql.Tx so the trade insert runs either
// standalone or inside a snapshot transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTrade(ctx context.Context, e execer, trade *domain.Trade, createdAt time.Time) (bool, error) {
	res, err := e.ExecContext(ctx, `
		INSERT OR IGNORE INTO arena_trades
			(strategy_id, type, price, amount, value, profit, profit_pct,
			 timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.StrategyID, string(trade.Type), trade.Price, trade.Amount,
		trade.Value, trade.Profit, trade.ProfitPct,
		trade.Timestamp.UnixMilli(), createdAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("inserting trade: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Trades returns trades newest first. Empty strategyID matches all.
func (s *ArenaDB) Trades(ctx context.Context, strategyID string, limit int) ([]domain.Trade, error) {
	query := `
		SELECT strategy_id, type, price, amount, value, profit, profit_pct, timestamp
		  FROM arena_trades`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var typ string
		var ts int64
		if err := rows.Scan(&t.StrategyID, &typ, &t.Price, &t.Amount,
			&t.Value, &t.Profit, &t.ProfitPct, &ts); err != nil {
			return nil, err
		}
		t.Type = domain.TradeType(typ)
		t.Timestamp = time.UnixMilli(ts).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// Parameter optimization history
// ---------------------------------------------------------------------------

// SaveOptimization appends one optimization record.
func (s *ArenaDB) SaveOptimization(ctx context.Context, rec *domain.OptimizationRecord) error {
	oldParams, err := json.Marshal(rec.OldParams)
	if err != nil {
		return fmt.Errorf("encoding old params: %w", err)
	}
	newParams, err := json.Marshal(rec.NewParams)
	if err != nil {
		return fmt.Errorf("encoding new params: %w", err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO param_optimization_history
			(strategy_id, old_params, new_params, reason, performance_before, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.StrategyID, string(oldParams), string(newParams),
		rec.Reason, rec.PerformanceBefore, rec.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting optimization record: %w", err)
	}
	return nil
}

// Optimizations returns optimization records newest first. Empty strategyID
// matches all.
func (s *ArenaDB) Optimizations(ctx context.Context, strategyID string, limit int) ([]domain.OptimizationRecord, error) {
	query := `
		SELECT strategy_id, old_params, new_params, reason, performance_before, timestamp
		  FROM param_optimization_history`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.OptimizationRecord
	for rows.Next() {
		var r domain.OptimizationRecord
		var oldParams, newParams string
		var ts int64
		if err := rows.Scan(&r.StrategyID, &oldParams, &newParams,
			&r.Reason, &r.PerformanceBefore, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(oldParams), &r.OldParams); err != nil {
			return nil, fmt.Errorf("decoding old params: %w", err)
		}
		if err := json.Unmarshal([]byte(newParams), &r.NewParams); err != nil {
			return nil, fmt.Errorf("decoding new params: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

// Reset wipes the snapshot and trade ledger in one transaction. The
// optimization history table is deliberately left intact.
func (s *ArenaDB) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"arena_state", "strategy_state", "arena_trades"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return tx.Commit()
}
