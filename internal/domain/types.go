// Package domain defines the core data types shared across the arena:
// candles, trades, strategy state, configuration, and performance metrics.
package domain

import "time"

// Candle is a single immutable OHLCV bar. The unique key is
// (Symbol, Timeframe, Timestamp); inserts into the candle cache are
// idempotent on that key.
type Candle struct {
	Symbol    string
	Timeframe Timeframe
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// TradeType is the side of an executed paper trade.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Trade is one executed paper trade. The ledger identity is
// (StrategyID, Timestamp): replaying a bar that already produced a recorded
// trade must not insert a duplicate. Profit and ProfitPct are only set on
// SELL trades.
type Trade struct {
	StrategyID string    `json:"strategy_id"`
	Type       TradeType `json:"type"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Value      float64   `json:"value"`
	Profit     float64   `json:"profit"`
	ProfitPct  float64   `json:"profit_pct"`
	Timestamp  time.Time `json:"timestamp"`
}

// StrategyState is the persisted state of one strategy slot in the arena.
//
// Invariant: Position > 0 implies EntryPrice > 0. While flat, CurrentCapital
// holds all of the strategy's cash; while long, CurrentCapital is zero and
// the value lives in the position.
type StrategyState struct {
	StrategyID     string
	DisplayName    string
	Tunable        bool
	Params         map[string]float64
	InitialCapital float64
	CurrentCapital float64
	Position       float64
	EntryPrice     float64
	LastSignal     int
	WinCount       int
	LossCount      int
	UpdatedAt      time.Time
}

// Funded reports whether capital has been allocated to this strategy.
func (s *StrategyState) Funded() bool { return s.InitialCapital > 0 }

// MarkValue returns the strategy's mark-to-market value at the given price.
func (s *StrategyState) MarkValue(price float64) float64 {
	if s.Position > 0 && price > 0 {
		return s.Position * price
	}
	return s.CurrentCapital
}

// ReturnPct returns the strategy's return over its initial capital at the
// given mark price, or 0 before allocation.
func (s *StrategyState) ReturnPct(price float64) float64 {
	if s.InitialCapital <= 0 {
		return 0
	}
	return (s.MarkValue(price) - s.InitialCapital) / s.InitialCapital * 100
}

// ArenaConfig is the immutable arena configuration. Changing any field
// requires a reset.
type ArenaConfig struct {
	Symbol           string
	Timeframe        Timeframe
	PerStrategyRatio float64
	Commission       float64
	PollInterval     time.Duration
	OptimizeInterval time.Duration
	StartDate        time.Time
}

// ArenaSnapshot is the atomically persisted aggregate: the configuration,
// the last time the process was known to be live, and every strategy's
// state. It is the unit of crash recovery.
type ArenaSnapshot struct {
	Config         ArenaConfig
	LastActiveTime time.Time
	Strategies     []StrategyState
}

// OptimizationRecord is one append-only entry in the parameter optimization
// ledger. Records survive arena resets as an audit trail.
type OptimizationRecord struct {
	StrategyID        string             `json:"strategy_id"`
	OldParams         map[string]float64 `json:"old_params"`
	NewParams         map[string]float64 `json:"new_params"`
	Reason            string             `json:"reason"`
	PerformanceBefore float64            `json:"performance_before"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Ticker is the market-data collaborator's latest quote for a symbol.
type Ticker struct {
	Symbol  string
	Last    float64
	Bid     float64
	Ask     float64
	High24h float64
	Low24h  float64
	Vol24h  float64
}

// Metrics holds the summary statistics of one backtest or reconciliation
// window.
type Metrics struct {
	InitialCapital float64
	FinalCapital   float64
	TotalReturnPct float64
	SharpeRatio    float64
	MaxDrawdownPct float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	TradingDays    int
	AvgDailyReturn float64
}

// BacktestRun is one append-only row in the backtest_results ledger.
type BacktestRun struct {
	ID            int64
	Symbol        string
	Timeframe     Timeframe
	StrategyID    string
	Params        map[string]float64
	Metrics       Metrics
	DataPoints    int
	Start         time.Time
	End           time.Time
	UserSpecified bool
	Notes         string
	CreatedAt     time.Time
}
