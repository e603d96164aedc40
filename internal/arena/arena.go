// Package arena runs the paper-trading competition: five strategies share
// one market, each with its own slice of capital, its own parameters, and
// its own long-only position. The arena polls the market, turns each
// strategy's latest signal into trades through the shared position book, and
// persists every mutation so a restart picks up exactly where it left off.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"colosseum/internal/domain"
	"colosseum/internal/history"
	"colosseum/internal/marketdata"
	"colosseum/internal/optimize"
	"colosseum/internal/position"
	"colosseum/internal/store"
	"colosseum/internal/strategy"
)

// signalWindowDays is how much history the live signal computation loads.
// Generous enough for every catalog strategy's warmup on the configured
// timeframe.
const signalWindowDays = 30

// tickTimeout bounds one poll-loop iteration.
const tickTimeout = 45 * time.Second

// ErrOpenPosition is returned by AllocateCapital(force=true) while any
// strategy holds an open position. Overwriting capital under an open
// position would silently destroy its value; the caller must wait for flat
// or reset explicitly.
var ErrOpenPosition = errors.New("arena: open position, forced reallocation refused")

// ErrUnknownStrategy is returned for a strategy id not in the catalog.
var ErrUnknownStrategy = errors.New("arena: unknown strategy")

// Arena is the competition aggregate. All public methods are safe for
// concurrent use; one mutex serializes the poll loop, admin calls, and
// reconciliation.
type Arena struct {
	cfg      domain.ArenaConfig
	provider marketdata.Provider
	history  *history.Manager
	db       store.ArenaStore
	opt      *optimize.Optimizer
	log      *slog.Logger

	mu     sync.Mutex
	states map[string]*domain.StrategyState

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates an Arena with one empty state per catalog strategy. Call
// SyncAndReview afterwards to restore persisted state and replay any
// offline gap.
func New(cfg domain.ArenaConfig, provider marketdata.Provider, hist *history.Manager, db store.ArenaStore, opt *optimize.Optimizer) *Arena {
	states := make(map[string]*domain.StrategyState, len(strategy.Kinds()))
	for _, kind := range strategy.Kinds() {
		s, _ := strategy.New(kind, nil)
		states[string(kind)] = &domain.StrategyState{
			StrategyID:  string(kind),
			DisplayName: s.DisplayName(),
			Tunable:     s.Tunable(),
			Params:      s.Params(),
		}
	}
	return &Arena{
		cfg:      cfg,
		provider: provider,
		history:  hist,
		db:       db,
		opt:      opt,
		log:      slog.Default().With("component", "arena"),
		states:   states,
	}
}

// Config returns the immutable arena configuration.
func (a *Arena) Config() domain.ArenaConfig { return a.cfg }

// ---------------------------------------------------------------------------
// Capital allocation
// ---------------------------------------------------------------------------

// AllocationReport describes one AllocateCapital call.
type AllocationReport struct {
	PerStrategy float64  `json:"per_strategy"`
	Funded      []string `json:"funded"`
	Skipped     []string `json:"skipped"`
}

// AllocateCapital splits total across the strategies, giving each
// total * PerStrategyRatio. Already-funded strategies are skipped unless
// force is set, so re-running allocation after a restart is safe. A forced
// reallocation is refused with ErrOpenPosition while any strategy is long.
func (a *Arena) AllocateCapital(ctx context.Context, total float64, force bool) (*AllocationReport, error) {
	if total <= 0 {
		return nil, fmt.Errorf("arena: total capital %v must be positive", total)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if force {
		for _, st := range a.states {
			if st.Position > 0 {
				return nil, fmt.Errorf("%w: %s holds %v units", ErrOpenPosition, st.StrategyID, st.Position)
			}
		}
	}

	per := total * a.cfg.PerStrategyRatio
	now := time.Now().UTC()
	report := &AllocationReport{PerStrategy: per}

	for _, kind := range strategy.Kinds() {
		st := a.states[string(kind)]
		if st.Funded() && !force {
			report.Skipped = append(report.Skipped, st.StrategyID)
			continue
		}
		st.InitialCapital = per
		st.CurrentCapital = per
		st.Position = 0
		st.EntryPrice = 0
		st.UpdatedAt = now
		report.Funded = append(report.Funded, st.StrategyID)
	}

	if err := a.saveSnapshotLocked(ctx, now, nil); err != nil {
		return nil, err
	}
	a.log.Info("capital allocated",
		"per_strategy", per, "funded", len(report.Funded), "skipped", len(report.Skipped))
	return report, nil
}

// ---------------------------------------------------------------------------
// Signals and execution
// ---------------------------------------------------------------------------

// CurrentSignals computes each strategy's latest signal from the recent
// candle history. The returned map is keyed by strategy id.
func (a *Arena) CurrentSignals(ctx context.Context) (map[string]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentSignalsLocked(ctx)
}

func (a *Arena) currentSignalsLocked(ctx context.Context) (map[string]int, error) {
	candles, err := a.history.GetCandles(ctx, a.cfg.Symbol, a.cfg.Timeframe, signalWindowDays)
	if err != nil {
		return nil, fmt.Errorf("loading signal window: %w", err)
	}
	if len(candles) == 0 {
		return nil, errors.New("arena: no candles available for signal computation")
	}

	signals := make(map[string]int, len(a.states))
	for _, kind := range strategy.Kinds() {
		st := a.states[string(kind)]
		s, err := strategy.New(kind, st.Params)
		if err != nil {
			return nil, err
		}
		sigs := s.Signals(candles)
		signals[st.StrategyID] = sigs[len(sigs)-1]
	}
	return signals, nil
}

// CheckAndExecute runs one tick: fetch the current price once, compute every
// strategy's latest signal, and push each signal through the position book.
// Executed trades and the updated snapshot commit in one transaction.
func (a *Arena) CheckAndExecute(ctx context.Context) ([]domain.Trade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ticker, err := a.provider.GetTicker(ctx, a.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching ticker: %w", err)
	}
	if ticker.Last <= 0 {
		return nil, fmt.Errorf("arena: ticker price %v unusable", ticker.Last)
	}

	signals, err := a.currentSignalsLocked(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var executed []domain.Trade
	for _, kind := range strategy.Kinds() {
		st := a.states[string(kind)]
		trade := position.Apply(st, a.cfg.Commission, signals[st.StrategyID], ticker.Last, now)
		if trade == nil {
			continue
		}
		executed = append(executed, *trade)
		a.log.Info("trade executed",
			"strategy", st.StrategyID, "type", string(trade.Type),
			"price", trade.Price, "amount", trade.Amount, "profit", trade.Profit)
	}

	if err := a.saveSnapshotLocked(ctx, now, executed); err != nil {
		return nil, err
	}
	return executed, nil
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// StrategyStatus is the read-only projection of one strategy slot.
type StrategyStatus struct {
	StrategyID     string             `json:"strategy_id"`
	DisplayName    string             `json:"display_name"`
	Tunable        bool               `json:"tunable"`
	Params         map[string]float64 `json:"params"`
	InitialCapital float64            `json:"initial_capital"`
	CurrentCapital float64            `json:"current_capital"`
	Position       float64            `json:"position"`
	EntryPrice     float64            `json:"entry_price"`
	LastSignal     int                `json:"last_signal"`
	MarkValue      float64            `json:"mark_value"`
	ReturnPct      float64            `json:"return_pct"`
	WinCount       int                `json:"win_count"`
	LossCount      int                `json:"loss_count"`
	WinRate        float64            `json:"win_rate"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Status is the arena-level read-only projection.
type Status struct {
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	Running      bool             `json:"running"`
	CurrentPrice float64          `json:"current_price"`
	LastBarTime  time.Time        `json:"last_bar_time,omitzero"`
	Strategies   []StrategyStatus `json:"strategies"`
}

// Status returns the current arena projection with every strategy marked to
// the latest price. A ticker failure degrades to cash-basis values.
func (a *Arena) Status(ctx context.Context) (*Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var price float64
	var lastBar time.Time
	ticker, err := a.provider.GetTicker(ctx, a.cfg.Symbol)
	if err != nil {
		a.log.Warn("status ticker fetch failed", "error", err)
	} else {
		price = ticker.Last
	}
	if candles, err := a.history.GetCandles(ctx, a.cfg.Symbol, a.cfg.Timeframe, 2); err == nil && len(candles) > 0 {
		lastBar = candles[len(candles)-1].Timestamp
	}

	status := &Status{
		Symbol:       a.cfg.Symbol,
		Timeframe:    string(a.cfg.Timeframe),
		Running:      a.running,
		CurrentPrice: price,
		LastBarTime:  lastBar,
	}
	for _, kind := range strategy.Kinds() {
		st := a.states[string(kind)]
		status.Strategies = append(status.Strategies, projectStrategy(st, price))
	}
	return status, nil
}

func projectStrategy(st *domain.StrategyState, price float64) StrategyStatus {
	winRate := 0.0
	if closed := st.WinCount + st.LossCount; closed > 0 {
		winRate = float64(st.WinCount) / float64(closed) * 100
	}
	params := make(map[string]float64, len(st.Params))
	for k, v := range st.Params {
		params[k] = v
	}
	return StrategyStatus{
		StrategyID:     st.StrategyID,
		DisplayName:    st.DisplayName,
		Tunable:        st.Tunable,
		Params:         params,
		InitialCapital: st.InitialCapital,
		CurrentCapital: st.CurrentCapital,
		Position:       st.Position,
		EntryPrice:     st.EntryPrice,
		LastSignal:     st.LastSignal,
		MarkValue:      st.MarkValue(price),
		ReturnPct:      st.ReturnPct(price),
		WinCount:       st.WinCount,
		LossCount:      st.LossCount,
		WinRate:        winRate,
		UpdatedAt:      st.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// UpdateParams merges new parameters into a tunable strategy and persists
// the snapshot. Fixed strategies are rejected with strategy.ErrFixedParams.
func (a *Arena) UpdateParams(ctx context.Context, strategyID string, params map[string]float64) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[strategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategyID)
	}

	s, err := strategy.New(strategy.Kind(st.StrategyID), st.Params)
	if err != nil {
		return nil, err
	}
	updated, err := s.WithParams(params)
	if err != nil {
		return nil, err
	}

	st.Params = updated.Params()
	now := time.Now().UTC()
	st.UpdatedAt = now
	if err := a.saveSnapshotLocked(ctx, now, nil); err != nil {
		return nil, err
	}
	a.log.Info("strategy parameters updated", "strategy", strategyID)
	return updated.Params(), nil
}

// ---------------------------------------------------------------------------
// Monitoring loop
// ---------------------------------------------------------------------------

// StartMonitoring starts the background poll loop. Starting an already
// running arena is a no-op.
func (a *Arena) StartMonitoring() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.monitorLoop(a.stop, a.done)
	a.log.Info("monitoring started", "poll_interval", a.cfg.PollInterval)
}

// StopMonitoring signals the poll loop to stop and waits for it up to
// timeout. It reports whether the loop exited in time; an in-flight tick is
// allowed to finish, never aborted.
func (a *Arena) StopMonitoring(timeout time.Duration) bool {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return true
	}
	a.running = false
	close(a.stop)
	done := a.done
	a.mu.Unlock()

	select {
	case <-done:
		a.log.Info("monitoring stopped")
		return true
	case <-time.After(timeout):
		a.log.Warn("monitor loop did not stop in time", "timeout", timeout)
		return false
	}
}

// Running reports whether the poll loop is active.
func (a *Arena) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Arena) monitorLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			trades, err := a.CheckAndExecute(ctx)
			cancel()
			if err != nil {
				// A bad tick is retried on the next interval.
				a.log.Error("tick failed", "error", err)
				continue
			}
			if len(trades) > 0 {
				a.log.Info("tick complete", "trades", len(trades))
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Reset and ledgers
// ---------------------------------------------------------------------------

// Reset clears the persisted snapshot and trade ledger and reverts every
// strategy to its unfunded default state. The optimization history is kept.
func (a *Arena) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.db.Reset(ctx); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	for _, kind := range strategy.Kinds() {
		s, _ := strategy.New(kind, nil)
		a.states[string(kind)] = &domain.StrategyState{
			StrategyID:  string(kind),
			DisplayName: s.DisplayName(),
			Tunable:     s.Tunable(),
			Params:      s.Params(),
		}
	}
	a.log.Info("arena reset")
	return nil
}

// Trades returns recorded trades, newest first. An empty strategyID returns
// all strategies' trades.
func (a *Arena) Trades(ctx context.Context, strategyID string, limit int) ([]domain.Trade, error) {
	return a.db.Trades(ctx, strategyID, limit)
}

// Optimizations returns optimization records, newest first.
func (a *Arena) Optimizations(ctx context.Context, strategyID string, limit int) ([]domain.OptimizationRecord, error) {
	return a.db.Optimizations(ctx, strategyID, limit)
}

// ---------------------------------------------------------------------------
// Persistence helpers
// ---------------------------------------------------------------------------

// saveSnapshotLocked commits the snapshot and any trades from the current
// cycle in one transaction, so a crash can never leave a recorded trade
// without the state that produced it.
func (a *Arena) saveSnapshotLocked(ctx context.Context, lastActive time.Time, trades []domain.Trade) error {
	snap := &domain.ArenaSnapshot{
		Config:         a.cfg,
		LastActiveTime: lastActive,
	}
	for _, kind := range strategy.Kinds() {
		snap.Strategies = append(snap.Strategies, *a.states[string(kind)])
	}
	if _, err := a.db.SaveSnapshotWithTrades(ctx, snap, trades); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// restoreSnapshotLocked merges persisted strategy rows into the in-memory
// states. Rows for strategies no longer in the catalog are ignored.
func (a *Arena) restoreSnapshotLocked(snap *domain.ArenaSnapshot) {
	for i := range snap.Strategies {
		row := &snap.Strategies[i]
		st, ok := a.states[row.StrategyID]
		if !ok {
			a.log.Warn("ignoring persisted state for unknown strategy", "strategy", row.StrategyID)
			continue
		}
		st.InitialCapital = row.InitialCapital
		st.CurrentCapital = row.CurrentCapital
		st.Position = row.Position
		st.EntryPrice = row.EntryPrice
		st.LastSignal = row.LastSignal
		st.WinCount = row.WinCount
		st.LossCount = row.LossCount
		st.UpdatedAt = row.UpdatedAt
		if len(row.Params) > 0 {
			st.Params = row.Params
		}
	}
}
