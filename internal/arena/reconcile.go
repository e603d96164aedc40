package arena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"colosseum/internal/domain"
	"colosseum/internal/position"
	"colosseum/internal/store"
	"colosseum/internal/strategy"
)

// minOfflineGap is the shortest offline span worth replaying. Anything
// shorter is treated as an ordinary restart.
const minOfflineGap = time.Hour

// minReviewDays floors the history window fetched for a review so every
// indicator warms up before the replay range starts.
const minReviewDays = 30

// StrategyReview summarizes one strategy's activity over a review window.
type StrategyReview struct {
	DisplayName        string  `json:"display_name"`
	Tunable            bool    `json:"tunable"`
	BuySignals         int     `json:"buy_signals"`
	SellSignals        int     `json:"sell_signals"`
	TradesExecuted     int     `json:"trades_executed"`
	SimulatedReturnPct float64 `json:"simulated_return_pct"`
}

// SyncReport is the result of one SyncAndReview pass.
type SyncReport struct {
	Synced          bool                        `json:"synced"`
	InitialBacktest bool                        `json:"initial_backtest"`
	OfflineHours    float64                     `json:"offline_hours"`
	BarsSynced      int                         `json:"bars_synced"`
	Strategies      map[string]StrategyReview   `json:"strategies"`
	Optimizations   []domain.OptimizationRecord `json:"optimizations"`
}

// SyncAndReview restores the persisted arena state, replays every bar that
// arrived while the process was offline, and optionally lets the optimizer
// adjust the tunable strategies based on the window's performance.
//
// Two modes:
//   - First run (no snapshot, or no strategy funded, or forceFullBacktest):
//     every strategy is reverted to flat with its initial capital and the
//     replay starts at the configured start date.
//   - Catch-up: the replay starts at the snapshot's last active time and
//     continues from each strategy's persisted position and cash. Offline
//     gaps under an hour are skipped.
//
// Signal generation always runs over the full fetched history so indicators
// warm up correctly; only bars at or after the replay start mutate state.
// Replayed trades and the refreshed snapshot commit in one transaction, and
// trade insertion is idempotent, so re-running over an unchanged gap leaves
// the ledger unchanged.
func (a *Arena) SyncAndReview(ctx context.Context, autoOptimize, forceFullBacktest bool) (*SyncReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &SyncReport{Strategies: make(map[string]StrategyReview)}
	now := time.Now().UTC()

	snap, err := a.db.LoadSnapshot(ctx)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		snap = nil
	case err != nil:
		return nil, fmt.Errorf("loading snapshot: %w", err)
	default:
		a.restoreSnapshotLocked(snap)
	}

	firstRun := forceFullBacktest || snap == nil || a.noneFundedLocked()
	var replayStart time.Time
	if firstRun {
		replayStart = a.cfg.StartDate
		report.InitialBacktest = true
		if forceFullBacktest {
			a.revertToFlatLocked(now)
		}
		a.log.Info("full backtest from start date", "start", replayStart)
	} else {
		offline := now.Sub(snap.LastActiveTime)
		report.OfflineHours = offline.Hours()
		if offline < minOfflineGap {
			a.log.Info("offline gap too short, skipping review", "offline", offline)
			return report, nil
		}
		replayStart = snap.LastActiveTime
		a.log.Info("replaying offline gap",
			"offline_hours", report.OfflineHours, "start", replayStart)
	}

	days := int(now.Sub(a.cfg.StartDate).Hours()/24) + 2
	if days < minReviewDays {
		days = minReviewDays
	}
	candles, err := a.history.GetCandles(ctx, a.cfg.Symbol, a.cfg.Timeframe, days)
	if err != nil {
		return nil, fmt.Errorf("loading review history: %w", err)
	}
	if len(candles) == 0 {
		a.log.Warn("no candles available, skipping review")
		return report, nil
	}
	report.Synced = true
	report.BarsSynced = len(candles)

	// One mark price for every strategy's simulated return. A ticker
	// failure falls back to the last cached close.
	markPrice := candles[len(candles)-1].Close
	if ticker, err := a.provider.GetTicker(ctx, a.cfg.Symbol); err == nil && ticker.Last > 0 {
		markPrice = ticker.Last
	}

	var replayTrades []domain.Trade
	for _, kind := range strategy.Kinds() {
		st := a.states[string(kind)]
		review, trades, err := a.replayStrategyLocked(kind, st, candles, replayStart)
		if err != nil {
			return nil, err
		}
		replayTrades = append(replayTrades, trades...)
		review.SimulatedReturnPct = st.ReturnPct(markPrice)
		report.Strategies[st.StrategyID] = review
		a.log.Info("strategy reviewed",
			"strategy", st.StrategyID,
			"buy_signals", review.BuySignals, "sell_signals", review.SellSignals,
			"trades", review.TradesExecuted,
			"return_pct", review.SimulatedReturnPct)
	}

	if autoOptimize {
		recs, err := a.optimizeLocked(ctx, report, now)
		if err != nil {
			return nil, err
		}
		report.Optimizations = recs
	}

	if err := a.saveSnapshotLocked(ctx, now, replayTrades); err != nil {
		return nil, err
	}
	return report, nil
}

// replayStrategyLocked pushes the replay-range signals of one strategy
// through the position book, continuing from its current state. The trades
// it produces are returned for the caller to commit with the snapshot.
func (a *Arena) replayStrategyLocked(kind strategy.Kind, st *domain.StrategyState, candles []domain.Candle, replayStart time.Time) (StrategyReview, []domain.Trade, error) {
	review := StrategyReview{DisplayName: st.DisplayName, Tunable: st.Tunable}

	s, err := strategy.New(kind, st.Params)
	if err != nil {
		return review, nil, err
	}
	if len(candles) <= s.Warmup() {
		// Not enough history to warm up the indicators. Skip this
		// strategy for the cycle rather than trade on garbage.
		a.log.Warn("insufficient history for warmup, skipping strategy",
			"strategy", st.StrategyID, "bars", len(candles), "warmup", s.Warmup())
		return review, nil, nil
	}
	signals := s.Signals(candles)

	var trades []domain.Trade
	for i, candle := range candles {
		if candle.Timestamp.Before(replayStart) {
			continue
		}
		switch signals[i] {
		case 1:
			review.BuySignals++
		case -1:
			review.SellSignals++
		}
		trade := position.Apply(st, a.cfg.Commission, signals[i], candle.Close, candle.Timestamp)
		if trade == nil {
			continue
		}
		review.TradesExecuted++
		trades = append(trades, *trade)
	}
	return review, trades, nil
}

// optimizeLocked runs the parameter optimizer over the tunable strategies
// and records every applied change.
func (a *Arena) optimizeLocked(ctx context.Context, report *SyncReport, now time.Time) ([]domain.OptimizationRecord, error) {
	var recs []domain.OptimizationRecord
	for _, kind := range strategy.Kinds() {
		st := a.states[string(kind)]
		if !st.Tunable {
			continue
		}
		review := report.Strategies[st.StrategyID]

		newParams, reason, changed := a.opt.Suggest(kind, st.Params, review.SimulatedReturnPct)
		if !changed {
			continue
		}

		rec := domain.OptimizationRecord{
			StrategyID:        st.StrategyID,
			OldParams:         st.Params,
			NewParams:         newParams,
			Reason:            reason,
			PerformanceBefore: review.SimulatedReturnPct,
			Timestamp:         now,
		}
		if err := a.db.SaveOptimization(ctx, &rec); err != nil {
			return recs, fmt.Errorf("recording %s optimization: %w", st.StrategyID, err)
		}
		st.Params = newParams
		st.UpdatedAt = now
		recs = append(recs, rec)
		a.log.Info("parameters optimized",
			"strategy", st.StrategyID, "reason", reason,
			"old", rec.OldParams, "new", rec.NewParams)
	}
	return recs, nil
}

func (a *Arena) noneFundedLocked() bool {
	for _, st := range a.states {
		if st.Funded() {
			return false
		}
	}
	return true
}

// revertToFlatLocked puts every strategy back to flat with its initial
// capital and zeroed statistics, keeping its current parameters.
func (a *Arena) revertToFlatLocked(now time.Time) {
	for _, st := range a.states {
		st.CurrentCapital = st.InitialCapital
		st.Position = 0
		st.EntryPrice = 0
		st.LastSignal = 0
		st.WinCount = 0
		st.LossCount = 0
		st.UpdatedAt = now
	}
}
