// Package position implements the long-only position state machine shared by
// live execution, backtests, and gap replay. Keeping the transition in one
// place guarantees that a replayed bar produces exactly the trade the live
// path would have produced.
package position

import (
	"time"

	"colosseum/internal/domain"
)

// Apply advances one strategy slot by a single (signal, price) step and
// returns the executed trade, or nil when the signal is a no-op.
//
// Transitions:
//   - signal 1 while flat with cash: buy with all cash, commission deducted
//     from the amount bought.
//   - signal -1 while long: sell the whole position, commission deducted
//     from the proceeds; win/loss counters update from the realized profit.
//   - anything else: hold.
func Apply(st *domain.StrategyState, commission float64, signal int, price float64, ts time.Time) *domain.Trade {
	if price <= 0 {
		return nil
	}

	var trade *domain.Trade

	switch {
	case signal == 1 && st.Position == 0 && st.CurrentCapital > 0:
		amount := st.CurrentCapital * (1 - commission) / price
		cost := st.CurrentCapital

		st.Position = amount
		st.EntryPrice = price
		st.CurrentCapital = 0

		trade = &domain.Trade{
			StrategyID: st.StrategyID,
			Type:       domain.TradeBuy,
			Price:      price,
			Amount:     amount,
			Value:      cost,
			Timestamp:  ts,
		}

	case signal == -1 && st.Position > 0:
		sellValue := st.Position * price * (1 - commission)
		costBasis := st.Position * st.EntryPrice
		profit := sellValue - costBasis
		profitPct := profit / costBasis * 100

		if profit > 0 {
			st.WinCount++
		} else {
			st.LossCount++
		}

		trade = &domain.Trade{
			StrategyID: st.StrategyID,
			Type:       domain.TradeSell,
			Price:      price,
			Amount:     st.Position,
			Value:      sellValue,
			Profit:     profit,
			ProfitPct:  profitPct,
			Timestamp:  ts,
		}

		st.CurrentCapital = sellValue
		st.Position = 0
		st.EntryPrice = 0
	}

	st.LastSignal = signal
	st.UpdatedAt = ts
	return trade
}
