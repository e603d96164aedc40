// Package backtest replays a strategy over a historical candle series and
// summarizes the outcome. It shares the position state machine with live
// execution, so a backtest over the bars the arena traded live reproduces
// the same fills.
package backtest

import (
	"errors"
	"math"
	"time"

	"colosseum/internal/domain"
	"colosseum/internal/position"
	"colosseum/internal/strategy"
)

// ErrNoData is returned when Run is given an empty candle series.
var ErrNoData = errors.New("backtest: no candles")

// tradingDaysPerYear annualizes the Sharpe ratio for a market that never
// closes.
const tradingDaysPerYear = 365

// Engine runs bar-by-bar simulations with fixed starting conditions.
type Engine struct {
	InitialCapital float64
	Commission     float64
}

// New creates an Engine.
func New(initialCapital, commission float64) *Engine {
	return &Engine{InitialCapital: initialCapital, Commission: commission}
}

// Result holds one simulation's full output: the equity curve (one point per
// bar), the executed trades, and the summary metrics.
type Result struct {
	StrategyID string
	Params     map[string]float64
	Equity     []float64
	Trades     []domain.Trade
	Metrics    domain.Metrics
	Start      time.Time
	End        time.Time
	DataPoints int
}

// Run simulates the strategy over the candle series. The first bar only
// seeds the equity curve; trading starts on the second bar.
func (e *Engine) Run(strat strategy.Strategy, candles []domain.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, ErrNoData
	}

	signals := strat.Signals(candles)

	st := &domain.StrategyState{
		StrategyID:     string(strat.Kind()),
		InitialCapital: e.InitialCapital,
		CurrentCapital: e.InitialCapital,
	}

	equity := make([]float64, len(candles))
	equity[0] = e.InitialCapital
	var trades []domain.Trade

	for i := 1; i < len(candles); i++ {
		c := candles[i]
		if trade := position.Apply(st, e.Commission, signals[i], c.Close, c.Timestamp); trade != nil {
			trades = append(trades, *trade)
		}
		equity[i] = st.MarkValue(c.Close)
	}

	res := &Result{
		StrategyID: string(strat.Kind()),
		Params:     strat.Params(),
		Equity:     equity,
		Trades:     trades,
		Start:      candles[0].Timestamp,
		End:        candles[len(candles)-1].Timestamp,
		DataPoints: len(candles),
	}
	res.Metrics = computeMetrics(e.InitialCapital, equity, trades, res.Start, res.End)
	return res, nil
}

// computeMetrics derives the summary statistics from an equity curve and its
// trades. All divisions are guarded so degenerate inputs (flat curves, no
// trades, zero-length spans) yield zeros rather than NaN.
func computeMetrics(initialCapital float64, equity []float64, trades []domain.Trade, start, end time.Time) domain.Metrics {
	m := domain.Metrics{
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
	}
	if len(equity) > 0 {
		m.FinalCapital = equity[len(equity)-1]
	}

	totalReturn := 0.0
	if initialCapital > 0 {
		totalReturn = (m.FinalCapital - initialCapital) / initialCapital
	}
	m.TotalReturnPct = totalReturn * 100

	returns := barReturns(equity)
	m.SharpeRatio = sharpeRatio(returns)
	m.MaxDrawdownPct = maxDrawdown(returns) * 100

	sells := 0
	for _, t := range trades {
		switch t.Type {
		case domain.TradeBuy:
			m.TotalTrades++
		case domain.TradeSell:
			sells++
			if t.Profit > 0 {
				m.WinningTrades++
			} else {
				m.LosingTrades++
			}
		}
	}
	if sells > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(sells) * 100
	}

	m.TradingDays = int(end.Sub(start).Hours() / 24)
	if m.TradingDays > 0 {
		m.AvgDailyReturn = totalReturn / float64(m.TradingDays)
	}
	return m
}

// barReturns is the per-bar fractional change of the equity curve, with 0 at
// the first bar.
func barReturns(equity []float64) []float64 {
	if len(equity) == 0 {
		return nil
	}
	returns := make([]float64, len(equity))
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			returns[i] = (equity[i] - equity[i-1]) / equity[i-1]
		}
	}
	return returns
}

// sharpeRatio is mean/stddev of per-bar returns, annualized. The standard
// deviation uses the sample estimator.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	ss := 0.0
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough drop of the compounded return
// curve, as a negative fraction.
func maxDrawdown(returns []float64) float64 {
	cum := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := (cum - peak) / peak; dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
