package strategy

import (
	"math"

	"colosseum/internal/domain"
)

// Compile-time interface checks.
var _ Strategy = (*TrendBreakout)(nil)
var _ paramMerger = (*TrendBreakout)(nil)

// TrendBreakout is a fixed machine-generated breakout strategy tuned for 4H
// crypto bars. A linear regression over closes gives the trend direction;
// when the trend is up a stop entry is placed above the recent daily high,
// offset by the biggest single-bar range. The entry order stays valid for a
// few bars, and filled positions exit on a fixed stop loss or profit target.
type TrendBreakout struct {
	params map[string]float64
}

// NewTrendBreakout creates the strategy with its generated parameter set.
func NewTrendBreakout() *TrendBreakout {
	return &TrendBreakout{params: map[string]float64{
		"linreg_period":        102,
		"price_entry_mult":     0.5,
		"biggest_range_period": 157,
		"bars_valid":           6,
		"stop_loss_pct":        1.8,
		"profit_target_pct":    1.6,
		"use_trend_filter":     1,
		"trend_lookback":       2,
		"daily_lookback":       3,
	}}
}

func (s *TrendBreakout) Kind() Kind          { return KindTrendBreakout }
func (s *TrendBreakout) DisplayName() string { return "Trend Breakout" }
func (s *TrendBreakout) Tunable() bool       { return false }

// Warmup covers the regression and range windows plus the lookback shifts.
func (s *TrendBreakout) Warmup() int {
	return s.warmup(6)
}

func (s *TrendBreakout) warmup(barsPerDay int) int {
	warm := int(s.params["linreg_period"])
	if p := int(s.params["biggest_range_period"]); p > warm {
		warm = p
	}
	if p := int(s.params["daily_lookback"]) * barsPerDay; p > warm {
		warm = p
	}
	return warm + int(s.params["trend_lookback"]) + 5
}

// Params returns a copy of the current parameters.
func (s *TrendBreakout) Params() map[string]float64 { return copyParams(s.params) }

// WithParams always fails: the parameter set is part of the generated
// strategy's identity.
func (s *TrendBreakout) WithParams(map[string]float64) (Strategy, error) {
	return nil, ErrFixedParams
}

func (s *TrendBreakout) mergeParams(params map[string]float64) (Strategy, error) {
	merged, err := mergeInto(KindTrendBreakout, s.params, params)
	if err != nil {
		return nil, err
	}
	return &TrendBreakout{params: merged}, nil
}

// Signals walks the series with an internal long/flat state and a pending
// stop-entry order.
func (s *TrendBreakout) Signals(candles []domain.Candle) []int {
	signals := make([]int, len(candles))
	if len(candles) == 0 {
		return signals
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	close := make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], close[i] = c.High, c.Low, c.Close
	}

	linregPeriod := int(s.params["linreg_period"])
	entryMult := s.params["price_entry_mult"]
	rangePeriod := int(s.params["biggest_range_period"])
	barsValid := int(s.params["bars_valid"])
	stopLossPct := s.params["stop_loss_pct"] / 100
	profitTargetPct := s.params["profit_target_pct"] / 100
	useTrendFilter := s.params["use_trend_filter"] != 0
	trendLookback := int(s.params["trend_lookback"])
	dailyLookback := int(s.params["daily_lookback"])

	barsPerDay := candles[0].Timeframe.BarsPerDay()
	if barsPerDay <= 0 {
		barsPerDay = 6
	}

	linreg := linregEndpoint(close, linregPeriod)

	barRange := make([]float64, len(candles))
	for i := range candles {
		barRange[i] = high[i] - low[i]
	}
	biggestRange := rollingMax(barRange, rangePeriod)
	dailyHigh := rollingMax(high, barsPerDay*dailyLookback)

	// Stop-entry level: yesterday's daily high plus a fraction of the
	// biggest recent single-bar range.
	longEntry := make([]float64, len(candles))
	for i := range candles {
		if i < 1 || i < trendLookback {
			longEntry[i] = math.NaN()
			continue
		}
		longEntry[i] = dailyHigh[i-1] + entryMult*biggestRange[i-trendLookback]
	}

	var (
		long        bool
		stopLoss    float64
		takeProfit  float64
		pendingLong bool
		pendingBar  int
	)

	for i := s.warmup(barsPerDay); i < len(candles); i++ {
		if i < trendLookback {
			continue
		}

		linregValue := linreg[i-trendLookback]
		closeLookback := close[i-trendLookback]

		bullish := true
		if useTrendFilter && !math.IsNaN(linregValue) {
			bullish = closeLookback > linregValue
		}

		entryLevel := longEntry[i]

		if long {
			switch {
			case low[i] <= stopLoss:
				signals[i] = -1
				long = false
			case high[i] >= takeProfit:
				signals[i] = -1
				long = false
			}
		}

		if !long {
			if pendingLong && i-pendingBar <= barsValid &&
				high[i] >= entryLevel && !math.IsNaN(entryLevel) {
				signals[i] = 1
				long = true
				entryPrice := entryLevel
				stopLoss = entryPrice * (1 - stopLossPct)
				takeProfit = entryPrice * (1 + profitTargetPct)
				pendingLong = false
			}

			if !pendingLong && bullish && !math.IsNaN(entryLevel) {
				pendingLong = true
				pendingBar = i
			}
			if pendingLong && i-pendingBar > barsValid {
				pendingLong = false
			}
		}
	}
	return signals
}
