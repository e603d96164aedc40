package strategy

import "colosseum/internal/domain"

// Compile-time interface checks.
var _ Strategy = (*VolatilityHarvest)(nil)
var _ paramMerger = (*VolatilityHarvest)(nil)

// VolatilityHarvest is a fixed machine-generated trend strategy tuned for
// 4H crypto bars. It enters long on a close-over-previous-close breakout when
// volatility and trend confirm, and exits on a fixed stop loss, a profit
// target, or an ATR trailing stop that only ever tightens.
type VolatilityHarvest struct {
	params map[string]float64
}

// NewVolatilityHarvest creates the strategy with its generated parameter set.
func NewVolatilityHarvest() *VolatilityHarvest {
	return &VolatilityHarvest{params: map[string]float64{
		"atr_period":          20,
		"atr_trail_period":    185,
		"atr_multiplier":      4.5,
		"entry_atr_threshold": 0.0,
		"stop_loss_pct":       3.0,
		"profit_target_pct":   1.3,
		"trend_ema_period":    50,
		"use_trend_filter":    1,
		"breakout_bars":       1,
	}}
}

func (s *VolatilityHarvest) Kind() Kind          { return KindVolatilityHarvest }
func (s *VolatilityHarvest) DisplayName() string { return "Volatility Harvest" }
func (s *VolatilityHarvest) Tunable() bool       { return false }

// Warmup covers the longest indicator period plus the breakout lookback.
func (s *VolatilityHarvest) Warmup() int {
	warm := int(s.params["atr_period"])
	if p := int(s.params["atr_trail_period"]); p > warm {
		warm = p
	}
	if p := int(s.params["trend_ema_period"]); p > warm {
		warm = p
	}
	return warm + int(s.params["breakout_bars"])
}

// Params returns a copy of the current parameters.
func (s *VolatilityHarvest) Params() map[string]float64 { return copyParams(s.params) }

// WithParams always fails: the parameter set is part of the generated
// strategy's identity.
func (s *VolatilityHarvest) WithParams(map[string]float64) (Strategy, error) {
	return nil, ErrFixedParams
}

func (s *VolatilityHarvest) mergeParams(params map[string]float64) (Strategy, error) {
	merged, err := mergeInto(KindVolatilityHarvest, s.params, params)
	if err != nil {
		return nil, err
	}
	return &VolatilityHarvest{params: merged}, nil
}

// Signals walks the series with an internal long/flat state so exits are
// only emitted against a live entry. An exit and a fresh breakout entry on
// the same bar collapse to the entry.
func (s *VolatilityHarvest) Signals(candles []domain.Candle) []int {
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

	tr := trueRange(high, low, close)
	atr := ema(tr, int(s.params["atr_period"]))
	atrTrail := ema(tr, int(s.params["atr_trail_period"]))
	emaTrend := ema(close, int(s.params["trend_ema_period"]))

	mult := s.params["atr_multiplier"]
	threshold := s.params["entry_atr_threshold"]
	stopLossPct := s.params["stop_loss_pct"] / 100
	profitTargetPct := s.params["profit_target_pct"] / 100
	useTrendFilter := s.params["use_trend_filter"] != 0
	breakoutBars := int(s.params["breakout_bars"])

	var (
		long       bool
		entryPrice float64
		stopLoss   float64
		takeProfit float64
		trailStop  float64
		highest    float64
	)

	for i := s.Warmup(); i < len(candles); i++ {
		price := close[i]
		prevClose := close[i-breakoutBars]

		// The generated strategy reads the ATR two bars back.
		atrValue := atr[i]
		if i >= 2 {
			atrValue = atr[i-2]
		}
		trailDistance := atrTrail[i] * mult

		if long {
			if high[i] > highest {
				highest = high[i]
			}
			if next := highest - trailDistance; next > trailStop {
				trailStop = next
			}

			switch {
			case low[i] <= stopLoss:
				signals[i] = -1
				long = false
			case high[i] >= takeProfit:
				signals[i] = -1
				long = false
			case low[i] <= trailStop && trailStop > entryPrice:
				signals[i] = -1
				long = false
			}
		}

		bullish := !useTrendFilter || price > emaTrend[i]
		if !long && atrValue > threshold && price > prevClose && bullish {
			signals[i] = 1
			long = true
			entryPrice = price
			stopLoss = entryPrice * (1 - stopLossPct)
			takeProfit = entryPrice * (1 + profitTargetPct)
			trailStop = entryPrice - trailDistance
			highest = high[i]
		}
	}
	return signals
}
