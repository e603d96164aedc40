package strategy

import "colosseum/internal/domain"

// Compile-time interface checks.
var _ Strategy = (*RSI)(nil)
var _ paramMerger = (*RSI)(nil)

// RSI is the classic oversold/overbought reversal strategy: buy when the
// RSI drops below the oversold threshold, exit when it rises above the
// overbought threshold.
type RSI struct {
	params map[string]float64
}

// NewRSI creates an RSI strategy with default parameters.
func NewRSI() *RSI {
	return &RSI{params: map[string]float64{
		"rsi_period":           14,
		"oversold_threshold":   30,
		"overbought_threshold": 70,
	}}
}

func (s *RSI) Kind() Kind          { return KindRSI }
func (s *RSI) DisplayName() string { return "RSI Reversal" }
func (s *RSI) Tunable() bool       { return true }
func (s *RSI) Warmup() int         { return int(s.params["rsi_period"]) + 1 }

// Params returns a copy of the current parameters.
func (s *RSI) Params() map[string]float64 { return copyParams(s.params) }

// WithParams returns a new RSI with the overrides applied.
func (s *RSI) WithParams(params map[string]float64) (Strategy, error) {
	return s.mergeParams(params)
}

func (s *RSI) mergeParams(params map[string]float64) (Strategy, error) {
	merged, err := mergeInto(KindRSI, s.params, params)
	if err != nil {
		return nil, err
	}
	return &RSI{params: merged}, nil
}

// Signals emits 1 below the oversold threshold and -1 above the overbought
// threshold.
func (s *RSI) Signals(candles []domain.Candle) []int {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	rsi := rsiSeries(closes, int(s.params["rsi_period"]))

	oversold := s.params["oversold_threshold"]
	overbought := s.params["overbought_threshold"]

	signals := make([]int, len(candles))
	for i, v := range rsi {
		switch {
		case v < oversold:
			signals[i] = 1
		case v > overbought:
			signals[i] = -1
		}
	}
	return signals
}
