package strategy

import "colosseum/internal/domain"

// Compile-time interface checks.
var _ Strategy = (*Bollinger)(nil)
var _ paramMerger = (*Bollinger)(nil)

// Bollinger is the mean-reversion band strategy: buy when the close touches
// the lower band, exit when it touches the upper band.
type Bollinger struct {
	params map[string]float64
}

// NewBollinger creates a Bollinger strategy with default parameters.
func NewBollinger() *Bollinger {
	return &Bollinger{params: map[string]float64{
		"bb_period": 20,
		"bb_std":    2.0,
	}}
}

func (s *Bollinger) Kind() Kind          { return KindBollinger }
func (s *Bollinger) DisplayName() string { return "Bollinger Reversion" }
func (s *Bollinger) Tunable() bool       { return true }
func (s *Bollinger) Warmup() int         { return int(s.params["bb_period"]) }

// Params returns a copy of the current parameters.
func (s *Bollinger) Params() map[string]float64 { return copyParams(s.params) }

// WithParams returns a new Bollinger with the overrides applied.
func (s *Bollinger) WithParams(params map[string]float64) (Strategy, error) {
	return s.mergeParams(params)
}

func (s *Bollinger) mergeParams(params map[string]float64) (Strategy, error) {
	merged, err := mergeInto(KindBollinger, s.params, params)
	if err != nil {
		return nil, err
	}
	return &Bollinger{params: merged}, nil
}

// Signals emits 1 at or below the lower band and -1 at or above the upper
// band.
func (s *Bollinger) Signals(candles []domain.Candle) []int {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	period := int(s.params["bb_period"])
	mult := s.params["bb_std"]
	middle := sma(closes, period)
	std := rollingStd(closes, period)

	signals := make([]int, len(candles))
	for i := range closes {
		upper := middle[i] + std[i]*mult
		lower := middle[i] - std[i]*mult
		switch {
		case closes[i] <= lower:
			signals[i] = 1
		case closes[i] >= upper:
			signals[i] = -1
		}
	}
	return signals
}
