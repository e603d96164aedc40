package strategy

import "colosseum/internal/domain"

// Compile-time interface checks.
var _ Strategy = (*MACD)(nil)
var _ paramMerger = (*MACD)(nil)

// MACD is the golden/death cross trend strategy: buy when the MACD line
// crosses above its signal line, exit when it crosses below.
type MACD struct {
	params map[string]float64
}

// NewMACD creates a MACD strategy with default parameters.
func NewMACD() *MACD {
	return &MACD{params: map[string]float64{
		"fast_period":   12,
		"slow_period":   26,
		"signal_period": 9,
	}}
}

func (s *MACD) Kind() Kind          { return KindMACD }
func (s *MACD) DisplayName() string { return "MACD Cross" }
func (s *MACD) Tunable() bool       { return true }

// Warmup covers the slow EMA plus the signal EMA settling in.
func (s *MACD) Warmup() int {
	return int(s.params["slow_period"]) + int(s.params["signal_period"])
}

// Params returns a copy of the current parameters.
func (s *MACD) Params() map[string]float64 { return copyParams(s.params) }

// WithParams returns a new MACD with the overrides applied.
func (s *MACD) WithParams(params map[string]float64) (Strategy, error) {
	return s.mergeParams(params)
}

func (s *MACD) mergeParams(params map[string]float64) (Strategy, error) {
	merged, err := mergeInto(KindMACD, s.params, params)
	if err != nil {
		return nil, err
	}
	return &MACD{params: merged}, nil
}

// Signals emits 1 on a golden cross and -1 on a death cross. Crosses are
// detected against the previous bar, so flat touches do not retrigger.
func (s *MACD) Signals(candles []domain.Candle) []int {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := ema(closes, int(s.params["fast_period"]))
	slow := ema(closes, int(s.params["slow_period"]))

	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signalLine := ema(macd, int(s.params["signal_period"]))

	// The seeded EMAs are defined from the first bar but carry no real
	// information until the slow and signal windows have filled, so
	// crosses inside the warmup window are suppressed.
	signals := make([]int, len(candles))
	for i := s.Warmup(); i < len(candles); i++ {
		prevAbove := macd[i-1] > signalLine[i-1]
		switch {
		case macd[i] > signalLine[i] && !prevAbove:
			signals[i] = 1
		case macd[i] < signalLine[i] && macd[i-1] >= signalLine[i-1]:
			signals[i] = -1
		}
	}
	return signals
}
