// Package strategy provides the signal-generating strategy catalog: three
// tunable indicator strategies (RSI, MACD, Bollinger) and two fixed
// machine-generated breakout strategies.
//
// A strategy maps a candle series to a per-bar signal series: 1 means enter
// long, -1 means exit to flat, 0 means hold. Strategies never touch capital;
// turning signals into trades is the position book's job.
package strategy

import (
	"errors"
	"fmt"

	"colosseum/internal/domain"
)

// Kind identifies a strategy implementation in the catalog.
type Kind string

const (
	KindRSI               Kind = "rsi"
	KindMACD              Kind = "macd"
	KindBollinger         Kind = "bollinger"
	KindVolatilityHarvest Kind = "volatility_harvest"
	KindTrendBreakout     Kind = "trend_breakout"
)

// ErrFixedParams is returned when changing parameters of a fixed strategy.
var ErrFixedParams = errors.New("strategy: parameters are fixed")

// ErrUnknownKind is returned for a Kind not in the catalog.
var ErrUnknownKind = errors.New("strategy: unknown kind")

// Strategy is a pure signal generator over a candle series.
type Strategy interface {
	// Kind returns the catalog identifier.
	Kind() Kind

	// DisplayName returns the human-readable strategy name.
	DisplayName() string

	// Tunable reports whether parameters may be changed after creation.
	Tunable() bool

	// Warmup returns how many leading bars the strategy needs before it
	// can emit a non-zero signal.
	Warmup() int

	// Params returns a copy of the current parameter set.
	Params() map[string]float64

	// WithParams returns a new Strategy with the given parameters merged
	// over the current ones. Fixed strategies return ErrFixedParams;
	// unknown parameter names are rejected.
	WithParams(params map[string]float64) (Strategy, error)

	// Signals returns one signal per input candle. Bars inside the warmup
	// window are always 0.
	Signals(candles []domain.Candle) []int
}

// Kinds returns the catalog in its canonical order.
func Kinds() []Kind {
	return []Kind{KindRSI, KindMACD, KindBollinger, KindVolatilityHarvest, KindTrendBreakout}
}

// New creates a strategy of the given kind with params merged over the
// defaults. A nil params map yields the defaults. Unlike WithParams, New
// accepts parameters for fixed strategies too, so persisted state can be
// rebuilt for any kind.
func New(kind Kind, params map[string]float64) (Strategy, error) {
	var s Strategy
	switch kind {
	case KindRSI:
		s = NewRSI()
	case KindMACD:
		s = NewMACD()
	case KindBollinger:
		s = NewBollinger()
	case KindVolatilityHarvest:
		s = NewVolatilityHarvest()
	case KindTrendBreakout:
		s = NewTrendBreakout()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(params) == 0 {
		return s, nil
	}
	return s.(paramMerger).mergeParams(params)
}

// paramMerger is the internal merge hook that bypasses the Tunable check.
type paramMerger interface {
	mergeParams(params map[string]float64) (Strategy, error)
}

// mergeInto applies overrides onto a copy of base, rejecting names absent
// from base and non-positive values for period-like parameters.
func mergeInto(kind Kind, base, overrides map[string]float64) (map[string]float64, error) {
	merged := make(map[string]float64, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		if _, ok := base[k]; !ok {
			return nil, fmt.Errorf("strategy %s: unknown parameter %q", kind, k)
		}
		merged[k] = v
	}
	for k, v := range merged {
		if isPeriodParam(k) && v < 1 {
			return nil, fmt.Errorf("strategy %s: parameter %q must be >= 1, got %v", kind, k, v)
		}
	}
	return merged, nil
}

func isPeriodParam(name string) bool {
	switch name {
	case "rsi_period", "fast_period", "slow_period", "signal_period",
		"bb_period", "atr_period", "atr_trail_period", "trend_ema_period",
		"breakout_bars", "linreg_period", "biggest_range_period",
		"bars_valid", "trend_lookback", "daily_lookback":
		return true
	}
	return false
}

func copyParams(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
