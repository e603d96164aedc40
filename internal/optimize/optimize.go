// Package optimize adjusts tunable strategy parameters based on recent
// simulated performance. The rules are deliberately simple: loosen entry
// thresholds after a losing stretch, explore nearby parameter values after a
// winning one, and otherwise leave the strategy alone.
package optimize

import (
	"fmt"
	"math/rand"
	"time"

	"colosseum/internal/strategy"
)

// Performance bands. A review-window return below poorReturnPct triggers a
// loosening adjustment, above goodReturnPct a small random perturbation.
const (
	poorReturnPct = -2.0
	goodReturnPct = 5.0
)

// Optimizer suggests parameter adjustments for the tunable strategies.
type Optimizer struct {
	rng *rand.Rand
}

// New creates an Optimizer. A nil rng gets a time-seeded source; tests pass
// a seeded one for determinism.
func New(rng *rand.Rand) *Optimizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Optimizer{rng: rng}
}

// Suggest returns an adjusted parameter set for the given strategy kind and
// its return over the review window, with a human-readable reason. changed is
// false when the rules leave every parameter as it was, including for kinds
// the optimizer does not tune.
func (o *Optimizer) Suggest(kind strategy.Kind, params map[string]float64, returnPct float64) (newParams map[string]float64, reason string, changed bool) {
	switch {
	case returnPct < poorReturnPct:
		newParams = o.loosen(kind, params)
		reason = fmt.Sprintf("return %.2f%% over review window, loosening entry thresholds", returnPct)
	case returnPct > goodReturnPct:
		newParams = o.perturb(kind, params)
		reason = fmt.Sprintf("return %.2f%% over review window, exploring nearby parameters", returnPct)
	default:
		return params, "", false
	}

	if paramsEqual(params, newParams) {
		return params, "", false
	}
	return newParams, reason, true
}

// loosen widens the entry conditions so a strategy that sat out or lost
// money trades more readily.
func (o *Optimizer) loosen(kind strategy.Kind, params map[string]float64) map[string]float64 {
	out := copyParams(params)
	switch kind {
	case strategy.KindRSI:
		out["oversold_threshold"] = max(20, get(params, "oversold_threshold", 30)-5)
		out["overbought_threshold"] = min(80, get(params, "overbought_threshold", 70)+5)
	case strategy.KindMACD:
		out["fast_period"] = max(8, get(params, "fast_period", 12)-2)
		out["slow_period"] = min(30, get(params, "slow_period", 26)+2)
	case strategy.KindBollinger:
		out["bb_std"] = min(2.5, get(params, "bb_std", 2.0)+0.2)
	}
	return out
}

// perturb nudges a secondary parameter by a small random step, clamped to a
// sane range, so a winning configuration keeps exploring its neighborhood.
func (o *Optimizer) perturb(kind strategy.Kind, params map[string]float64) map[string]float64 {
	out := copyParams(params)
	switch kind {
	case strategy.KindRSI:
		p := get(params, "rsi_period", 14) + float64(o.rng.Intn(5)-2)
		out["rsi_period"] = clamp(p, 7, 21)
	case strategy.KindMACD:
		p := get(params, "signal_period", 9) + float64(o.rng.Intn(3)-1)
		out["signal_period"] = clamp(p, 5, 12)
	case strategy.KindBollinger:
		p := get(params, "bb_period", 20) + float64(o.rng.Intn(5)-2)
		out["bb_period"] = clamp(p, 15, 25)
	}
	return out
}

func get(params map[string]float64, name string, fallback float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return fallback
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func copyParams(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func paramsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
