package strategy

import "math"

// Indicator helpers over plain float64 slices. Positions without enough
// history carry NaN; signal comparisons against NaN are always false, so
// unwarmed bars fall through to signal 0 without special casing.

// diff returns v[i] - v[i-1] with NaN at index 0.
func diff(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) > 0 {
		out[0] = math.NaN()
	}
	for i := 1; i < len(v); i++ {
		out[i] = v[i] - v[i-1]
	}
	return out
}

// sma returns the rolling mean over period bars. A window containing NaN
// yields NaN.
func sma(v []float64, period int) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += v[j]
		}
		out[i] = sum / float64(period) // NaN inputs propagate through the sum
	}
	return out
}

// rollingStd returns the rolling sample standard deviation over period bars.
func rollingStd(v []float64, period int) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		if i < period-1 || period < 2 {
			out[i] = math.NaN()
			continue
		}
		mean := 0.0
		for j := i - period + 1; j <= i; j++ {
			mean += v[j]
		}
		mean /= float64(period)

		ss := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := v[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// ema returns the exponential moving average with alpha = 2/(span+1), seeded
// at the first value.
func ema(v []float64, span int) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = v[0]
	for i := 1; i < len(v); i++ {
		out[i] = alpha*v[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rollingMax returns the rolling maximum over period bars.
func rollingMax(v []float64, period int) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		m := v[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if v[j] > m {
				m = v[j]
			}
		}
		out[i] = m
	}
	return out
}

// rollingMin returns the rolling minimum over period bars.
func rollingMin(v []float64, period int) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		m := v[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			if v[j] < m {
				m = v[j]
			}
		}
		out[i] = m
	}
	return out
}

// trueRange returns max(high-low, |high-prevClose|, |low-prevClose|). The
// first bar has no previous close and degrades to high-low.
func trueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			if d := math.Abs(high[i] - close[i-1]); d > tr {
				tr = d
			}
			if d := math.Abs(low[i] - close[i-1]); d > tr {
				tr = d
			}
		}
		out[i] = tr
	}
	return out
}

// rsiSeries returns the RSI computed from rolling-mean gains and losses.
// With zero losses in the window the RSI saturates at 100; a flat window
// (no gains and no losses) yields NaN.
func rsiSeries(close []float64, period int) []float64 {
	d := diff(close)
	gains := make([]float64, len(d))
	losses := make([]float64, len(d))
	for i, v := range d {
		switch {
		case math.IsNaN(v):
			gains[i], losses[i] = math.NaN(), math.NaN()
		case v > 0:
			gains[i] = v
		case v < 0:
			losses[i] = -v
		}
	}

	avgGain := sma(gains, period)
	avgLoss := sma(losses, period)

	out := make([]float64, len(close))
	for i := range close {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
			out[i] = math.NaN()
		case l == 0 && g == 0:
			out[i] = math.NaN()
		case l == 0:
			out[i] = 100
		default:
			rs := g / l
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// linregEndpoint fits a least-squares line over each period-bar window and
// returns the fitted value at the window's last bar.
func linregEndpoint(v []float64, period int) []float64 {
	out := make([]float64, len(v))
	n := float64(period)

	// The x axis is 0..period-1 inside every window, so its sums are
	// constant across windows.
	sumX := n * (n - 1) / 2
	sumX2 := (n - 1) * n * (2*n - 1) / 6
	denom := n*sumX2 - sumX*sumX

	for i := range v {
		if i < period-1 || denom == 0 {
			out[i] = math.NaN()
			continue
		}
		sumY, sumXY := 0.0, 0.0
		for j := 0; j < period; j++ {
			y := v[i-period+1+j]
			sumY += y
			sumXY += float64(j) * y
		}
		slope := (n*sumXY - sumX*sumY) / denom
		intercept := (sumY - slope*sumX) / n
		out[i] = intercept + slope*(n-1)
	}
	return out
}
