package domain

import (
	"fmt"
	"time"
)

// Timeframe is a candle interval in the exchange's notation ("1m", "1H",
// "4H", "1D", ...).
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1H  Timeframe = "1H"
	TF2H  Timeframe = "2H"
	TF4H  Timeframe = "4H"
	TF1D  Timeframe = "1D"
	TF1W  Timeframe = "1W"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1H:  time.Hour,
	TF2H:  2 * time.Hour,
	TF4H:  4 * time.Hour,
	TF1D:  24 * time.Hour,
	TF1W:  7 * 24 * time.Hour,
}

// Duration returns the bar interval. Unknown timeframes default to one hour,
// matching the exchange's default bar size.
func (tf Timeframe) Duration() time.Duration {
	if d, ok := timeframeDurations[tf]; ok {
		return d
	}
	return time.Hour
}

// BarsPerDay returns how many bars of this timeframe fit in 24 hours,
// at least 1.
func (tf Timeframe) BarsPerDay() int {
	n := int(24 * time.Hour / tf.Duration())
	if n < 1 {
		return 1
	}
	return n
}

// Bars returns how many bars cover the given span, rounding up.
func (tf Timeframe) Bars(span time.Duration) int {
	d := tf.Duration()
	return int((span + d - 1) / d)
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}
