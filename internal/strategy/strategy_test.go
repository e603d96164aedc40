package strategy

import (
	"errors"
	"testing"
	"time"

	"colosseum/internal/domain"
)

// seriesFrom builds a 4H candle series from closes, with highs and lows a
// fixed fraction away from the close.
func seriesFrom(closes []float64) []domain.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{
			Symbol:    "BTC-USDT",
			Timeframe: domain.TF4H,
			Timestamp: base.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    10,
		}
	}
	return candles
}

func TestCatalog(t *testing.T) {
	kinds := Kinds()
	if len(kinds) != 5 {
		t.Fatalf("len(Kinds()) = %d, want 5", len(kinds))
	}
	for _, kind := range kinds {
		s, err := New(kind, nil)
		if err != nil {
			t.Fatalf("New(%s): %v", kind, err)
		}
		if s.Kind() != kind {
			t.Errorf("Kind() = %s, want %s", s.Kind(), kind)
		}
		if s.DisplayName() == "" {
			t.Errorf("%s: empty display name", kind)
		}
		if s.Warmup() <= 0 {
			t.Errorf("%s: Warmup() = %d", kind, s.Warmup())
		}
		if len(s.Params()) == 0 {
			t.Errorf("%s: no default params", kind)
		}
	}

	tunables := map[Kind]bool{
		KindRSI: true, KindMACD: true, KindBollinger: true,
		KindVolatilityHarvest: false, KindTrendBreakout: false,
	}
	for kind, want := range tunables {
		s, _ := New(kind, nil)
		if s.Tunable() != want {
			t.Errorf("%s: Tunable() = %v, want %v", kind, s.Tunable(), want)
		}
	}

	if _, err := New(Kind("bogus"), nil); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("New(bogus): err = %v, want ErrUnknownKind", err)
	}
}

func TestWithParams(t *testing.T) {
	rsi, _ := New(KindRSI, nil)

	tuned, err := rsi.WithParams(map[string]float64{"oversold_threshold": 25})
	if err != nil {
		t.Fatalf("WithParams: %v", err)
	}
	if got := tuned.Params()["oversold_threshold"]; got != 25 {
		t.Errorf("oversold_threshold = %v, want 25", got)
	}
	if got := tuned.Params()["rsi_period"]; got != 14 {
		t.Errorf("rsi_period = %v, want default 14", got)
	}
	// Original instance is untouched.
	if got := rsi.Params()["oversold_threshold"]; got != 30 {
		t.Errorf("original oversold_threshold = %v, want 30", got)
	}

	if _, err := rsi.WithParams(map[string]float64{"no_such_param": 1}); err == nil {
		t.Error("expected error for unknown parameter")
	}
	if _, err := rsi.WithParams(map[string]float64{"rsi_period": 0}); err == nil {
		t.Error("expected error for zero period")
	}

	for _, kind := range []Kind{KindVolatilityHarvest, KindTrendBreakout} {
		s, _ := New(kind, nil)
		if _, err := s.WithParams(map[string]float64{"stop_loss_pct": 5}); !errors.Is(err, ErrFixedParams) {
			t.Errorf("%s: WithParams err = %v, want ErrFixedParams", kind, err)
		}
		// Rebuilding from persisted params goes through New and is allowed.
		if _, err := New(kind, s.Params()); err != nil {
			t.Errorf("%s: New with persisted params: %v", kind, err)
		}
	}
}

func TestRSISignals(t *testing.T) {
	// 20 flat bars, a 20-bar slide, then a 25-bar climb.
	var closes []float64
	price := 100.0
	for i := 0; i < 20; i++ {
		closes = append(closes, price)
	}
	for i := 0; i < 20; i++ {
		price -= 1
		closes = append(closes, price)
	}
	for i := 0; i < 25; i++ {
		price += 1
		closes = append(closes, price)
	}

	s, _ := New(KindRSI, nil)
	signals := s.Signals(seriesFrom(closes))
	if len(signals) != len(closes) {
		t.Fatalf("len(signals) = %d, want %d", len(signals), len(closes))
	}

	for i := 0; i < s.Warmup(); i++ {
		if signals[i] != 0 {
			t.Fatalf("signal %d inside warmup = %d", i, signals[i])
		}
	}

	// Deep in the slide the RSI is pinned low; deep in the climb it is
	// pinned high.
	if signals[35] != 1 {
		t.Errorf("signal during slide = %d, want 1", signals[35])
	}
	if signals[60] != -1 {
		t.Errorf("signal during climb = %d, want -1", signals[60])
	}
}

func TestMACDSignals(t *testing.T) {
	// Flat past the warmup window, then a 60-bar climb and a 60-bar slide.
	var closes []float64
	for i := 0; i < 40; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 0; i < 60; i++ {
		closes = append(closes, 159-float64(i))
	}

	s, _ := New(KindMACD, nil)
	signals := s.Signals(seriesFrom(closes))

	firstBuy, firstSell := -1, -1
	for i, sig := range signals {
		if sig == 1 && firstBuy == -1 {
			firstBuy = i
		}
		if sig == -1 && firstSell == -1 {
			firstSell = i
		}
	}
	if firstBuy == -1 {
		t.Fatal("no golden cross during climb")
	}
	if firstSell == -1 {
		t.Fatal("no death cross after the peak")
	}
	if firstBuy < s.Warmup() || firstBuy >= 100 {
		t.Errorf("first buy at %d, want during the climb after warmup", firstBuy)
	}
	if firstSell <= 100 {
		t.Errorf("first sell at %d, want after the peak", firstSell)
	}
}

func TestBollingerSignals(t *testing.T) {
	// Alternate tightly around 100, then a crash bar and a spike bar.
	var closes []float64
	for i := 0; i < 25; i++ {
		if i%2 == 0 {
			closes = append(closes, 99)
		} else {
			closes = append(closes, 101)
		}
	}
	closes = append(closes, 90) // index 25: below the lower band
	for i := 0; i < 25; i++ {
		if i%2 == 0 {
			closes = append(closes, 99)
		} else {
			closes = append(closes, 101)
		}
	}
	closes = append(closes, 112) // index 51: above the upper band

	s, _ := New(KindBollinger, nil)
	signals := s.Signals(seriesFrom(closes))

	if signals[25] != 1 {
		t.Errorf("signal at crash bar = %d, want 1", signals[25])
	}
	if signals[51] != -1 {
		t.Errorf("signal at spike bar = %d, want -1", signals[51])
	}
	for i := 0; i < 20; i++ {
		if signals[i] != 0 {
			t.Errorf("signal %d inside warmup = %d", i, signals[i])
		}
	}
}

// checkLongFlatOutput verifies the invariants of a stateful long-only signal
// series: nothing inside the warmup window, the first non-zero signal is an
// entry, and an exit is never followed directly by another exit.
func checkLongFlatOutput(t *testing.T, s Strategy, signals []int) {
	t.Helper()
	for i := 0; i < s.Warmup() && i < len(signals); i++ {
		if signals[i] != 0 {
			t.Fatalf("signal %d inside warmup = %d", i, signals[i])
		}
	}
	prev := 0
	entries := 0
	for i, sig := range signals {
		if sig == 0 {
			continue
		}
		if sig == 1 {
			entries++
		}
		if sig == -1 && prev != 1 {
			t.Fatalf("exit at %d without a preceding entry", i)
		}
		prev = sig
	}
	if entries == 0 {
		t.Fatal("strategy never entered")
	}
}

func TestVolatilityHarvestSignals(t *testing.T) {
	// A steady climb with a single crash near the end.
	var closes []float64
	price := 10000.0
	for i := 0; i < 260; i++ {
		price *= 1.002
		closes = append(closes, price)
	}
	crashAt := len(closes)
	closes = append(closes, price*0.9)
	for i := 0; i < 10; i++ {
		closes = append(closes, price*0.9)
	}

	s, _ := New(KindVolatilityHarvest, nil)
	signals := s.Signals(seriesFrom(closes))

	checkLongFlatOutput(t, s, signals)
	if signals[crashAt] != -1 {
		t.Errorf("signal at crash bar = %d, want stop-loss exit", signals[crashAt])
	}
}

func TestTrendBreakoutSignals(t *testing.T) {
	// A slow climb with a strong thrust bar every 25 bars. The thrusts
	// punch through the stop-entry level above the rolling daily high.
	var closes []float64
	price := 10000.0
	for i := 0; i < 500; i++ {
		if i > 0 && i%25 == 0 {
			price *= 1.03
		} else {
			price *= 1.003
		}
		closes = append(closes, price)
	}

	s, _ := New(KindTrendBreakout, nil)
	signals := s.Signals(seriesFrom(closes))

	checkLongFlatOutput(t, s, signals)
}

func TestSignalsEmptyAndShortSeries(t *testing.T) {
	for _, kind := range Kinds() {
		s, _ := New(kind, nil)
		if got := s.Signals(nil); len(got) != 0 {
			t.Errorf("%s: Signals(nil) returned %d signals", kind, len(got))
		}
		short := seriesFrom([]float64{100, 101, 102})
		got := s.Signals(short)
		if len(got) != 3 {
			t.Fatalf("%s: len = %d, want 3", kind, len(got))
		}
		for i, sig := range got {
			if sig != 0 {
				t.Errorf("%s: signal %d = %d on a series shorter than warmup", kind, i, sig)
			}
		}
	}
}
