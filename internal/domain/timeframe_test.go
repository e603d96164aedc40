package domain

import (
	"testing"
	"time"
)

func TestTimeframeDuration(t *testing.T) {
	if d := TF4H.Duration(); d != 4*time.Hour {
		t.Errorf("TF4H.Duration() = %v, want 4h", d)
	}
	if d := Timeframe("bogus").Duration(); d != time.Hour {
		t.Errorf("unknown timeframe Duration() = %v, want 1h fallback", d)
	}
}

func TestTimeframeBarsPerDay(t *testing.T) {
	cases := []struct {
		tf   Timeframe
		want int
	}{
		{TF1H, 24},
		{TF4H, 6},
		{TF1D, 1},
		{TF1W, 1}, // clamped to 1
	}
	for _, c := range cases {
		if got := c.tf.BarsPerDay(); got != c.want {
			t.Errorf("%s BarsPerDay() = %d, want %d", c.tf, got, c.want)
		}
	}
}

func TestTimeframeBars(t *testing.T) {
	if got := TF1H.Bars(90 * time.Minute); got != 2 {
		t.Errorf("1H bars over 90m = %d, want 2 (round up)", got)
	}
	if got := TF4H.Bars(24 * time.Hour); got != 6 {
		t.Errorf("4H bars over 24h = %d, want 6", got)
	}
}

func TestParseTimeframe(t *testing.T) {
	if tf, err := ParseTimeframe("4H"); err != nil || tf != TF4H {
		t.Errorf("ParseTimeframe(4H) = %v, %v", tf, err)
	}
	if _, err := ParseTimeframe("7H"); err == nil {
		t.Error("ParseTimeframe(7H) should fail")
	}
}

func TestStrategyStateMarkValue(t *testing.T) {
	s := StrategyState{InitialCapital: 1000, CurrentCapital: 1000}
	if v := s.MarkValue(50000); v != 1000 {
		t.Errorf("flat MarkValue = %v, want cash 1000", v)
	}
	s.CurrentCapital = 0
	s.Position = 0.02
	s.EntryPrice = 50000
	if v := s.MarkValue(55000); v != 0.02*55000 {
		t.Errorf("long MarkValue = %v, want %v", v, 0.02*55000)
	}
	// A zero mark price falls back to cash rather than valuing the
	// position at zero.
	if v := s.MarkValue(0); v != 0 {
		t.Errorf("long MarkValue at price 0 = %v, want 0 (cash)", v)
	}
}

func TestStrategyStateReturnPct(t *testing.T) {
	s := StrategyState{}
	if r := s.ReturnPct(100); r != 0 {
		t.Errorf("unallocated ReturnPct = %v, want 0", r)
	}
	s = StrategyState{InitialCapital: 1000, Position: 0.02, EntryPrice: 50000}
	want := (0.02*55000 - 1000) / 1000 * 100
	if r := s.ReturnPct(55000); r != want {
		t.Errorf("ReturnPct = %v, want %v", r, want)
	}
}
