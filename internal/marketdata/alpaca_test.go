package marketdata

import (
	"testing"

	"colosseum/internal/domain"
)

func TestPairFor(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT": "BTC/USD",
		"ETH-USDC": "ETH/USD",
		"SOL-USD":  "SOL/USD",
		"BTCUSD":   "BTCUSD",
	}
	for in, want := range cases {
		if got := pairFor(in); got != want {
			t.Errorf("pairFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAlpacaTimeframe(t *testing.T) {
	for _, tf := range []domain.Timeframe{
		domain.TF1m, domain.TF5m, domain.TF1H, domain.TF4H, domain.TF1D, domain.TF1W,
	} {
		if _, err := alpacaTimeframe(tf); err != nil {
			t.Errorf("alpacaTimeframe(%s): %v", tf, err)
		}
	}
	if _, err := alpacaTimeframe(domain.Timeframe("7m")); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}
