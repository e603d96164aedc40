package httpapi

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"colosseum/internal/arena"
	"colosseum/internal/domain"
	"colosseum/internal/history"
	"colosseum/internal/optimize"
	"colosseum/internal/store"
)

// fakeProvider serves a deterministic declining 4H series with a final-bar
// drop, so RSI and Bollinger emit entry signals.
type fakeProvider struct {
	anchor  time.Time
	crashAt int
	last    float64
}

func newFakeProvider() *fakeProvider {
	now := time.Now().UTC().Truncate(4 * time.Hour)
	p := &fakeProvider{anchor: now.AddDate(0, 0, -60)}
	p.crashAt = int(now.Add(-4*time.Hour).Sub(p.anchor) / (4 * time.Hour))
	p.last = p.priceAt(now.Add(-4 * time.Hour))
	return p
}

func (p *fakeProvider) priceAt(ts time.Time) float64 {
	i := int(ts.Sub(p.anchor) / (4 * time.Hour))
	price := 50000 * math.Pow(0.998, float64(i))
	if i >= p.crashAt {
		price *= 0.93
	}
	return price
}

func (p *fakeProvider) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{Symbol: symbol, Last: p.last}, nil
}

func (p *fakeProvider) GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	now := time.Now().UTC()
	return p.GetCandlesRange(ctx, symbol, tf, now.Add(-time.Duration(limit)*tf.Duration()), now)
}

func (p *fakeProvider) GetCandlesRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	lastClosed := time.Now().UTC().Add(-tf.Duration())
	var out []domain.Candle
	for ts := p.anchor; ts.Before(end); ts = ts.Add(tf.Duration()) {
		if ts.Before(start) || ts.After(lastClosed) {
			continue
		}
		c := p.priceAt(ts)
		out = append(out, domain.Candle{
			Symbol: symbol, Timeframe: tf, Timestamp: ts,
			Open: c * 1.0005, High: c * 1.001, Low: c * 0.999, Close: c, Volume: 10,
		})
	}
	return out, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	candles, err := store.NewCandleDB(filepath.Join(dir, "klines.db"))
	if err != nil {
		t.Fatalf("NewCandleDB: %v", err)
	}
	t.Cleanup(func() { candles.Close() })

	arenaDB, err := store.NewArenaDB(filepath.Join(dir, "arena.db"))
	if err != nil {
		t.Fatalf("NewArenaDB: %v", err)
	}
	t.Cleanup(func() { arenaDB.Close() })

	cfg := domain.ArenaConfig{
		Symbol:           "BTC-USDT",
		Timeframe:        domain.TF4H,
		PerStrategyRatio: 0.1,
		Commission:       0.001,
		PollInterval:     time.Minute,
		OptimizeInterval: 4 * time.Hour,
		StartDate:        time.Now().UTC().AddDate(0, 0, -20),
	}
	provider := newFakeProvider()
	hist := history.NewManager(provider, candles, 6000)
	a := arena.New(cfg, provider, hist, arenaDB, optimize.New(rand.New(rand.NewSource(1))))

	srv := httptest.NewServer(NewServer(a, hist, candles).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestStatusAndAllocate(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/api/arena/allocate", `{"total": 10000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allocate status = %d", resp.StatusCode)
	}
	report := decode[arena.AllocationReport](t, resp)
	if report.PerStrategy != 1000 || len(report.Funded) != 5 {
		t.Errorf("report = %+v", report)
	}

	resp, err := http.Get(srv.URL + "/api/arena/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	status := decode[arena.Status](t, resp)
	if status.Symbol != "BTC-USDT" || len(status.Strategies) != 5 {
		t.Errorf("status = %+v", status)
	}
	for _, st := range status.Strategies {
		if st.InitialCapital != 1000 {
			t.Errorf("%s initial capital = %v", st.StrategyID, st.InitialCapital)
		}
	}
}

func TestAllocateBadRequest(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/api/arena/allocate", `{"total": -5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative total status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, srv.URL+"/api/arena/allocate", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExecuteRecordsTrades(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv.URL+"/api/arena/allocate", `{"total": 10000}`).Body.Close()

	resp := post(t, srv.URL+"/api/arena/execute", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	exec := decode[executeResponse](t, resp)
	if len(exec.Trades) == 0 {
		t.Fatal("expected entries on the oversold series")
	}

	resp, err := http.Get(srv.URL + "/api/arena/trades")
	if err != nil {
		t.Fatalf("GET trades: %v", err)
	}
	trades := decode[map[string][]map[string]any](t, resp)
	if len(trades["trades"]) != len(exec.Trades) {
		t.Fatalf("ledger %d trades, executed %d", len(trades["trades"]), len(exec.Trades))
	}

	// Ledger entries serialize snake_case like every other payload.
	entry := trades["trades"][0]
	for _, key := range []string{"strategy_id", "type", "price", "profit_pct", "timestamp"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("trade JSON missing %q: %v", key, entry)
		}
	}
}

func TestUpdateParams(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	put := func(id, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut,
			srv.URL+"/api/arena/strategies/"+id+"/params", strings.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("PUT: %v", err)
		}
		return resp
	}

	resp := put("rsi", `{"params": {"rsi_period": 10}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tunable update status = %d", resp.StatusCode)
	}
	body := decode[map[string]map[string]float64](t, resp)
	if body["params"]["rsi_period"] != 10 {
		t.Errorf("params = %v", body["params"])
	}

	resp = put("volatility_harvest", `{"params": {"atr_period": 10}}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("fixed strategy status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = put("momentum", `{"params": {"x": 1}}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown strategy status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = put("rsi", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty params status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSyncEndpoint(t *testing.T) {
	srv := newTestServer(t)

	post(t, srv.URL+"/api/arena/allocate", `{"total": 10000}`).Body.Close()

	resp := post(t, srv.URL+"/api/arena/sync", `{"auto_optimize": true, "force_full_backtest": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	report := decode[arena.SyncReport](t, resp)
	if !report.Synced || !report.InitialBacktest {
		t.Errorf("report = %+v", report)
	}
	if len(report.Strategies) != 5 {
		t.Errorf("reviewed %d strategies", len(report.Strategies))
	}

	resp, err := http.Get(srv.URL + "/api/arena/optimizations")
	if err != nil {
		t.Fatalf("GET optimizations: %v", err)
	}
	recs := decode[map[string][]domain.OptimizationRecord](t, resp)
	if len(recs["optimizations"]) == 0 {
		t.Error("expected optimizations for the losing tunables")
	}
}

func TestMonitorStartStop(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/api/arena/monitor/start", "")
	if got := decode[map[string]bool](t, resp); !got["running"] {
		t.Error("start did not report running")
	}
	resp = post(t, srv.URL+"/api/arena/monitor/stop", "")
	if got := decode[map[string]bool](t, resp); got["running"] {
		t.Error("stop still reports running")
	}
}

func TestBacktestRunAndList(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/api/backtests/run", `{"strategy_id": "rsi", "days": 30}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	run := decode[domain.BacktestRun](t, resp)
	if run.ID == 0 || run.StrategyID != "rsi" || run.DataPoints == 0 {
		t.Errorf("run = %+v", run)
	}
	if run.UserSpecified {
		t.Error("default-params run flagged as user specified")
	}

	resp = post(t, srv.URL+"/api/backtests/run", `{"strategy_id": "warp_drive"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown strategy status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/backtests")
	if err != nil {
		t.Fatalf("GET backtests: %v", err)
	}
	runs := decode[map[string][]domain.BacktestRun](t, resp)
	if len(runs["backtests"]) != 1 {
		t.Errorf("listed %d runs, want 1", len(runs["backtests"]))
	}
}
