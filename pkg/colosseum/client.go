// Package colosseum provides a small Go client for the arena admin API.
package colosseum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a colosseum-server admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://127.0.0.1:8710".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// StrategyStatus mirrors one strategy entry of the status response.
type StrategyStatus struct {
	StrategyID     string             `json:"strategy_id"`
	DisplayName    string             `json:"display_name"`
	Tunable        bool               `json:"tunable"`
	Params         map[string]float64 `json:"params"`
	InitialCapital float64            `json:"initial_capital"`
	CurrentCapital float64            `json:"current_capital"`
	Position       float64            `json:"position"`
	EntryPrice     float64            `json:"entry_price"`
	LastSignal     int                `json:"last_signal"`
	MarkValue      float64            `json:"mark_value"`
	ReturnPct      float64            `json:"return_pct"`
	WinCount       int                `json:"win_count"`
	LossCount      int                `json:"loss_count"`
	WinRate        float64            `json:"win_rate"`
}

// Status mirrors the arena status response.
type Status struct {
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	Running      bool             `json:"running"`
	CurrentPrice float64          `json:"current_price"`
	Strategies   []StrategyStatus `json:"strategies"`
}

// AllocationReport mirrors the allocate response.
type AllocationReport struct {
	PerStrategy float64  `json:"per_strategy"`
	Funded      []string `json:"funded"`
	Skipped     []string `json:"skipped"`
}

// Trade mirrors one ledger entry.
type Trade struct {
	StrategyID string    `json:"strategy_id"`
	Type       string    `json:"type"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	Value      float64   `json:"value"`
	Profit     float64   `json:"profit"`
	ProfitPct  float64   `json:"profit_pct"`
	Timestamp  time.Time `json:"timestamp"`
}

// SyncReport mirrors the sync response.
type SyncReport struct {
	Synced          bool    `json:"synced"`
	InitialBacktest bool    `json:"initial_backtest"`
	OfflineHours    float64 `json:"offline_hours"`
	BarsSynced      int     `json:"bars_synced"`
}

// GetStatus fetches the arena status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/arena/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllocateCapital splits total across the strategies.
func (c *Client) AllocateCapital(ctx context.Context, total float64, force bool) (*AllocationReport, error) {
	req := map[string]any{"total": total, "force": force}
	var out AllocationReport
	if err := c.do(ctx, http.MethodPost, "/api/arena/allocate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute triggers one tick and returns the trades it produced.
func (c *Client) Execute(ctx context.Context) ([]Trade, error) {
	var out struct {
		Trades []Trade `json:"trades"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/arena/execute", nil, &out); err != nil {
		return nil, err
	}
	return out.Trades, nil
}

// Sync runs offline-gap reconciliation.
func (c *Client) Sync(ctx context.Context, autoOptimize, forceFullBacktest bool) (*SyncReport, error) {
	req := map[string]any{"auto_optimize": autoOptimize, "force_full_backtest": forceFullBacktest}
	var out SyncReport
	if err := c.do(ctx, http.MethodPost, "/api/arena/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateParams changes a tunable strategy's parameters.
func (c *Client) UpdateParams(ctx context.Context, strategyID string, params map[string]float64) (map[string]float64, error) {
	req := map[string]any{"params": params}
	var out struct {
		Params map[string]float64 `json:"params"`
	}
	path := "/api/arena/strategies/" + url.PathEscape(strategyID) + "/params"
	if err := c.do(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return out.Params, nil
}

// Trades returns recent ledger entries, newest first. An empty strategyID
// returns all strategies' trades.
func (c *Client) Trades(ctx context.Context, strategyID string, limit int) ([]Trade, error) {
	q := url.Values{}
	if strategyID != "" {
		q.Set("strategy", strategyID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/arena/trades"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Trades []Trade `json:"trades"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Trades, nil
}

// StartMonitoring starts the background poll loop.
func (c *Client) StartMonitoring(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/arena/monitor/start", nil, nil)
}

// StopMonitoring stops the background poll loop.
func (c *Client) StopMonitoring(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/arena/monitor/stop", nil, nil)
}

// Reset clears the arena state, keeping the optimization history.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/arena/reset", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
