// Package httpapi exposes the arena's administrative operations as a JSON
// HTTP API: status, capital allocation, manual ticks, offline-gap
// reconciliation, parameter updates, the monitor loop, and backtests over
// the cached history.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"colosseum/internal/arena"
	"colosseum/internal/backtest"
	"colosseum/internal/domain"
	"colosseum/internal/history"
	"colosseum/internal/store"
	"colosseum/internal/strategy"
)

// stopTimeout bounds how long a stop request waits for the monitor loop.
const stopTimeout = 30 * time.Second

// defaultBacktestCapital is used when a backtest request omits the capital.
const defaultBacktestCapital = 10000

// Server serves the arena admin HTTP API.
type Server struct {
	arena   *arena.Arena
	history *history.Manager
	candles store.CandleStore
	log     *slog.Logger
}

// NewServer creates the admin API server.
func NewServer(a *arena.Arena, hist *history.Manager, candles store.CandleStore) *Server {
	return &Server{
		arena:   a,
		history: hist,
		candles: candles,
		log:     slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/arena/status", s.handleStatus)
	mux.HandleFunc("POST /api/arena/allocate", s.handleAllocate)
	mux.HandleFunc("POST /api/arena/execute", s.handleExecute)
	mux.HandleFunc("POST /api/arena/sync", s.handleSync)
	mux.HandleFunc("POST /api/arena/monitor/start", s.handleMonitorStart)
	mux.HandleFunc("POST /api/arena/monitor/stop", s.handleMonitorStop)
	mux.HandleFunc("PUT /api/arena/strategies/{id}/params", s.handleUpdateParams)
	mux.HandleFunc("POST /api/arena/reset", s.handleReset)
	mux.HandleFunc("GET /api/arena/trades", s.handleTrades)
	mux.HandleFunc("GET /api/arena/optimizations", s.handleOptimizations)
	mux.HandleFunc("GET /api/backtests", s.handleBacktests)
	mux.HandleFunc("POST /api/backtests/run", s.handleRunBacktest)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseLimit extracts the "limit" query param, defaulting to 50.
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

// ---------------------------------------------------------------------------
// Arena handlers
// ---------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.arena.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status)
}

type allocateRequest struct {
	Total float64 `json:"total"`
	Force bool    `json:"force"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := s.arena.AllocateCapital(r.Context(), req.Total, req.Force)
	if err != nil {
		if errors.Is(err, arena.ErrOpenPosition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, report)
}

type executeResponse struct {
	Trades []domain.Trade `json:"trades"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	trades, err := s.arena.CheckAndExecute(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, executeResponse{Trades: trades})
}

type syncRequest struct {
	AutoOptimize      bool `json:"auto_optimize"`
	ForceFullBacktest bool `json:"force_full_backtest"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req := syncRequest{AutoOptimize: true}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	report, err := s.arena.SyncAndReview(r.Context(), req.AutoOptimize, req.ForceFullBacktest)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	s.arena.StartMonitoring()
	writeJSON(w, map[string]bool{"running": true})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if !s.arena.StopMonitoring(stopTimeout) {
		writeError(w, http.StatusGatewayTimeout, "monitor loop did not stop in time")
		return
	}
	writeJSON(w, map[string]bool{"running": false})
}

type updateParamsRequest struct {
	Params map[string]float64 `json:"params"`
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, "params required")
		return
	}

	params, err := s.arena.UpdateParams(r.Context(), id, req.Params)
	switch {
	case errors.Is(err, arena.ErrUnknownStrategy):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, strategy.ErrFixedParams):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, map[string]map[string]float64{"params": params})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.arena.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"reset": true})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.arena.Trades(r.Context(), r.URL.Query().Get("strategy"), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, map[string][]domain.Trade{"trades": trades})
}

func (s *Server) handleOptimizations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.arena.Optimizations(r.Context(), r.URL.Query().Get("strategy"), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []domain.OptimizationRecord{}
	}
	writeJSON(w, map[string][]domain.OptimizationRecord{"optimizations": recs})
}

// ---------------------------------------------------------------------------
// Backtest handlers
// ---------------------------------------------------------------------------

func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	cfg := s.arena.Config()
	runs, err := s.candles.BacktestRuns(r.Context(), cfg.Symbol, cfg.Timeframe, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.BacktestRun{}
	}
	writeJSON(w, map[string][]domain.BacktestRun{"backtests": runs})
}

type runBacktestRequest struct {
	StrategyID     string             `json:"strategy_id"`
	Days           int                `json:"days"`
	InitialCapital float64            `json:"initial_capital"`
	Params         map[string]float64 `json:"params"`
	Notes          string             `json:"notes"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req runBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Days <= 0 {
		req.Days = 30
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = defaultBacktestCapital
	}

	strat, err := strategy.New(strategy.Kind(req.StrategyID), req.Params)
	if err != nil {
		if errors.Is(err, strategy.ErrUnknownKind) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.arena.Config()
	candles, err := s.history.GetCandles(r.Context(), cfg.Symbol, cfg.Timeframe, req.Days)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("loading history: %v", err))
		return
	}

	engine := backtest.New(req.InitialCapital, cfg.Commission)
	result, err := engine.Run(strat, candles)
	if err != nil {
		if errors.Is(err, backtest.ErrNoData) {
			writeError(w, http.StatusConflict, "not enough cached history for this window")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run := domain.BacktestRun{
		Symbol:        cfg.Symbol,
		Timeframe:     cfg.Timeframe,
		StrategyID:    result.StrategyID,
		Params:        result.Params,
		Metrics:       result.Metrics,
		DataPoints:    result.DataPoints,
		Start:         result.Start,
		End:           result.End,
		UserSpecified: len(req.Params) > 0,
		Notes:         req.Notes,
	}
	if err := s.candles.SaveBacktestRun(r.Context(), &run); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("recording run: %v", err))
		return
	}

	s.log.Info("backtest complete",
		"strategy", run.StrategyID, "days", req.Days,
		"return_pct", run.Metrics.TotalReturnPct, "trades", run.Metrics.TotalTrades)
	writeJSON(w, run)
}
