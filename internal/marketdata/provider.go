// Package marketdata defines the market-data collaborator contract and its
// exchange-backed implementation. Providers return explicit errors; callers
// treat a failed fetch as "no data this tick", never as fatal.
package marketdata

import (
	"context"
	"errors"
	"time"

	"colosseum/internal/domain"
)

// ErrNoData is returned when the exchange answered but had nothing for the
// requested symbol or window.
var ErrNoData = errors.New("marketdata: no data")

// Provider is the read-only market-data contract consumed by the arena and
// the historical store.
type Provider interface {
	// GetTicker returns the latest quote for the symbol.
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)

	// GetCandles returns up to limit of the most recent closed candles in
	// ascending timestamp order.
	GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error)

	// GetCandlesRange returns candles with timestamps in [start, end) in
	// ascending order. Used by historical backfills.
	GetCandlesRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)
}
