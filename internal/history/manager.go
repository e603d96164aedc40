// Package history keeps the local candle cache warm: it serves candles from
// SQLite, detects stale or missing coverage, and backfills gaps from the
// market-data provider in rate-limited chunks.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"colosseum/internal/domain"
	"colosseum/internal/marketdata"
	"colosseum/internal/store"
	"colosseum/internal/util"
)

// maxBarsPerFetch caps the window of a single provider request.
const maxBarsPerFetch = 300

// stalenessBars is how many bar intervals the cache may lag behind now
// before a refresh is triggered.
const stalenessBars = 2

// Manager mediates between the candle cache and the market-data provider.
// Reads always come from the cache; the provider is only consulted to fill
// gaps, and a provider failure degrades to whatever the cache holds.
type Manager struct {
	provider marketdata.Provider
	cache    store.CandleStore
	limiter  *util.RateLimiter
	log      *slog.Logger
}

// NewManager creates a Manager. requestsPerMinute bounds provider traffic
// during backfills.
func NewManager(provider marketdata.Provider, cache store.CandleStore, requestsPerMinute int) *Manager {
	return &Manager{
		provider: provider,
		cache:    cache,
		limiter:  util.NewRateLimiter(requestsPerMinute),
		log:      slog.Default().With("component", "history"),
	}
}

// GetCandles returns cached candles covering the last `days` days, fetching
// whatever the cache is missing first. When the provider is unreachable the
// cached subset is returned instead of an error.
func (m *Manager) GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, days int) ([]domain.Candle, error) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -days)

	if err := m.EnsureCoverage(ctx, symbol, tf, start); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		m.log.Warn("coverage refresh failed, serving cached data",
			"symbol", symbol, "timeframe", string(tf), "error", err)
	}

	return m.cache.Candles(ctx, symbol, tf, start, now.Add(tf.Duration()))
}

// CandlesSince returns cached candles from start onward, refreshing coverage
// first. Used by gap replay, which needs an exact historical window.
func (m *Manager) CandlesSince(ctx context.Context, symbol string, tf domain.Timeframe, start time.Time) ([]domain.Candle, error) {
	if err := m.EnsureCoverage(ctx, symbol, tf, start); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		m.log.Warn("coverage refresh failed, serving cached data",
			"symbol", symbol, "timeframe", string(tf), "error", err)
	}
	return m.cache.Candles(ctx, symbol, tf, start, time.Now().UTC().Add(tf.Duration()))
}

// EnsureCoverage makes the cache cover [start, now) for (symbol, timeframe).
// It backfills the older gap when the cache starts too late and refreshes
// the newest bars when the cache has gone stale.
func (m *Manager) EnsureCoverage(ctx context.Context, symbol string, tf domain.Timeframe, start time.Time) error {
	now := time.Now().UTC()

	cov, ok, err := m.cache.GetCoverage(ctx, symbol, tf)
	if err != nil {
		return fmt.Errorf("reading coverage: %w", err)
	}

	if !ok {
		m.log.Info("no cached data, fetching full range",
			"symbol", symbol, "timeframe", string(tf), "start", start)
		return m.fetchRange(ctx, symbol, tf, start, now)
	}

	// Older gap first so a partial failure still leaves contiguous data
	// at the recent end.
	if cov.Earliest.After(start.Add(tf.Duration())) {
		m.log.Info("backfilling older candles",
			"symbol", symbol, "timeframe", string(tf),
			"start", start, "cached_earliest", cov.Earliest)
		if err := m.fetchRange(ctx, symbol, tf, start, cov.Earliest); err != nil {
			return err
		}
	}

	if now.Sub(cov.Latest) > stalenessBars*tf.Duration() {
		m.log.Info("cache stale, refreshing newest candles",
			"symbol", symbol, "timeframe", string(tf), "cached_latest", cov.Latest)
		if err := m.fetchRange(ctx, symbol, tf, cov.Latest, now); err != nil {
			return err
		}
	}

	return nil
}

// fetchRange downloads [start, end) in chunks of maxBarsPerFetch bars,
// waiting on the rate limiter between chunks and persisting each chunk as it
// arrives. Cancellation is honored between chunks.
func (m *Manager) fetchRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) error {
	chunk := time.Duration(maxBarsPerFetch) * tf.Duration()

	for cursor := start; cursor.Before(end); cursor = cursor.Add(chunk) {
		chunkEnd := cursor.Add(chunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}

		var candles []domain.Candle
		err := util.Retry(ctx, 3, time.Second, func() error {
			var err error
			candles, err = m.provider.GetCandlesRange(ctx, symbol, tf, cursor, chunkEnd)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching %s/%s [%s, %s): %w", symbol, tf, cursor, chunkEnd, err)
		}

		inserted, err := m.cache.SaveCandles(ctx, candles)
		if err != nil {
			return fmt.Errorf("caching %d candles: %w", len(candles), err)
		}
		m.log.Debug("cached chunk",
			"symbol", symbol, "timeframe", string(tf),
			"start", cursor, "end", chunkEnd,
			"fetched", len(candles), "inserted", inserted)
	}
	return nil
}
