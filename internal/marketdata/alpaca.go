package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"colosseum/internal/domain"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Provider = (*AlpacaProvider)(nil)

// ---------------------------------------------------------------------------
// AlpacaProvider — crypto quotes and bars from the Alpaca market-data API.
// ---------------------------------------------------------------------------

// AlpacaProvider serves tickers and candles from Alpaca's crypto market-data
// endpoints. Crypto data needs no subscription, so empty credentials still
// work for public history.
type AlpacaProvider struct {
	client *marketdata.Client
	log    *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
// dataURL overrides the default market-data host when non-empty.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		log:    slog.Default().With("provider", "alpaca"),
	}
}

// GetTicker returns the latest crypto quote for the symbol.
func (p *AlpacaProvider) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return domain.Ticker{}, err
	}

	pair := pairFor(symbol)
	snap, err := p.client.GetCryptoSnapshot(pair, marketdata.GetCryptoSnapshotRequest{})
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("GetCryptoSnapshot %s: %w", pair, err)
	}
	if snap == nil || snap.LatestTrade == nil {
		return domain.Ticker{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	t := domain.Ticker{
		Symbol: symbol,
		Last:   snap.LatestTrade.Price,
	}
	if snap.LatestQuote != nil {
		t.Bid = snap.LatestQuote.BidPrice
		t.Ask = snap.LatestQuote.AskPrice
	}
	if snap.DailyBar != nil {
		t.High24h = snap.DailyBar.High
		t.Low24h = snap.DailyBar.Low
		t.Vol24h = snap.DailyBar.Volume
	}
	return t, nil
}

// GetCandles returns up to limit of the most recent closed candles, ascending.
func (p *AlpacaProvider) GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	start := now.Add(-time.Duration(limit+1) * tf.Duration())
	candles, err := p.GetCandlesRange(ctx, symbol, tf, start, now)
	if err != nil {
		return nil, err
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetCandlesRange returns closed candles in [start, end), ascending. The SDK
// paginates internally; page size stays under the API cap.
func (p *AlpacaProvider) GetCandlesRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pair := pairFor(symbol)
	alpacaTF, err := alpacaTimeframe(tf)
	if err != nil {
		return nil, err
	}

	bars, err := p.client.GetCryptoBars(pair, marketdata.GetCryptoBarsRequest{
		TimeFrame: alpacaTF,
		Start:     start,
		End:       end,
		PageLimit: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoBars %s %s: %w", pair, tf, err)
	}

	// The newest bar may still be forming. Only fully closed bars are
	// returned so downstream signals never see a partial candle.
	cutoff := time.Now().UTC().Add(-tf.Duration())
	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(end) || ts.After(cutoff) {
			continue
		}
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	p.log.Debug("fetched candles",
		"symbol", symbol, "timeframe", string(tf),
		"start", start, "end", end, "count", len(candles))
	return candles, nil
}

// pairFor maps an internal symbol like BTC-USDT to Alpaca's crypto pair
// notation. Alpaca quotes crypto in USD, so USDT quotes map to /USD.
func pairFor(symbol string) string {
	base, quote, ok := strings.Cut(symbol, "-")
	if !ok {
		return symbol
	}
	if quote == "USDT" || quote == "USDC" {
		quote = "USD"
	}
	return base + "/" + quote
}

// alpacaTimeframe converts a domain timeframe to the SDK's representation.
func alpacaTimeframe(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case domain.TF1m:
		return marketdata.OneMin, nil
	case domain.TF3m:
		return marketdata.NewTimeFrame(3, marketdata.Min), nil
	case domain.TF5m:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.TF15m:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.TF30m:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case domain.TF1H:
		return marketdata.OneHour, nil
	case domain.TF2H:
		return marketdata.NewTimeFrame(2, marketdata.Hour), nil
	case domain.TF4H:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case domain.TF1D:
		return marketdata.OneDay, nil
	case domain.TF1W:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
