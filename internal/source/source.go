// Package source provides historical market data access: Binance REST as the
// primary source, a synthetic generator as the degraded fallback. Candle and
// reference-price failures never propagate past the fallback wrapper; trade
// history failures do, because the engine can mock trades from the candle it
// already holds.
package source

import (
	"context"
	"errors"

	"candleflow/internal/market"
)

// ErrNoTradeHistory signals that a source cannot serve per-candle trade
// history at all, as opposed to a transient fetch failure.
var ErrNoTradeHistory = errors.New("source: trade history not available")

// Source serves historical candles, per-candle trade history and a reference
// ticker price. Implementations page and deduplicate trades internally and
// return both candles and trades ordered by time ascending.
type Source interface {
	FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int, startTime, endTime int64) ([]market.Candle, error)
	FetchTrades(ctx context.Context, symbol string, startTime, endTime int64) ([]market.Trade, error)
	FetchReferencePrice(ctx context.Context, symbol string) (float64, error)
}
