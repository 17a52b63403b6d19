package source

import (
	"context"

	"candleflow/internal/market"
	"candleflow/logger"
)

// Fallback degrades candle and reference-price fetches to a synthetic source
// when the primary fails, so upstream outages never reach the engine. Trade
// history failures pass through untouched.
type Fallback struct {
	primary   Source
	secondary Source
	log       *logger.Entry
}

func NewFallback(primary, secondary Source) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		log:       logger.GetLogger().WithComponent("source-fallback"),
	}
}

func (f *Fallback) FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int, startTime, endTime int64) ([]market.Candle, error) {
	candles, err := f.primary.FetchCandles(ctx, symbol, interval, limit, startTime, endTime)
	if err == nil {
		return candles, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.log.WithError(err).WithFields(logger.Fields{
		"symbol":   symbol,
		"interval": interval,
	}).Warn("primary candle fetch failed, serving synthetic data")
	return f.secondary.FetchCandles(ctx, symbol, interval, limit, startTime, endTime)
}

func (f *Fallback) FetchTrades(ctx context.Context, symbol string, startTime, endTime int64) ([]market.Trade, error) {
	return f.primary.FetchTrades(ctx, symbol, startTime, endTime)
}

func (f *Fallback) FetchReferencePrice(ctx context.Context, symbol string) (float64, error) {
	price, err := f.primary.FetchReferencePrice(ctx, symbol)
	if err == nil {
		return price, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}
	f.log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("primary reference price failed, serving synthetic price")
	return f.secondary.FetchReferencePrice(ctx, symbol)
}
