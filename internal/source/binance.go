package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"candleflow/internal/market"
	"candleflow/logger"
)

const aggTradePageSize = 1000

// BinanceOptions bounds the aggregate-trade pagination loop.
type BinanceOptions struct {
	// MaxPages caps one FetchTrades call; a candle busier than
	// MaxPages*1000 aggregate trades is truncated. Default 12.
	MaxPages int
	// RequestsPerSecond throttles page requests. Default 16, burst 4.
	RequestsPerSecond float64
	Burst             int
}

func (o BinanceOptions) normalized() BinanceOptions {
	if o.MaxPages <= 0 {
		o.MaxPages = 12
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 16
	}
	if o.Burst <= 0 {
		o.Burst = 4
	}
	return o
}

// Binance serves historical data from the Binance spot REST API.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
	opts    BinanceOptions
	log     *logger.Entry
}

// NewBinance wraps an API client. The client may carry empty credentials;
// klines, aggTrades and ticker price are public endpoints.
func NewBinance(client *binance.Client, opts BinanceOptions) *Binance {
	opts = opts.normalized()
	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		opts:    opts,
		log:     logger.GetLogger().WithComponent("binance-source"),
	}
}

// FetchCandles returns up to limit klines ordered by open time ascending.
// startTime/endTime of zero are omitted from the request.
func (b *Binance) FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int, startTime, endTime int64) ([]market.Candle, error) {
	svc := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(string(interval)).
		Limit(limit)
	if startTime > 0 {
		svc = svc.StartTime(startTime)
	}
	if endTime > 0 {
		svc = svc.EndTime(endTime)
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := candleFromKline(k)
		if err != nil {
			b.log.WithError(err).WithFields(logger.Fields{
				"symbol":    symbol,
				"open_time": k.OpenTime,
			}).Warn("skipping malformed kline")
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// FetchTrades pages the aggregate-trade endpoint over [startTime, endTime),
// continuing each page from the last aggregate id seen. The exchange id is
// monotonic, so fromId continuation both orders and deduplicates pages.
func (b *Binance) FetchTrades(ctx context.Context, symbol string, startTime, endTime int64) ([]market.Trade, error) {
	trades := make([]market.Trade, 0, aggTradePageSize)
	lastID := int64(-1)

	for page := 0; page < b.opts.MaxPages; page++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		svc := b.client.NewAggTradesService().
			Symbol(symbol).
			Limit(aggTradePageSize)
		if lastID < 0 {
			svc = svc.StartTime(startTime).EndTime(endTime)
		} else {
			svc = svc.FromID(lastID + 1)
		}

		batch, err := svc.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("aggTrades %s page %d: %w", symbol, page, err)
		}
		if len(batch) == 0 {
			break
		}

		done := false
		for _, at := range batch {
			if at.Timestamp >= endTime {
				done = true
				break
			}
			if at.Timestamp < startTime {
				continue
			}
			t, err := tradeFromAggTrade(at)
			if err != nil {
				b.log.WithError(err).WithFields(logger.Fields{
					"symbol": symbol,
					"agg_id": at.AggTradeID,
				}).Warn("skipping malformed aggregate trade")
				continue
			}
			trades = append(trades, t)
		}
		lastID = batch[len(batch)-1].AggTradeID

		if done || len(batch) < aggTradePageSize {
			break
		}
	}

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Time != trades[j].Time {
			return trades[i].Time < trades[j].Time
		}
		return trades[i].AggregateID < trades[j].AggregateID
	})
	return trades, nil
}

// FetchReferencePrice returns the current ticker price.
func (b *Binance) FetchReferencePrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("ticker price %s: empty response", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	return price, nil
}

func candleFromKline(k *binance.Kline) (market.Candle, error) {
	var (
		c   market.Candle
		err error
	)
	c.OpenTime = k.OpenTime
	if c.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return c, fmt.Errorf("open: %w", err)
	}
	if c.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return c, fmt.Errorf("high: %w", err)
	}
	if c.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return c, fmt.Errorf("low: %w", err)
	}
	if c.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return c, fmt.Errorf("close: %w", err)
	}
	if c.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return c, fmt.Errorf("volume: %w", err)
	}
	return c, nil
}

func tradeFromAggTrade(at *binance.AggTrade) (market.Trade, error) {
	price, err := strconv.ParseFloat(at.Price, 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("price: %w", err)
	}
	qty, err := strconv.ParseFloat(at.Quantity, 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("quantity: %w", err)
	}
	return market.Trade{
		AggregateID: at.AggTradeID,
		Price:       price,
		Quantity:    qty,
		RawPrice:    at.Price,
		Time:        at.Timestamp,
		IsBuy:       !at.IsBuyerMaker,
	}, nil
}
