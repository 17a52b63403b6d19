// Package stream subscribes to the live Binance websocket feeds for one
// selection: the kline stream driving candle updates and the aggregate-trade
// stream driving the footprint's live buffer. Each subscription runs in its
// own reconnect loop with a fixed delay; delivery is at-least-once and gap
// tolerant, which the engine's reconciliation absorbs.
package stream

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2"

	"candleflow/internal/market"
	"candleflow/logger"
)

// Options tunes the feed's reconnect and buffering behavior.
type Options struct {
	// ReconnectDelay between a stream ending and the next dial. Default 3s.
	ReconnectDelay time.Duration
	// EventBuffer is the capacity of each delivery channel. Events beyond a
	// full buffer are dropped and counted rather than blocking the reader
	// goroutine. Default 512.
	EventBuffer int
}

func (o Options) normalized() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 512
	}
	return o
}

// Stats counts deliveries and drops per stream since the feed started.
type Stats struct {
	CandlesSent    uint64
	CandlesDropped uint64
	TradesSent     uint64
	TradesDropped  uint64
}

// Feed owns the two websocket subscriptions for one symbol/interval.
type Feed struct {
	symbol   string
	interval market.Interval
	opts     Options

	candles chan market.CandleUpdate
	trades  chan market.TradeEvent

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	candlesSent    atomic.Uint64
	candlesDropped atomic.Uint64
	tradesSent     atomic.Uint64
	tradesDropped  atomic.Uint64

	log *logger.Entry
}

// NewFeed prepares a feed; no connection is made until Start.
func NewFeed(symbol string, interval market.Interval, opts Options) *Feed {
	opts = opts.normalized()
	return &Feed{
		symbol:   symbol,
		interval: interval,
		opts:     opts,
		candles:  make(chan market.CandleUpdate, opts.EventBuffer),
		trades:   make(chan market.TradeEvent, opts.EventBuffer),
		stop:     make(chan struct{}),
		log: logger.GetLogger().WithComponent("stream-feed").WithFields(logger.Fields{
			"symbol":   symbol,
			"interval": interval,
		}),
	}
}

// Candles delivers streaming candle updates.
func (f *Feed) Candles() <-chan market.CandleUpdate {
	return f.candles
}

// Trades delivers streaming aggregate-trade events. Only started for
// intervals with trade support; otherwise the channel stays silent.
func (f *Feed) Trades() <-chan market.TradeEvent {
	return f.trades
}

// Start launches the reconnect loops.
func (f *Feed) Start() {
	f.wg.Add(1)
	go f.runKlines()

	if f.interval.SupportsTrades() {
		f.wg.Add(1)
		go f.runAggTrades()
	}
}

// Stop tears down both subscriptions and waits for the loops to exit. The
// delivery channels are not closed; late readers simply see no more events.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()

	stats := f.Snapshot()
	f.log.LogMetric("stream-feed", "events_dropped", stats.CandlesDropped+stats.TradesDropped, "counter", logger.Fields{
		"candles_sent": stats.CandlesSent,
		"trades_sent":  stats.TradesSent,
	})
	logger.LogDataFlowEntry(f.log, "binance-ws", "engine", int(stats.CandlesSent), "candle_updates")
	if f.interval.SupportsTrades() {
		logger.LogDataFlowEntry(f.log, "binance-ws", "engine", int(stats.TradesSent), "agg_trades")
	}
}

// Snapshot returns current delivery counters.
func (f *Feed) Snapshot() Stats {
	return Stats{
		CandlesSent:    f.candlesSent.Load(),
		CandlesDropped: f.candlesDropped.Load(),
		TradesSent:     f.tradesSent.Load(),
		TradesDropped:  f.tradesDropped.Load(),
	}
}

func (f *Feed) runKlines() {
	defer f.wg.Done()
	for {
		handler := func(event *binance.WsKlineEvent) {
			update, err := candleUpdateFromWs(event.Kline)
			if err != nil {
				f.log.WithError(err).Warn("skipping malformed kline event")
				return
			}
			select {
			case f.candles <- update:
				f.candlesSent.Add(1)
			default:
				f.candlesDropped.Add(1)
			}
		}
		errHandler := func(err error) {
			f.log.WithError(err).Warn("kline stream error")
		}

		doneC, stopC, err := binance.WsKlineServe(f.symbol, string(f.interval), handler, errHandler)
		if err != nil {
			f.log.WithError(err).Warn("kline stream dial failed, retrying")
			if !f.sleep() {
				return
			}
			continue
		}
		f.log.Info("kline stream connected")

		select {
		case <-f.stop:
			close(stopC)
			return
		case <-doneC:
			f.log.Warn("kline stream closed, reconnecting")
			if !f.sleep() {
				return
			}
		}
	}
}

func (f *Feed) runAggTrades() {
	defer f.wg.Done()
	for {
		handler := func(event *binance.WsAggTradeEvent) {
			trade, err := tradeEventFromWs(event)
			if err != nil {
				f.log.WithError(err).Warn("skipping malformed trade event")
				return
			}
			select {
			case f.trades <- trade:
				f.tradesSent.Add(1)
			default:
				f.tradesDropped.Add(1)
			}
		}
		errHandler := func(err error) {
			f.log.WithError(err).Warn("trade stream error")
		}

		doneC, stopC, err := binance.WsAggTradeServe(f.symbol, handler, errHandler)
		if err != nil {
			f.log.WithError(err).Warn("trade stream dial failed, retrying")
			if !f.sleep() {
				return
			}
			continue
		}
		f.log.Info("trade stream connected")

		select {
		case <-f.stop:
			close(stopC)
			return
		case <-doneC:
			f.log.Warn("trade stream closed, reconnecting")
			if !f.sleep() {
				return
			}
		}
	}
}

// sleep waits out the reconnect delay, returning false when stopped.
func (f *Feed) sleep() bool {
	select {
	case <-f.stop:
		return false
	case <-time.After(f.opts.ReconnectDelay):
		return true
	}
}

func candleUpdateFromWs(k binance.WsKline) (market.CandleUpdate, error) {
	var (
		u   market.CandleUpdate
		err error
	)
	u.OpenTime = k.StartTime
	u.Closed = k.IsFinal
	if u.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
		return u, err
	}
	if u.High, err = strconv.ParseFloat(k.High, 64); err != nil {
		return u, err
	}
	if u.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
		return u, err
	}
	if u.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
		return u, err
	}
	if u.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
		return u, err
	}
	return u, nil
}

func tradeEventFromWs(e *binance.WsAggTradeEvent) (market.TradeEvent, error) {
	price, err := strconv.ParseFloat(e.Price, 64)
	if err != nil {
		return market.TradeEvent{}, err
	}
	qty, err := strconv.ParseFloat(e.Quantity, 64)
	if err != nil {
		return market.TradeEvent{}, err
	}
	return market.TradeEvent{
		AggregateID:  e.AggTradeID,
		Price:        price,
		Quantity:     qty,
		RawPrice:     e.Price,
		RawQuantity:  e.Quantity,
		Time:         e.TradeTime,
		IsBuyerMaker: e.IsBuyerMaker,
	}, nil
}
