// Package market holds the shared data model for one instrument selection:
// candles keyed by open time, individual trades, and the streaming events
// produced by the live feed.
package market

import "time"

// Candle is one OHLCV record for a fixed interval. OpenTime is epoch millis
// and is the unique key within a series. Live marks the most recent period
// while it is still open and subject to in-place replacement.
type Candle struct {
	OpenTime int64   `json:"openTime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Live     bool    `json:"live"`
}

// Bullish reports whether the candle closed at or above its open.
func (c Candle) Bullish() bool {
	return c.Close >= c.Open
}

// Trade is a single execution. RawPrice keeps the exchange's decimal string
// so footprint bucketing can infer tick precision instead of guessing from
// a float64 round trip. AggregateID is the exchange-assigned monotonic id,
// zero for mock or stream-delivered trades that carry none.
type Trade struct {
	AggregateID int64   `json:"aggregateId"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	RawPrice    string  `json:"rawPrice"`
	Time        int64   `json:"time"`
	IsBuy       bool    `json:"isBuy"`
}

// CandleUpdate is a streaming kline event. Closed is true once the period
// has ended and the values are final.
type CandleUpdate struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool
}

// Candle converts the update into a stored candle, live while not closed.
func (u CandleUpdate) Candle() Candle {
	return Candle{
		OpenTime: u.OpenTime,
		Open:     u.Open,
		High:     u.High,
		Low:      u.Low,
		Close:    u.Close,
		Volume:   u.Volume,
		Live:     !u.Closed,
	}
}

// TradeEvent is a streaming aggregate-trade event. IsBuyerMaker true means
// the aggressor was a seller.
type TradeEvent struct {
	AggregateID  int64
	Price        float64
	Quantity     float64
	RawPrice     string
	RawQuantity  string
	Time         int64
	IsBuyerMaker bool
}

// Trade converts the event into a ledger trade.
func (e TradeEvent) Trade() Trade {
	return Trade{
		AggregateID: e.AggregateID,
		Price:       e.Price,
		Quantity:    e.Quantity,
		RawPrice:    e.RawPrice,
		Time:        e.Time,
		IsBuy:       !e.IsBuyerMaker,
	}
}

// Interval is a kline interval in Binance notation.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// Duration returns the interval length, defaulting to 4h for unknown values.
func (i Interval) Duration() time.Duration {
	if d, ok := intervalDurations[i]; ok {
		return d
	}
	return 4 * time.Hour
}

// Millis returns the interval length in epoch milliseconds.
func (i Interval) Millis() int64 {
	return i.Duration().Milliseconds()
}

// Valid reports whether the interval is one the engine recognizes.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// SupportsTrades reports whether per-candle trade fetching and footprint
// aggregation are enabled for this interval. Longer periods hold too many
// trades to page through a public endpoint.
func (i Interval) SupportsTrades() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval1h:
		return true
	}
	return false
}
