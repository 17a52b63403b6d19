package stream

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candleflow/internal/market"
)

func TestCandleUpdateFromWs(t *testing.T) {
	u, err := candleUpdateFromWs(binance.WsKline{
		StartTime: 1_700_000_000_000,
		Open:      "100.5",
		High:      "101.25",
		Low:       "99.75",
		Close:     "100.0",
		Volume:    "12.5",
		IsFinal:   true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1_700_000_000_000, u.OpenTime)
	assert.Equal(t, 100.5, u.Open)
	assert.Equal(t, 101.25, u.High)
	assert.Equal(t, 99.75, u.Low)
	assert.Equal(t, 100.0, u.Close)
	assert.Equal(t, 12.5, u.Volume)
	assert.True(t, u.Closed)

	candle := u.Candle()
	assert.False(t, candle.Live, "closed update freezes the candle")
}

func TestCandleUpdateFromWsRejectsGarbage(t *testing.T) {
	_, err := candleUpdateFromWs(binance.WsKline{Open: "not-a-number"})
	assert.Error(t, err)
}

func TestTradeEventFromWs(t *testing.T) {
	ev, err := tradeEventFromWs(&binance.WsAggTradeEvent{
		AggTradeID:   42,
		Price:        "100.1200",
		Quantity:     "0.75",
		TradeTime:    1_700_000_000_500,
		IsBuyerMaker: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, ev.AggregateID)
	assert.Equal(t, "100.1200", ev.RawPrice, "raw price string preserved for precision inference")

	trade := ev.Trade()
	assert.False(t, trade.IsBuy, "buyer-maker means the aggressor sold")
	assert.EqualValues(t, 1_700_000_000_500, trade.Time)
}

func TestFeedStopWithoutStart(t *testing.T) {
	f := NewFeed("BTCUSDT", market.Interval1m, Options{ReconnectDelay: time.Millisecond})
	// Stop must be safe before Start and idempotent.
	f.Stop()
	f.Stop()
	assert.Zero(t, f.Snapshot().CandlesSent)
}

func TestFeedSkipsTradeStreamForLongIntervals(t *testing.T) {
	f := NewFeed("BTCUSDT", market.Interval1d, Options{})
	assert.False(t, f.interval.SupportsTrades())
	select {
	case <-f.Trades():
		t.Fatal("no trade events expected for a daily interval")
	default:
	}
}
