package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalSemantics(t *testing.T) {
	assert.Equal(t, time.Minute, Interval1m.Duration())
	assert.EqualValues(t, 300_000, Interval5m.Millis())
	assert.True(t, Interval1h.Valid())
	assert.False(t, Interval("42x").Valid())
	assert.Equal(t, 4*time.Hour, Interval("42x").Duration(), "unknown intervals fall back to 4h")

	assert.True(t, Interval15m.SupportsTrades())
	assert.False(t, Interval1d.SupportsTrades())
}

func TestCandleUpdateConversion(t *testing.T) {
	open := CandleUpdate{OpenTime: 1000, Close: 101, Closed: false}.Candle()
	assert.True(t, open.Live)

	closed := CandleUpdate{OpenTime: 1000, Close: 101, Closed: true}.Candle()
	assert.False(t, closed.Live)
}

func TestTradeEventSideMapping(t *testing.T) {
	sellAggressor := TradeEvent{IsBuyerMaker: true}.Trade()
	assert.False(t, sellAggressor.IsBuy)

	buyAggressor := TradeEvent{IsBuyerMaker: false}.Trade()
	assert.True(t, buyAggressor.IsBuy)
}
