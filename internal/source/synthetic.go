package source

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"

	"candleflow/internal/market"
)

// Synthetic generates demo candles so a dead upstream still yields a working
// chart. Output is deterministic for a given symbol and time range. Trade
// history is not served; the engine mocks trades from the candle instead.
type Synthetic struct{}

func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

func (s *Synthetic) FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int, startTime, endTime int64) ([]market.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	intervalMs := interval.Millis()
	if endTime <= 0 {
		endTime = startTime + int64(limit)*intervalMs
	}
	lastOpen := (endTime / intervalMs) * intervalMs
	if lastOpen >= endTime {
		lastOpen -= intervalMs
	}
	firstOpen := lastOpen - int64(limit-1)*intervalMs

	rng := rand.New(rand.NewSource(seedFor(symbol, firstOpen)))
	base := basePriceFor(symbol)
	price := base

	candles := make([]market.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		// Slow sine drift plus bounded per-candle noise around the base.
		trend := math.Sin(float64(i)/25) * base * 0.02
		noise := (rng.Float64() - 0.5) * base * 0.008

		open := price
		close := base + trend + noise
		high := math.Max(open, close) * (1 + rng.Float64()*0.003)
		low := math.Min(open, close) * (1 - rng.Float64()*0.003)
		volume := 20 + rng.Float64()*180

		candles = append(candles, market.Candle{
			OpenTime: firstOpen + int64(i)*intervalMs,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   volume,
		})
		price = close
	}
	return candles, nil
}

// FetchTrades always fails: synthetic trade history would not be consistent
// with any previously generated candles, so the engine mocks per candle.
func (s *Synthetic) FetchTrades(ctx context.Context, symbol string, startTime, endTime int64) ([]market.Trade, error) {
	return nil, ErrNoTradeHistory
}

func (s *Synthetic) FetchReferencePrice(ctx context.Context, symbol string) (float64, error) {
	return basePriceFor(symbol), nil
}

// MockTrades fabricates an internally consistent trade set for one candle:
// prices confined to [low, high], quantities tiered by price magnitude, side
// biased toward the candle's direction, timestamps inside the period. Used
// when per-candle trade history cannot be fetched.
func MockTrades(candle market.Candle, interval market.Interval) []market.Trade {
	if candle.High < candle.Low {
		return nil
	}
	rng := rand.New(rand.NewSource(seedFor("mock", candle.OpenTime)))
	count := 30 + rng.Intn(70)
	intervalMs := interval.Millis()

	buyProbability := 0.42
	if candle.Bullish() {
		buyProbability = 0.58
	}

	precision := precisionForMagnitude(candle.High)
	trades := make([]market.Trade, 0, count)
	for i := 0; i < count; i++ {
		price := candle.Low + rng.Float64()*(candle.High-candle.Low)
		price = roundToPrecision(price, precision)
		trades = append(trades, market.Trade{
			Price:    price,
			Quantity: mockQuantity(rng, price),
			RawPrice: strconv.FormatFloat(price, 'f', precision, 64),
			Time:     candle.OpenTime + rng.Int63n(intervalMs),
			IsBuy:    rng.Float64() < buyProbability,
		})
	}
	return trades
}

func mockQuantity(rng *rand.Rand, price float64) float64 {
	switch {
	case price >= 10000:
		return 0.001 + rng.Float64()*0.05
	case price >= 1000:
		return 0.01 + rng.Float64()*0.5
	case price >= 100:
		return 0.1 + rng.Float64()*2
	default:
		return 1 + rng.Float64()*50
	}
}

func precisionForMagnitude(price float64) int {
	switch {
	case price >= 1000:
		return 2
	case price >= 100:
		return 3
	case price >= 1:
		return 4
	default:
		return 6
	}
}

func roundToPrecision(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}

func seedFor(symbol string, salt int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64()) ^ salt
}

// basePriceFor spreads symbols over a plausible price range so different
// selections look distinct in demo mode.
func basePriceFor(symbol string) float64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	tier := h.Sum64() % 4
	frac := float64(h.Sum64()%1000) / 1000
	switch tier {
	case 0:
		return 20000 + frac*40000
	case 1:
		return 1000 + frac*3000
	case 2:
		return 50 + frac*400
	default:
		return 0.1 + frac*5
	}
}
