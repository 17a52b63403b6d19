// Package footprint converts a candle's trade set into ordered price-level
// buckets with buy/sell volume split, point of control and value area. The
// computation is pure: identical trade sets always produce identical levels
// and stats.
package footprint

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"candleflow/internal/market"
)

const maxPrecision = 8

// Options controls condensation and the value-area target.
type Options struct {
	// MaxLevels caps the rendered level count; bucket runs are merged when
	// exceeded. Values below 10 are raised to 10.
	MaxLevels int
	// ValueAreaFraction of total volume the value area must cover.
	// Defaults to 0.70 when zero.
	ValueAreaFraction float64
}

func (o Options) normalized() Options {
	if o.MaxLevels < 10 {
		o.MaxLevels = 10
	}
	if o.ValueAreaFraction <= 0 {
		o.ValueAreaFraction = 0.70
	}
	return o
}

// Level is one price bucket, ordered highest price first in a footprint.
type Level struct {
	Price       float64 `json:"price"`
	PriceHigh   float64 `json:"priceHigh"`
	PriceLow    float64 `json:"priceLow"`
	BuyVolume   float64 `json:"buyVolume"`
	SellVolume  float64 `json:"sellVolume"`
	TotalVolume float64 `json:"totalVolume"`
	Delta       float64 `json:"delta"`
	BuyRatio    float64 `json:"buyRatio"`
	SellRatio   float64 `json:"sellRatio"`
	TradeCount  int     `json:"tradeCount"`
	Merged      bool    `json:"merged"`
	IsPOC       bool    `json:"isPoc"`
	InValueArea bool    `json:"inValueArea"`
	IsVAHigh    bool    `json:"isVaHigh"`
	IsVALow     bool    `json:"isVaLow"`
	PriceLabel  string  `json:"priceLabel"`
}

// Stats summarizes a candle's footprint.
type Stats struct {
	BuyVolume      float64 `json:"buyVolume"`
	SellVolume     float64 `json:"sellVolume"`
	TotalVolume    float64 `json:"totalVolume"`
	Delta          float64 `json:"delta"`
	TradeCount     int     `json:"tradeCount"`
	POCPrice       float64 `json:"pocPrice"`
	POCVolume      float64 `json:"pocVolume"`
	ValueAreaHigh  float64 `json:"vahPrice"`
	ValueAreaLow   float64 `json:"valPrice"`
	PricePrecision int     `json:"pricePrecision"`
	LevelCount     int     `json:"levelCount"`
}

// Footprint is the derived per-candle aggregation. Regenerated on demand,
// never persisted independently of its source trades.
type Footprint struct {
	Levels []Level `json:"levels"`
	Stats  Stats   `json:"stats"`
}

// Build aggregates the trade set for one candle. It returns nil for
// degenerate input (no trades, or zero total volume after bucketing) so
// callers can distinguish "no data" from a computed-but-empty result.
func Build(candle market.Candle, trades []market.Trade, opts Options) *Footprint {
	if len(trades) == 0 {
		return nil
	}
	opts = opts.normalized()

	precision := inferPrecision(candle, trades)
	levels := bucketTrades(trades, precision)
	if len(levels) == 0 {
		return nil
	}
	levels = condense(levels, opts.MaxLevels, precision)

	var totalBuy, totalSell float64
	totalTrades := 0
	pocIndex := 0
	pocVolume := math.Inf(-1)
	for i := range levels {
		lv := &levels[i]
		lv.TotalVolume = lv.BuyVolume + lv.SellVolume
		lv.Delta = lv.BuyVolume - lv.SellVolume
		if lv.TotalVolume > 0 {
			lv.BuyRatio = lv.BuyVolume / lv.TotalVolume
			lv.SellRatio = lv.SellVolume / lv.TotalVolume
		}
		totalBuy += lv.BuyVolume
		totalSell += lv.SellVolume
		totalTrades += lv.TradeCount
		if lv.TotalVolume > pocVolume {
			pocVolume = lv.TotalVolume
			pocIndex = i
		}
	}

	totalVolume := totalBuy + totalSell
	if totalVolume == 0 {
		return nil
	}

	vaHigh, vaLow := valueArea(levels, pocIndex, totalVolume*opts.ValueAreaFraction)

	for i := range levels {
		lv := &levels[i]
		lv.IsPOC = i == pocIndex
		lv.InValueArea = i >= vaHigh && i <= vaLow
		lv.IsVAHigh = i == vaHigh
		lv.IsVALow = i == vaLow
		if lv.Merged && lv.PriceHigh != lv.PriceLow {
			lv.PriceLabel = formatPrice((lv.PriceHigh+lv.PriceLow)/2, precision)
		} else {
			lv.PriceLabel = formatPrice(lv.Price, precision)
		}
	}

	stats := Stats{
		BuyVolume:      totalBuy,
		SellVolume:     totalSell,
		TotalVolume:    totalVolume,
		Delta:          totalBuy - totalSell,
		TradeCount:     totalTrades,
		POCPrice:       levels[pocIndex].Price,
		POCVolume:      pocVolume,
		ValueAreaHigh:  levels[vaHigh].PriceHigh,
		ValueAreaLow:   levels[vaLow].PriceLow,
		PricePrecision: precision,
		LevelCount:     len(levels),
	}

	return &Footprint{Levels: levels, Stats: stats}
}

// inferPrecision derives decimal precision from the trades' raw price
// representations, falling back to a tier keyed by price magnitude when no
// fractional digits are found.
func inferPrecision(candle market.Candle, trades []market.Trade) int {
	precision := 0
	for _, t := range trades {
		raw := t.RawPrice
		if raw == "" {
			raw = strconv.FormatFloat(t.Price, 'f', -1, 64)
		}
		if d := CountDecimals(raw); d > precision {
			precision = d
		}
	}
	if precision == 0 {
		ref := math.Max(math.Max(candle.Open, candle.Close), math.Max(candle.High, candle.Low))
		switch {
		case ref >= 1000:
			precision = 2
		case ref >= 100:
			precision = 3
		case ref >= 1:
			precision = 4
		default:
			precision = 6
		}
	}
	if precision > maxPrecision {
		precision = maxPrecision
	}
	return precision
}

// CountDecimals counts significant fractional digits in a decimal string,
// ignoring trailing zeros. Scientific notation like "1e-7" counts the
// negative exponent.
func CountDecimals(value string) int {
	if value == "" {
		return 0
	}
	if i := strings.IndexAny(value, "eE"); i >= 0 {
		rest := value[i+1:]
		if strings.HasPrefix(rest, "-") {
			if exp, err := strconv.Atoi(rest[1:]); err == nil {
				return exp
			}
		}
		return 0
	}
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(value[dot+1:], "0")
	return len(frac)
}

// bucketTrades rounds every trade's price to the inferred precision and
// accumulates per-bucket volumes, counts and the raw price extremes that
// rounded into it. The result is sorted highest price first.
func bucketTrades(trades []market.Trade, precision int) []Level {
	buckets := make(map[float64]*Level, len(trades))
	for _, t := range trades {
		price := t.Price
		if t.RawPrice != "" {
			if p, err := strconv.ParseFloat(t.RawPrice, 64); err == nil {
				price = p
			}
		}
		key := roundTo(price, precision)
		lv, ok := buckets[key]
		if !ok {
			lv = &Level{Price: key, PriceHigh: price, PriceLow: price}
			buckets[key] = lv
		}
		lv.TradeCount++
		if price > lv.PriceHigh {
			lv.PriceHigh = price
		}
		if price < lv.PriceLow {
			lv.PriceLow = price
		}
		if t.IsBuy {
			lv.BuyVolume += t.Quantity
		} else {
			lv.SellVolume += t.Quantity
		}
	}

	levels := make([]Level, 0, len(buckets))
	for _, lv := range buckets {
		lv.TotalVolume = lv.BuyVolume + lv.SellVolume
		lv.Delta = lv.BuyVolume - lv.SellVolume
		levels = append(levels, *lv)
	}
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price > levels[j].Price
	})
	return levels
}

// condense merges contiguous groups of ceil(n/maxLevels) adjacent buckets
// when the bucket count exceeds maxLevels. Merged buckets sum volumes and
// counts and take a volume-weighted mean price.
func condense(levels []Level, maxLevels, precision int) []Level {
	if len(levels) <= maxLevels {
		return levels
	}
	groupSize := (len(levels) + maxLevels - 1) / maxLevels
	condensed := make([]Level, 0, maxLevels)
	for i := 0; i < len(levels); i += groupSize {
		end := i + groupSize
		if end > len(levels) {
			end = len(levels)
		}
		group := levels[i:end]
		agg := Level{
			PriceHigh: group[0].PriceHigh,
			PriceLow:  group[len(group)-1].PriceLow,
			Merged:    len(group) > 1,
		}
		weighted := 0.0
		for _, lv := range group {
			agg.BuyVolume += lv.BuyVolume
			agg.SellVolume += lv.SellVolume
			agg.TotalVolume += lv.TotalVolume
			agg.TradeCount += lv.TradeCount
			weighted += lv.Price * lv.TotalVolume
		}
		if agg.TotalVolume > 0 {
			agg.Price = roundTo(weighted/agg.TotalVolume, precision)
		} else {
			agg.Price = roundTo((group[0].Price+group[len(group)-1].Price)/2, precision)
		}
		condensed = append(condensed, agg)
	}
	return condensed
}

// valueArea expands symmetrically from the POC, always consuming the larger
// neighboring volume next (ties favor the higher-priced side), until the
// target volume is covered or both directions are exhausted. Returns the
// bounding indices in high-to-low order (vaHigh <= pocIndex <= vaLow).
func valueArea(levels []Level, pocIndex int, target float64) (vaHigh, vaLow int) {
	cumulative := levels[pocIndex].TotalVolume
	upper := pocIndex - 1 // higher prices
	lower := pocIndex + 1 // lower prices
	vaHigh, vaLow = pocIndex, pocIndex

	for cumulative < target && (upper >= 0 || lower < len(levels)) {
		upperVolume := -1.0
		if upper >= 0 {
			upperVolume = levels[upper].TotalVolume
		}
		lowerVolume := -1.0
		if lower < len(levels) {
			lowerVolume = levels[lower].TotalVolume
		}

		if upperVolume >= lowerVolume {
			if upperVolume > -1 {
				cumulative += upperVolume
				vaHigh = upper
				upper--
			} else if lowerVolume > -1 {
				cumulative += lowerVolume
				vaLow = lower
				lower++
			} else {
				break
			}
		} else {
			cumulative += lowerVolume
			vaLow = lower
			lower++
		}
	}
	return vaHigh, vaLow
}

// roundTo matches toFixed-style rounding at the given precision.
func roundTo(v float64, precision int) float64 {
	s := strconv.FormatFloat(v, 'f', precision, 64)
	out, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return v
	}
	return out
}

func formatPrice(v float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	if precision > maxPrecision {
		precision = maxPrecision
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}
