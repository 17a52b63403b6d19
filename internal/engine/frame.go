package engine

import (
	"candleflow/internal/footprint"
	"candleflow/internal/market"
	"candleflow/internal/viewport"
)

// Frame is a read-only snapshot of everything the presentation layer needs to
// draw one picture of the chart. It carries no references back into mutable
// engine state; candles and footprints are copies or immutable values.
type Frame struct {
	Symbol   string          `json:"symbol"`
	Interval market.Interval `json:"interval"`

	Start      int                 `json:"start"`
	Count      int                 `json:"count"`
	SeriesLen  int                 `json:"seriesLen"`
	Candles    []market.Candle     `json:"candles"`
	Overscroll viewport.Overscroll `json:"overscroll"`

	PriceRange viewport.PriceRange `json:"priceRange"`
	TimeMin    int64               `json:"timeMin"`
	TimeMax    int64               `json:"timeMax"`

	LastPrice      float64 `json:"lastPrice"`
	PriceChangePct float64 `json:"priceChangePct"`
	ReferencePrice float64 `json:"referencePrice"`
	Live           bool    `json:"live"`

	FootprintMode bool                           `json:"footprintMode"`
	Footprints    map[int64]*footprint.Footprint `json:"footprints,omitempty"`

	MoreData    bool  `json:"moreData"`
	GeneratedAt int64 `json:"generatedAt"`
}

// FrameState assembles the current frame under the selection lock.
func (e *Engine) FrameState() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	start, count := e.view.Window()
	visible := e.series.SnapshotWindow(start, count)

	frame := Frame{
		Symbol:         e.cfg.Symbol,
		Interval:       e.cfg.Interval,
		Start:          start,
		Count:          count,
		SeriesLen:      e.series.Len(),
		Candles:        visible,
		Overscroll:     e.view.Overscroll(),
		PriceRange:     e.view.PriceRangeFor(visible),
		ReferencePrice: e.referencePrice,
		FootprintMode:  e.footprintMode,
		MoreData:       e.view.MoreDataAvailable(),
		GeneratedAt:    e.now().UnixMilli(),
	}
	frame.TimeMin, frame.TimeMax = e.view.TimeBounds(visible, e.cfg.Interval)

	if latest, ok := e.series.Latest(); ok {
		frame.LastPrice = latest.Close
		frame.Live = latest.Live
		if prev, ok := e.series.At(e.series.Len() - 2); ok && prev.Close != 0 {
			frame.PriceChangePct = (latest.Close - prev.Close) / prev.Close * 100
		}
	}

	if e.footprintMode {
		fps := make(map[int64]*footprint.Footprint, len(visible))
		for _, c := range visible {
			if fp := e.footprintLocked(c.OpenTime); fp != nil {
				fps[c.OpenTime] = fp
			}
		}
		if len(fps) > 0 {
			frame.Footprints = fps
		}
	}
	return frame
}
