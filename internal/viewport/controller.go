// Package viewport maps a logical window (start index, count) plus bounded
// overscroll onto the candle series, and converts pan/zoom/fit intents into
// new window parameters. Pointer-to-intent translation is the presentation
// layer's job; the controller only sees discrete intents.
package viewport

import (
	"math"

	"github.com/google/uuid"

	"candleflow/internal/market"
)

// Mode is the current interaction mode. Modes are mutually exclusive.
type Mode int

const (
	ModeIdle Mode = iota
	ModePanning
	ModeScaling
)

func (m Mode) String() string {
	switch m {
	case ModePanning:
		return "panning"
	case ModeScaling:
		return "scaling"
	}
	return "idle"
}

// Overscroll records rubber-band travel past the data's edges, in candles.
// Both values stay within [0, max_overscroll] and reset to zero whenever a
// window move lands strictly inside bounds.
type Overscroll struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// PriceRange is an explicit vertical range overriding autoscale.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// BackfillRequest asks the data source for older candles. ID keys the
// in-flight set; Limit is the chunk size. The engine resolves the actual
// time bounds from the series' earliest candle.
type BackfillRequest struct {
	ID    string
	Limit int
}

// Options configures window clamps and backfill behavior.
type Options struct {
	MinVisible        int
	MaxVisible        int
	DefaultVisible    int
	MaxOverscroll     int
	BaseLeftPad       int
	BaseRightPad      int
	PricePadFraction  float64
	BackfillChunk     int
	BackfillThreshold int
}

// DefaultOptions mirror the original chart's tuning.
func DefaultOptions() Options {
	return Options{
		MinVisible:        10,
		MaxVisible:        500,
		DefaultVisible:    100,
		MaxOverscroll:     80,
		BaseLeftPad:       1,
		BaseRightPad:      4,
		PricePadFraction:  0.1,
		BackfillChunk:     50,
		BackfillThreshold: 5,
	}
}

func (o Options) normalized() Options {
	if o.MinVisible <= 0 {
		o.MinVisible = 10
	}
	if o.MaxVisible < o.MinVisible {
		o.MaxVisible = o.MinVisible
	}
	if o.DefaultVisible < o.MinVisible {
		o.DefaultVisible = o.MinVisible
	}
	if o.DefaultVisible > o.MaxVisible {
		o.DefaultVisible = o.MaxVisible
	}
	if o.MaxOverscroll < 0 {
		o.MaxOverscroll = 0
	}
	if o.PricePadFraction < 0 {
		o.PricePadFraction = 0
	}
	if o.BackfillChunk <= 0 {
		o.BackfillChunk = 50
	}
	if o.BackfillThreshold < 0 {
		o.BackfillThreshold = 0
	}
	return o
}

// Controller owns the transient view state for one selection. Not safe for
// concurrent use; callers hold the engine's selection lock.
type Controller struct {
	opts Options

	start int
	count int
	over  Overscroll
	mode  Mode

	customRange *PriceRange

	moreData         bool
	backfillInFlight bool
}

// NewController starts at the series tail with the default visible count.
func NewController(opts Options) *Controller {
	opts = opts.normalized()
	return &Controller{
		opts:     opts,
		count:    opts.DefaultVisible,
		moreData: true,
	}
}

// Window returns the clamped (start, count) pair.
func (c *Controller) Window() (start, count int) {
	return c.start, c.count
}

// Overscroll returns the current rubber-band state.
func (c *Controller) Overscroll() Overscroll {
	return c.over
}

// Mode returns the current interaction mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// SetMode switches interaction mode.
func (c *Controller) SetMode(m Mode) {
	c.mode = m
}

// MoreDataAvailable reports whether older history may still exist upstream.
func (c *Controller) MoreDataAvailable() bool {
	return c.moreData
}

// SetMoreData flips the more-history flag, typically after a short backfill
// response signals the beginning of available data.
func (c *Controller) SetMoreData(v bool) {
	c.moreData = v
}

// BackfillInFlight reports whether a backfill request is outstanding.
func (c *Controller) BackfillInFlight() bool {
	return c.backfillInFlight
}

func (c *Controller) maxStart(seriesLen int) int {
	m := seriesLen - c.count
	if m < 0 {
		return 0
	}
	return m
}

// ResolveWindow clamps desiredStart into [0, maxStart] and records any
// excess as bounded overscroll. Landing strictly inside bounds resets both
// overscroll values. Idempotent for a fixed desiredStart.
func (c *Controller) ResolveWindow(desiredStart, seriesLen int) {
	c.resolveWindow(desiredStart, seriesLen, false)
}

func (c *Controller) resolveWindow(desiredStart, seriesLen int, preserveOverscroll bool) {
	maxStart := c.maxStart(seriesLen)
	switch {
	case desiredStart < 0:
		c.start = 0
		c.over.Left = min(c.opts.MaxOverscroll, -desiredStart)
		c.over.Right = 0
	case desiredStart > maxStart:
		c.start = maxStart
		c.over.Right = min(c.opts.MaxOverscroll, desiredStart-maxStart)
		c.over.Left = 0
	default:
		c.start = desiredStart
		if !preserveOverscroll {
			c.over = Overscroll{}
		}
	}
}

// PanBy shifts the window by delta candles. When panning toward the past
// lands within the backfill threshold of index zero with no left overscroll
// remaining, more data is flagged available and no backfill is in flight, a
// fire-and-forget BackfillRequest is returned for the engine to dispatch.
func (c *Controller) PanBy(delta, seriesLen int) *BackfillRequest {
	if delta == 0 {
		return nil
	}
	c.ResolveWindow(c.start+delta, seriesLen)

	if delta < 0 &&
		c.start <= c.opts.BackfillThreshold &&
		c.over.Left == 0 &&
		c.moreData &&
		!c.backfillInFlight {
		c.backfillInFlight = true
		return &BackfillRequest{ID: uuid.NewString(), Limit: c.opts.BackfillChunk}
	}
	return nil
}

// CompleteBackfill lands a backfill result: start shifts forward by the
// number of prepended candles so the visually displayed slice is unchanged,
// and the in-flight flag clears. A short chunk marks the history exhausted.
func (c *Controller) CompleteBackfill(prepended, seriesLen int) {
	c.backfillInFlight = false
	if prepended <= 0 {
		c.moreData = false
		return
	}
	c.resolveWindow(c.start+prepended, seriesLen, true)
	if prepended < c.opts.BackfillChunk {
		c.moreData = false
	}
}

// AbortBackfill clears the in-flight flag after a failed or discarded fetch.
func (c *Controller) AbortBackfill() {
	c.backfillInFlight = false
}

// AdjustCount zooms by factor around anchorRatio (0 = left edge, 1 = right
// edge): the candle under the anchor stays visually stationary. Count is
// clamped to [MinVisible, MaxVisible].
func (c *Controller) AdjustCount(factor, anchorRatio float64, seriesLen int) {
	if factor <= 0 {
		return
	}
	newCount := int(math.Round(float64(c.count) * factor))
	newCount = clampInt(newCount, c.opts.MinVisible, c.opts.MaxVisible)
	countDiff := newCount - c.count
	newStart := c.start - int(math.Round(float64(countDiff)*anchorRatio))
	c.count = newCount
	c.ResolveWindow(newStart, seriesLen)
}

// SetCount resizes the window without an anchor, preserving overscroll only
// when mid scale-drag (preserve=true avoids rubber-band flicker).
func (c *Controller) SetCount(count, seriesLen int, preserveOverscroll bool) {
	c.count = clampInt(count, c.opts.MinVisible, c.opts.MaxVisible)
	c.resolveWindow(c.start, seriesLen, preserveOverscroll)
}

// Fit restores the default visible count, snaps to the series tail and
// clears any custom price range.
func (c *Controller) Fit(seriesLen int) {
	c.count = c.opts.DefaultVisible
	c.customRange = nil
	c.ResolveWindow(c.maxStart(seriesLen), seriesLen)
}

// SnapToLatest anchors the window at the series tail.
func (c *Controller) SnapToLatest(seriesLen int) {
	c.ResolveWindow(c.maxStart(seriesLen), seriesLen)
}

// ShowingLatest reports whether the window currently covers the series tail.
func (c *Controller) ShowingLatest(seriesLen int) bool {
	return c.start+c.count >= seriesLen
}

// FollowLatest re-anchors at the tail after an append, but only when the
// window was already showing the latest data; a user scrolled back in
// history is left alone.
func (c *Controller) FollowLatest(seriesLen int) {
	if c.ShowingLatest(seriesLen - 1) {
		c.start = c.maxStart(seriesLen)
	}
}

// CustomRange returns the explicit vertical range, nil when autoscaling.
func (c *Controller) CustomRange() *PriceRange {
	if c.customRange == nil {
		return nil
	}
	r := *c.customRange
	return &r
}

// SetCustomRange overrides autoscale.
func (c *Controller) SetCustomRange(min, max float64) {
	c.customRange = &PriceRange{Min: min, Max: max}
}

// ClearCustomRange returns the vertical axis to autoscale.
func (c *Controller) ClearCustomRange() {
	c.customRange = nil
}

// PriceRangeFor resolves the vertical range for the given visible slice:
// the custom range when set, otherwise [min(lows)-pad, max(highs)+pad] with
// pad = (max-min) * PricePadFraction.
func (c *Controller) PriceRangeFor(visible []market.Candle) PriceRange {
	if c.customRange != nil {
		return *c.customRange
	}
	return c.autoRange(visible)
}

func (c *Controller) autoRange(visible []market.Candle) PriceRange {
	if len(visible) == 0 {
		return PriceRange{}
	}
	lo := visible[0].Low
	hi := visible[0].High
	for _, cd := range visible[1:] {
		if cd.Low < lo {
			lo = cd.Low
		}
		if cd.High > hi {
			hi = cd.High
		}
	}
	pad := (hi - lo) * c.opts.PricePadFraction
	return PriceRange{Min: lo - pad, Max: hi + pad}
}

// ScalePriceRange adjusts both bounds of the vertical range symmetrically
// about their midpoint, initializing the custom range from the visible data
// on first use. Positive delta compresses the range (zooms in).
func (c *Controller) ScalePriceRange(delta float64, visible []market.Candle) {
	if c.customRange == nil {
		r := c.autoRange(visible)
		if r.Max <= r.Min {
			return
		}
		c.customRange = &r
	}
	center := (c.customRange.Min + c.customRange.Max) / 2
	newRange := (c.customRange.Max - c.customRange.Min) * (1 - delta)
	c.customRange.Min = center - newRange/2
	c.customRange.Max = center + newRange/2
}

// ShiftPriceRange pans the vertical range by deltaPixels using the
// pixel-to-price conversion for the current chart height.
func (c *Controller) ShiftPriceRange(deltaPixels, chartHeight float64, visible []market.Candle) {
	if chartHeight <= 0 || len(visible) == 0 {
		return
	}
	if c.customRange == nil {
		r := c.autoRange(visible)
		c.customRange = &r
	}
	currentRange := c.customRange.Max - c.customRange.Min
	if currentRange <= 0 {
		return
	}
	shift := deltaPixels * (currentRange / chartHeight)
	c.customRange.Min += shift
	c.customRange.Max += shift
}

// TimeBounds returns the x-axis bounds for the visible slice: first/last
// open time padded by (base pad + overscroll) interval widths per side.
func (c *Controller) TimeBounds(visible []market.Candle, interval market.Interval) (minTime, maxTime int64) {
	if len(visible) == 0 {
		return 0, 0
	}
	intervalMs := interval.Millis()
	leftPad := int64(c.opts.BaseLeftPad + c.over.Left)
	rightPad := int64(c.opts.BaseRightPad + c.over.Right)
	return visible[0].OpenTime - intervalMs*leftPad,
		visible[len(visible)-1].OpenTime + intervalMs*rightPad
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
