// Package engine owns the single logical timeline for one instrument/interval
// selection: it serializes every mutation of the candle series, trade ledger,
// footprint cache and viewport behind one mutex, reconciles the live feed
// against historical data, and hands read-only frames to the presentation
// layer. Selection switches bump a generation counter; every asynchronous
// completion re-checks it under the lock and discards late results.
package engine

import (
	"context"
	"sync"
	"time"

	"candleflow/internal/footprint"
	"candleflow/internal/ledger"
	"candleflow/internal/market"
	"candleflow/internal/series"
	"candleflow/internal/source"
	"candleflow/internal/viewport"
	"candleflow/logger"
)

// Config fixes the tuning for one engine instance. Symbol and Interval are
// the initial selection; Switch replaces them.
type Config struct {
	Symbol         string
	Interval       market.Interval
	InitialCandles int
	// BackBuffer is how many candles older than the initial window are
	// prepended during Load so the first drag into history needs no fetch.
	// Zero disables the buffer.
	BackBuffer       int
	Viewport         viewport.Options
	Footprint        footprint.Options
	LiveRingCapacity int
	TradeDebounce    time.Duration
	ReferenceRefresh time.Duration
}

func (c Config) normalized() Config {
	if c.InitialCandles <= 0 {
		c.InitialCandles = 250
	}
	if c.BackBuffer < 0 {
		c.BackBuffer = 0
	}
	if c.Viewport == (viewport.Options{}) {
		c.Viewport = viewport.DefaultOptions()
	}
	if c.TradeDebounce <= 0 {
		c.TradeDebounce = 50 * time.Millisecond
	}
	if c.ReferenceRefresh <= 0 {
		c.ReferenceRefresh = 30 * time.Second
	}
	return c
}

// Engine is the per-selection handle. All exported methods are safe for
// concurrent use.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	src source.Source

	series     *series.Store
	ledger     *ledger.Ledger
	view       *viewport.Controller
	footprints map[int64]*footprint.Footprint

	footprintMode bool

	// generation guards async completions against selection switches.
	generation uint64
	selCtx     context.Context
	selCancel  context.CancelFunc

	// debounced live-footprint rebuild
	rebuildPending bool
	debounce       *time.Timer

	tradeInFlight map[int64]bool

	referencePrice float64
	needsRedraw    bool

	now func() time.Time
	log *logger.Entry
}

// New builds an engine for the configured selection. ctx bounds the lifetime
// of all fetches the engine issues; no data is loaded until Load.
func New(ctx context.Context, src source.Source, cfg Config) *Engine {
	cfg = cfg.normalized()
	selCtx, selCancel := context.WithCancel(ctx)
	return &Engine{
		cfg:           cfg,
		src:           src,
		series:        series.NewStore(),
		ledger:        ledger.New(cfg.LiveRingCapacity),
		view:          viewport.NewController(cfg.Viewport),
		footprints:    make(map[int64]*footprint.Footprint),
		tradeInFlight: make(map[int64]bool),
		selCtx:        selCtx,
		selCancel:     selCancel,
		now:           time.Now,
		log:           logger.GetLogger().WithComponent("engine"),
	}
}

// Selection returns the current symbol and interval.
func (e *Engine) Selection() (string, market.Interval) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Symbol, e.cfg.Interval
}

// Load fetches the initial candle history and reference price for the current
// selection, resets the series and snaps the viewport to the tail. The source
// is expected to degrade internally, so an error here means cancellation or a
// selection switch mid-load.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	gen := e.generation
	symbol, interval, limit, backBuffer := e.cfg.Symbol, e.cfg.Interval, e.cfg.InitialCandles, e.cfg.BackBuffer
	e.mu.Unlock()

	started := e.now()
	endTime := started.UnixMilli()
	candles, err := e.src.FetchCandles(ctx, symbol, interval, limit, 0, endTime)
	if err != nil {
		return err
	}
	if backBuffer > 0 && len(candles) > 0 {
		// Extra history behind the initial window; the first drag into the
		// past pans over it instead of waiting on a backfill.
		older, bufErr := e.src.FetchCandles(ctx, symbol, interval, backBuffer, 0, candles[0].OpenTime-1)
		if bufErr != nil {
			e.log.WithError(bufErr).Warn("back buffer fetch failed, starting without drag-back history")
		} else {
			candles = append(older, candles...)
		}
	}
	price, priceErr := e.src.FetchReferencePrice(ctx, symbol)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return nil
	}
	if len(candles) > 0 {
		// The newest candle is the open period until the stream says otherwise.
		candles[len(candles)-1].Live = true
	}
	e.series.Reset(candles)
	e.view.Fit(e.series.Len())
	if priceErr == nil {
		e.referencePrice = price
	}
	e.needsRedraw = true
	e.log.WithFields(logger.Fields{
		"symbol":   symbol,
		"interval": interval,
		"candles":  e.series.Len(),
	}).Info("selection loaded")
	logger.LogPerformanceEntry(e.log, "engine", "initial_load", e.now().Sub(started), logger.Fields{
		"symbol": symbol,
	})
	return nil
}

// Switch cancels everything tied to the old selection, resets all stores and
// loads the new one. Late completions from the old selection are discarded by
// the generation check.
func (e *Engine) Switch(ctx context.Context, symbol string, interval market.Interval) error {
	e.mu.Lock()
	e.generation++
	e.selCancel()
	e.selCtx, e.selCancel = context.WithCancel(ctx)
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.rebuildPending = false
	e.cfg.Symbol = symbol
	e.cfg.Interval = interval
	e.series.Reset(nil)
	e.ledger.Reset()
	e.footprints = make(map[int64]*footprint.Footprint)
	e.tradeInFlight = make(map[int64]bool)
	e.view = viewport.NewController(e.cfg.Viewport)
	e.mu.Unlock()

	return e.Load(ctx)
}

// Close cancels outstanding fetches and stops the debounce timer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.selCancel()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

// Run consumes the streaming feed and keeps the reference price fresh until
// ctx is done.
func (e *Engine) Run(ctx context.Context, candles <-chan market.CandleUpdate, trades <-chan market.TradeEvent) {
	ticker := time.NewTicker(e.cfg.ReferenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-candles:
			e.ApplyCandleUpdate(u)
		case t := <-trades:
			e.ApplyTrade(t)
		case <-ticker.C:
			e.refreshReferencePrice(ctx)
		}
	}
}

// ApplyCandleUpdate reconciles a streaming kline event. An open time equal to
// the stored latest is an in-period tick; strictly newer is a rollover that
// freezes the previous period's live trades under the old key; older is stale
// and discarded with a debug log.
func (e *Engine) ApplyCandleUpdate(u market.CandleUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, prevKey := e.series.AppendOrReplaceLatest(u.Candle())
	switch result {
	case series.Stale:
		e.log.WithFields(logger.Fields{"open_time": u.OpenTime}).Debug("discarding stale candle update")
		return
	case series.Replaced:
		// Footprint refresh for the open period rides the trade debounce.
	case series.Appended:
		if prevKey != 0 && e.cfg.Interval.SupportsTrades() {
			if n := e.ledger.FreezeLive(prevKey); n > 0 {
				delete(e.footprints, prevKey)
			}
			if e.footprintMode {
				// The ring only sampled the period; replace it with the
				// full trade history once the period is closed.
				e.scheduleTradeFetchLocked(prevKey, true)
			}
		}
		e.view.FollowLatest(e.series.Len())
	}
	e.needsRedraw = true
}

// ApplyTrade appends a streaming trade to the live ring and schedules a
// single debounced footprint rebuild for the open period.
func (e *Engine) ApplyTrade(ev market.TradeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Interval.SupportsTrades() {
		return
	}
	e.ledger.AppendLive(ev.Trade())

	if e.footprintMode && !e.rebuildPending {
		e.rebuildPending = true
		gen := e.generation
		e.debounce = time.AfterFunc(e.cfg.TradeDebounce, func() {
			e.flushLiveTrades(gen)
		})
	}
}

// flushLiveTrades copies the live ring under the open candle's key and
// rebuilds its footprint. Runs off the debounce timer.
func (e *Engine) flushLiveTrades(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	e.rebuildPending = false
	latest, ok := e.series.Latest()
	if !ok || e.ledger.LiveLen() == 0 {
		return
	}
	e.ledger.SyncLive(latest.OpenTime)
	delete(e.footprints, latest.OpenTime)
	e.footprintLocked(latest.OpenTime)
	e.needsRedraw = true
}

// SetFootprintMode toggles footprint rendering. Enabling it kicks off trade
// fetches for the visible window.
func (e *Engine) SetFootprintMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.footprintMode == on {
		return
	}
	e.footprintMode = on
	if on {
		e.ensureVisibleTradesLocked()
	}
	e.needsRedraw = true
}

// FootprintMode reports whether footprint rendering is active.
func (e *Engine) FootprintMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.footprintMode
}

// Footprint returns the (possibly cached) footprint for a candle key, nil
// when the candle is unknown or its trade set is degenerate.
func (e *Engine) Footprint(key int64) *footprint.Footprint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.footprintLocked(key)
}

func (e *Engine) footprintLocked(key int64) *footprint.Footprint {
	if fp, ok := e.footprints[key]; ok {
		return fp
	}
	idx := e.series.IndexOf(key)
	if idx < 0 {
		return nil
	}
	candle, _ := e.series.At(idx)
	fp := footprint.Build(candle, e.ledger.Trades(key), e.cfg.Footprint)
	if fp == nil {
		delete(e.footprints, key)
		return nil
	}
	e.footprints[key] = fp
	return fp
}

// PanBy shifts the viewport; a pan into the backfill threshold dispatches an
// asynchronous fetch of older candles.
func (e *Engine) PanBy(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req := e.view.PanBy(delta, e.series.Len())
	e.needsRedraw = true
	if req != nil {
		earliest, ok := e.series.Earliest()
		if !ok {
			e.view.AbortBackfill()
		} else {
			gen := e.generation
			go e.backfill(gen, req, earliest.OpenTime-1)
		}
	}
	e.ensureVisibleTradesLocked()
}

func (e *Engine) backfill(gen uint64, req *viewport.BackfillRequest, endTime int64) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	ctx := e.selCtx
	symbol, interval := e.cfg.Symbol, e.cfg.Interval
	e.mu.Unlock()

	candles, fetchErr := e.src.FetchCandles(ctx, symbol, interval, req.Limit, 0, endTime)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	if fetchErr != nil {
		e.log.WithError(fetchErr).WithFields(logger.Fields{"request_id": req.ID}).Warn("backfill fetch failed")
		e.view.AbortBackfill()
		return
	}
	n, err := e.series.BulkPrepend(candles)
	if err != nil {
		e.log.WithError(err).WithFields(logger.Fields{"request_id": req.ID}).Warn("discarding overlapping backfill")
		e.view.AbortBackfill()
		return
	}
	e.view.CompleteBackfill(n, e.series.Len())
	e.ensureVisibleTradesLocked()
	e.needsRedraw = true
}

// Zoom scales the visible count around the anchor.
func (e *Engine) Zoom(factor, anchorRatio float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.AdjustCount(factor, anchorRatio, e.series.Len())
	e.ensureVisibleTradesLocked()
	e.needsRedraw = true
}

// Fit restores the default window at the series tail and clears any custom
// price range.
func (e *Engine) Fit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.Fit(e.series.Len())
	e.ensureVisibleTradesLocked()
	e.needsRedraw = true
}

// SetMode switches the viewport interaction mode.
func (e *Engine) SetMode(m viewport.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.SetMode(m)
}

// ScalePriceRange zooms the vertical axis symmetrically about its midpoint.
func (e *Engine) ScalePriceRange(delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.ScalePriceRange(delta, e.visibleLocked())
	e.needsRedraw = true
}

// ShiftPriceRange pans the vertical axis by a pixel delta.
func (e *Engine) ShiftPriceRange(deltaPixels, chartHeight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.ShiftPriceRange(deltaPixels, chartHeight, e.visibleLocked())
	e.needsRedraw = true
}

// ClearCustomRange returns the vertical axis to autoscale.
func (e *Engine) ClearCustomRange() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view.ClearCustomRange()
	e.needsRedraw = true
}

// NeedsRedraw reports and consumes the pending-redraw flag. The presentation
// layer polls this on its own ticker.
func (e *Engine) NeedsRedraw() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	dirty := e.needsRedraw
	e.needsRedraw = false
	return dirty
}

func (e *Engine) visibleLocked() []market.Candle {
	start, count := e.view.Window()
	return e.series.SnapshotWindow(start, count)
}

// ensureVisibleTradesLocked dispatches sequential trade fetches for visible
// closed candles that have no ledger entry yet. The in-flight set keyed by
// open time prevents duplicate fetches while one is outstanding.
func (e *Engine) ensureVisibleTradesLocked() {
	if !e.footprintMode || !e.cfg.Interval.SupportsTrades() {
		return
	}
	var keys []int64
	for _, c := range e.visibleLocked() {
		if c.Live || e.ledger.Has(c.OpenTime) || e.tradeInFlight[c.OpenTime] {
			continue
		}
		e.tradeInFlight[c.OpenTime] = true
		keys = append(keys, c.OpenTime)
	}
	if len(keys) == 0 {
		return
	}
	gen := e.generation
	go func() {
		for _, key := range keys {
			e.fetchTrades(gen, key)
		}
	}()
}

// scheduleTradeFetchLocked queues a single-candle trade fetch, used at
// rollover for the just-closed period. force skips the footprint-mode gate so
// the ring-sampled set is upgraded even when the ledger already has one.
func (e *Engine) scheduleTradeFetchLocked(key int64, force bool) {
	if !force && !e.footprintMode {
		return
	}
	if e.tradeInFlight[key] {
		return
	}
	e.tradeInFlight[key] = true
	gen := e.generation
	go e.fetchTrades(gen, key)
}

// fetchTrades loads one candle's trade history, degrading to mock trades
// built from the candle itself when the source cannot serve them.
func (e *Engine) fetchTrades(gen uint64, key int64) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	ctx := e.selCtx
	symbol, interval := e.cfg.Symbol, e.cfg.Interval
	e.mu.Unlock()

	trades, err := e.src.FetchTrades(ctx, symbol, key, key+interval.Millis())

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	delete(e.tradeInFlight, key)

	idx := e.series.IndexOf(key)
	if idx < 0 {
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		candle, _ := e.series.At(idx)
		e.log.WithError(err).WithFields(logger.Fields{
			"symbol":    symbol,
			"open_time": key,
		}).Warn("trade fetch failed, mocking from candle")
		trades = source.MockTrades(candle, interval)
	}
	e.ledger.Put(key, trades)
	delete(e.footprints, key)
	if e.footprintMode {
		e.footprintLocked(key)
	}
	e.needsRedraw = true
}

func (e *Engine) refreshReferencePrice(ctx context.Context) {
	e.mu.Lock()
	gen := e.generation
	symbol := e.cfg.Symbol
	e.mu.Unlock()

	price, err := e.src.FetchReferencePrice(ctx, symbol)
	if err != nil {
		e.log.WithError(err).Debug("reference price refresh failed")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || price == e.referencePrice {
		return
	}
	e.referencePrice = price
	e.needsRedraw = true
}
