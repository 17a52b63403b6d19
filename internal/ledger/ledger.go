// Package ledger stores per-candle trade collections: a permanent map keyed
// by candle open time for closed periods, and a bounded ring of live trades
// for the currently open period. Like the series store it relies on the
// engine's selection lock for serialization.
package ledger

import (
	"context"
	"fmt"

	"candleflow/internal/market"
)

// FetchFunc loads the trade set for one candle from the external source.
type FetchFunc func(ctx context.Context) ([]market.Trade, error)

// Ledger holds trades grouped under the open time of the candle whose period
// contains them.
type Ledger struct {
	trades map[int64][]market.Trade
	live   *ring
}

// New returns a ledger whose live ring holds at most liveCapacity trades.
func New(liveCapacity int) *Ledger {
	return &Ledger{
		trades: make(map[int64][]market.Trade),
		live:   newRing(liveCapacity),
	}
}

// Has reports whether trades are stored under the given candle key.
func (l *Ledger) Has(key int64) bool {
	_, ok := l.trades[key]
	return ok
}

// Trades returns the stored trade set for a candle key, nil if absent.
func (l *Ledger) Trades(key int64) []market.Trade {
	return l.trades[key]
}

// Put stores (or wholesale replaces) the trade set for a candle key.
func (l *Ledger) Put(key int64, trades []market.Trade) {
	l.trades[key] = trades
}

// EnsureTrades populates the trade set for a candle key, invoking fetch only
// when the key is absent. It does not deduplicate concurrent in-flight
// fetches for the same key; callers serialize (the engine tracks an
// in-flight set keyed by candle open time).
func (l *Ledger) EnsureTrades(ctx context.Context, key int64, fetch FetchFunc) error {
	if l.Has(key) {
		return nil
	}
	trades, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("ledger: fetching trades for candle %d: %w", key, err)
	}
	l.trades[key] = trades
	return nil
}

// AppendLive adds a trade to the current open period's ring. When the ring
// is full the oldest trade is dropped.
func (l *Ledger) AppendLive(t market.Trade) {
	l.live.append(t)
}

// LiveLen returns the number of trades currently buffered for the open period.
func (l *Ledger) LiveLen() int {
	return l.live.len()
}

// SyncLive copies the live ring's current contents under key without
// clearing the ring. This is the debounced rebuild path: the open candle's
// footprint is computed from a point-in-time copy while trades keep arriving.
func (l *Ledger) SyncLive(key int64) {
	l.trades[key] = l.live.snapshot()
}

// FreezeLive moves the live ring's contents into permanent storage under key
// and clears the ring. Called exactly once per period rollover. Returns the
// number of trades frozen.
func (l *Ledger) FreezeLive(key int64) int {
	trades := l.live.snapshot()
	l.live.clear()
	if len(trades) == 0 {
		return 0
	}
	l.trades[key] = trades
	return len(trades)
}

// ClearLive drops the live ring contents, used when a stream reconnects and
// replays from an unknown position.
func (l *Ledger) ClearLive() {
	l.live.clear()
}

// Reset drops everything, used on instrument/interval switch.
func (l *Ledger) Reset() {
	l.trades = make(map[int64][]market.Trade)
	l.live.clear()
}

// ring is a fixed-capacity circular trade buffer; no resizing.
type ring struct {
	data     []market.Trade
	capacity int
	index    int
	size     int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ring{
		data:     make([]market.Trade, capacity),
		capacity: capacity,
	}
}

func (r *ring) append(t market.Trade) {
	r.data[r.index] = t
	r.index = (r.index + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

func (r *ring) len() int {
	return r.size
}

// snapshot returns the buffered trades oldest-first.
func (r *ring) snapshot() []market.Trade {
	if r.size == 0 {
		return nil
	}
	out := make([]market.Trade, r.size)
	start := 0
	if r.size == r.capacity {
		start = r.index
	}
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(start+i)%r.capacity]
	}
	return out
}

func (r *ring) clear() {
	r.index = 0
	r.size = 0
}
