// Package series owns the ordered, time-indexed candle buffer for one
// instrument/interval selection. Candles are kept in strictly ascending
// open-time order with at most one candle per open time. Historical backfill
// prepends, live updates replace or append at the tail.
package series

import (
	"errors"
	"sort"

	"candleflow/internal/market"
)

// ErrNotOlder is returned by BulkPrepend when the supplied batch overlaps or
// postdates data already in the store.
var ErrNotOlder = errors.New("series: prepended candles are not older than existing data")

// ApplyResult describes what AppendOrReplaceLatest did with an update.
type ApplyResult int

const (
	// Stale means the update referenced an already-superseded period and
	// was discarded.
	Stale ApplyResult = iota
	// Replaced means the live tail candle was updated in place.
	Replaced
	// Appended means a new period was added to the tail.
	Appended
)

func (r ApplyResult) String() string {
	switch r {
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	}
	return "stale"
}

// Store is the candle series buffer. It is not safe for concurrent use; the
// engine serializes all access behind its selection lock.
type Store struct {
	candles []market.Candle
}

// NewStore returns an empty series.
func NewStore() *Store {
	return &Store{}
}

// Len returns the number of candles held.
func (s *Store) Len() int {
	return len(s.candles)
}

// Earliest returns the oldest candle, if any.
func (s *Store) Earliest() (market.Candle, bool) {
	if len(s.candles) == 0 {
		return market.Candle{}, false
	}
	return s.candles[0], true
}

// Latest returns the newest candle, if any.
func (s *Store) Latest() (market.Candle, bool) {
	if len(s.candles) == 0 {
		return market.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// At returns the candle at index i.
func (s *Store) At(i int) (market.Candle, bool) {
	if i < 0 || i >= len(s.candles) {
		return market.Candle{}, false
	}
	return s.candles[i], true
}

// Reset replaces the whole series, used on instrument/interval switch. The
// input is sorted by open time and de-duplicated (first occurrence wins).
func (s *Store) Reset(candles []market.Candle) {
	s.candles = dedupeSorted(candles)
}

// BulkPrepend inserts older candles before the current earliest. Every
// supplied candle must predate the stored earliest open time, otherwise
// nothing is inserted and ErrNotOlder is returned. Duplicate open times
// within the batch are collapsed. Returns the number of candles inserted.
func (s *Store) BulkPrepend(candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	batch := dedupeSorted(candles)
	if earliest, ok := s.Earliest(); ok {
		last := batch[len(batch)-1]
		if last.OpenTime >= earliest.OpenTime {
			return 0, ErrNotOlder
		}
	}
	merged := make([]market.Candle, 0, len(batch)+len(s.candles))
	merged = append(merged, batch...)
	merged = append(merged, s.candles...)
	s.candles = merged
	return len(batch), nil
}

// AppendOrReplaceLatest applies a live candle update. An open time equal to
// the stored latest replaces it in place; strictly greater appends a new
// period and freezes the previous tail (its liveness flag is cleared and its
// open time returned so the caller can move live trades into the permanent
// ledger); anything older is stale and discarded. prevKey is only meaningful
// when the result is Appended and the store was non-empty.
func (s *Store) AppendOrReplaceLatest(c market.Candle) (result ApplyResult, prevKey int64) {
	if len(s.candles) == 0 {
		s.candles = append(s.candles, c)
		return Appended, 0
	}
	last := &s.candles[len(s.candles)-1]
	switch {
	case c.OpenTime == last.OpenTime:
		*last = c
		return Replaced, 0
	case c.OpenTime > last.OpenTime:
		prevKey = last.OpenTime
		if last.Live {
			last.Live = false
		}
		s.candles = append(s.candles, c)
		return Appended, prevKey
	default:
		return Stale, 0
	}
}

// SnapshotWindow returns a copy of the contiguous slice [start, start+count).
// Both bounds are clamped to the available range; an empty series yields an
// empty slice, never an error.
func (s *Store) SnapshotWindow(start, count int) []market.Candle {
	if start < 0 {
		start = 0
	}
	if count < 0 {
		count = 0
	}
	if start > len(s.candles) {
		start = len(s.candles)
	}
	end := start + count
	if end > len(s.candles) {
		end = len(s.candles)
	}
	out := make([]market.Candle, end-start)
	copy(out, s.candles[start:end])
	return out
}

// IndexOf returns the index of the candle with the given open time, or -1.
func (s *Store) IndexOf(openTime int64) int {
	i := sort.Search(len(s.candles), func(i int) bool {
		return s.candles[i].OpenTime >= openTime
	})
	if i < len(s.candles) && s.candles[i].OpenTime == openTime {
		return i
	}
	return -1
}

func dedupeSorted(candles []market.Candle) []market.Candle {
	if len(candles) == 0 {
		return nil
	}
	sorted := make([]market.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OpenTime < sorted[j].OpenTime
	})
	out := sorted[:1]
	for _, c := range sorted[1:] {
		if c.OpenTime == out[len(out)-1].OpenTime {
			continue
		}
		out = append(out, c)
	}
	return out
}
