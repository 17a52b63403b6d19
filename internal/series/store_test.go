package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candleflow/internal/market"
)

func candle(openTime int64, close float64) market.Candle {
	return market.Candle{OpenTime: openTime, Open: close, High: close + 1, Low: close - 1, Close: close}
}

func assertOrdered(t *testing.T, s *Store) {
	t.Helper()
	var prev int64 = -1
	for i := 0; i < s.Len(); i++ {
		c, ok := s.At(i)
		require.True(t, ok)
		require.Greater(t, c.OpenTime, prev, "series must be strictly ordered by open time")
		prev = c.OpenTime
	}
}

func TestBulkPrependRejectsNotOlder(t *testing.T) {
	s := NewStore()
	s.Reset([]market.Candle{candle(1000, 100), candle(2000, 101)})

	_, err := s.BulkPrepend([]market.Candle{candle(1000, 99)})
	assert.ErrorIs(t, err, ErrNotOlder)

	_, err = s.BulkPrepend([]market.Candle{candle(500, 98), candle(1500, 99)})
	assert.ErrorIs(t, err, ErrNotOlder)
	assert.Equal(t, 2, s.Len(), "failed prepend must not mutate the series")
}

func TestBulkPrependInsertsAndDedupes(t *testing.T) {
	s := NewStore()
	s.Reset([]market.Candle{candle(3000, 100)})

	n, err := s.BulkPrepend([]market.Candle{candle(2000, 99), candle(1000, 98), candle(2000, 97)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, s.Len())
	assertOrdered(t, s)

	earliest, ok := s.Earliest()
	require.True(t, ok)
	assert.EqualValues(t, 1000, earliest.OpenTime)
}

func TestBulkPrependEmptyStore(t *testing.T) {
	s := NewStore()
	n, err := s.BulkPrepend([]market.Candle{candle(2000, 99), candle(1000, 98)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assertOrdered(t, s)
}

func TestAppendOrReplaceLatest(t *testing.T) {
	s := NewStore()

	res, _ := s.AppendOrReplaceLatest(market.Candle{OpenTime: 1000, Close: 100, Live: true})
	assert.Equal(t, Appended, res)

	// Same open time replaces in place without changing length.
	res, _ = s.AppendOrReplaceLatest(market.Candle{OpenTime: 1000, Close: 105, Live: true})
	assert.Equal(t, Replaced, res)
	assert.Equal(t, 1, s.Len())
	latest, _ := s.Latest()
	assert.Equal(t, 105.0, latest.Close)

	// Strictly newer appends and freezes the previous tail.
	res, prevKey := s.AppendOrReplaceLatest(market.Candle{OpenTime: 2000, Close: 106, Live: true})
	assert.Equal(t, Appended, res)
	assert.EqualValues(t, 1000, prevKey)
	assert.Equal(t, 2, s.Len())
	frozen, _ := s.At(0)
	assert.False(t, frozen.Live, "previous live candle must be frozen on rollover")

	// Older open time is stale and discarded.
	res, _ = s.AppendOrReplaceLatest(market.Candle{OpenTime: 1500, Close: 50})
	assert.Equal(t, Stale, res)
	assert.Equal(t, 2, s.Len())
	latest, _ = s.Latest()
	assert.Equal(t, 106.0, latest.Close)
}

func TestOrderingInvariantUnderMixedMutation(t *testing.T) {
	s := NewStore()
	s.AppendOrReplaceLatest(candle(5000, 100))
	s.AppendOrReplaceLatest(candle(6000, 101))
	_, err := s.BulkPrepend([]market.Candle{candle(3000, 98), candle(4000, 99)})
	require.NoError(t, err)
	s.AppendOrReplaceLatest(candle(6000, 102))
	s.AppendOrReplaceLatest(candle(7000, 103))
	_, err = s.BulkPrepend([]market.Candle{candle(1000, 96), candle(2000, 97)})
	require.NoError(t, err)

	assert.Equal(t, 7, s.Len())
	assertOrdered(t, s)
}

func TestSnapshotWindowClamps(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.SnapshotWindow(0, 10), "empty series yields empty slice")

	s.Reset([]market.Candle{candle(1000, 1), candle(2000, 2), candle(3000, 3)})

	got := s.SnapshotWindow(1, 10)
	require.Len(t, got, 2)
	assert.EqualValues(t, 2000, got[0].OpenTime)

	assert.Empty(t, s.SnapshotWindow(5, 2))
	assert.Empty(t, s.SnapshotWindow(-1, 0))
	assert.Len(t, s.SnapshotWindow(-2, 2), 2)
}

func TestSnapshotWindowIsACopy(t *testing.T) {
	s := NewStore()
	s.Reset([]market.Candle{candle(1000, 1)})
	snap := s.SnapshotWindow(0, 1)
	snap[0].Close = 999
	c, _ := s.At(0)
	assert.Equal(t, 1.0, c.Close)
}

func TestIndexOf(t *testing.T) {
	s := NewStore()
	s.Reset([]market.Candle{candle(1000, 1), candle(2000, 2)})
	assert.Equal(t, 1, s.IndexOf(2000))
	assert.Equal(t, -1, s.IndexOf(1500))
}
