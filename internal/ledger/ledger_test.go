package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candleflow/internal/market"
)

func trade(id int64) market.Trade {
	return market.Trade{AggregateID: id, Price: 100, Quantity: 1, Time: id}
}

func TestEnsureTradesIdempotent(t *testing.T) {
	l := New(10)
	calls := 0
	fetch := func(ctx context.Context) ([]market.Trade, error) {
		calls++
		return []market.Trade{trade(1), trade(2)}, nil
	}

	require.NoError(t, l.EnsureTrades(context.Background(), 1000, fetch))
	require.NoError(t, l.EnsureTrades(context.Background(), 1000, fetch))
	assert.Equal(t, 1, calls, "fetch must not run when trades are present")
	assert.Len(t, l.Trades(1000), 2)
}

func TestEnsureTradesPropagatesFetchError(t *testing.T) {
	l := New(10)
	fetchErr := errors.New("boom")
	err := l.EnsureTrades(context.Background(), 1000, func(ctx context.Context) ([]market.Trade, error) {
		return nil, fetchErr
	})
	assert.ErrorIs(t, err, fetchErr)
	assert.False(t, l.Has(1000))
}

func TestLiveRingDropsOldestOnOverflow(t *testing.T) {
	l := New(3)
	for i := int64(1); i <= 5; i++ {
		l.AppendLive(trade(i))
	}
	assert.Equal(t, 3, l.LiveLen())

	l.SyncLive(2000)
	got := l.Trades(2000)
	require.Len(t, got, 3)
	assert.EqualValues(t, 3, got[0].AggregateID, "oldest trades beyond capacity are dropped")
	assert.EqualValues(t, 5, got[2].AggregateID)
	assert.Equal(t, 3, l.LiveLen(), "sync must not clear the ring")
}

func TestFreezeLiveMovesAndClears(t *testing.T) {
	l := New(10)
	l.AppendLive(trade(1))
	l.AppendLive(trade(2))

	n := l.FreezeLive(1000)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, l.LiveLen())
	assert.Len(t, l.Trades(1000), 2)

	// Freezing an empty ring stores nothing.
	assert.Zero(t, l.FreezeLive(2000))
	assert.False(t, l.Has(2000))
}

func TestReset(t *testing.T) {
	l := New(10)
	l.Put(1000, []market.Trade{trade(1)})
	l.AppendLive(trade(2))
	l.Reset()
	assert.False(t, l.Has(1000))
	assert.Zero(t, l.LiveLen())
}
