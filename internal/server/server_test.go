package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candleflow/internal/engine"
	"candleflow/internal/market"
)

type staticSource struct {
	candles []market.Candle
}

func (s staticSource) FetchCandles(context.Context, string, market.Interval, int, int64, int64) ([]market.Candle, error) {
	return append([]market.Candle(nil), s.candles...), nil
}
func (s staticSource) FetchTrades(context.Context, string, int64, int64) ([]market.Trade, error) {
	return nil, nil
}
func (s staticSource) FetchReferencePrice(context.Context, string) (float64, error) {
	return 100, nil
}

func startTestServer(t *testing.T) (*Server, *httptest.Server, *engine.Engine) {
	t.Helper()
	candles := make([]market.Candle, 0, 150)
	for i := 0; i < 150; i++ {
		candles = append(candles, market.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     100, High: 102, Low: 98, Close: 101, Volume: 5,
		})
	}
	eng := engine.New(context.Background(), staticSource{candles: candles}, engine.Config{
		Symbol:         "BTCUSDT",
		Interval:       market.Interval1m,
		InitialCandles: 150,
	})
	require.NoError(t, eng.Load(context.Background()))
	t.Cleanup(eng.Close)

	srv := New(eng, Options{FrameInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.run(ctx)
	go srv.pollFrames(ctx)

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return srv, ts, eng
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) engine.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame engine.Frame
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func TestClientReceivesFrameAfterMutation(t *testing.T) {
	_, ts, eng := startTestServer(t)
	conn := dial(t, ts)

	// Load left the redraw flag set; the poller broadcasts soon after.
	frame := readFrame(t, conn)
	assert.Equal(t, "BTCUSDT", frame.Symbol)
	assert.Equal(t, 150, frame.SeriesLen)
	assert.Len(t, frame.Candles, 100)

	eng.PanBy(-10)
	deadline := time.Now().Add(2 * time.Second)
	for frame.Start != 40 {
		require.True(t, time.Now().Before(deadline), "pan never reflected in a frame")
		frame = readFrame(t, conn)
	}
}

func TestIntentRoundTrip(t *testing.T) {
	_, ts, _ := startTestServer(t)
	conn := dial(t, ts)
	readFrame(t, conn) // initial frame

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":      "zoom",
		"factor":      0.5,
		"anchorRatio": 1.0,
	}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		frame := readFrame(t, conn)
		if frame.Count == 50 {
			break
		}
		require.True(t, time.Now().Before(deadline), "zoom intent never reflected in a frame")
	}
}

func TestLateClientGetsLatestFrame(t *testing.T) {
	_, ts, eng := startTestServer(t)

	first := dial(t, ts)
	readFrame(t, first)

	eng.Fit()
	readFrame(t, first)

	// A client connecting after the broadcasts still gets a frame replay.
	second := dial(t, ts)
	frame := readFrame(t, second)
	assert.Equal(t, 150, frame.SeriesLen)
}

func TestDetachAfterHubShutdown(t *testing.T) {
	hub := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.run(ctx)

	c := &Client{hub: hub, send: make(chan []byte, 1)}
	require.True(t, hub.attach(c))
	cancel()
	<-hub.done

	// A read pump ending after shutdown must not block on the hub.
	finished := make(chan struct{})
	go func() {
		hub.detach(c)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("detach blocked after hub shutdown")
	}

	assert.False(t, hub.attach(c), "attach reports shutdown")
}

func TestUnknownIntentIgnored(t *testing.T) {
	srv, _, eng := startTestServer(t)
	before := eng.FrameState()
	srv.applyIntent(intent{Action: "teleport"})
	after := eng.FrameState()
	assert.Equal(t, before.Start, after.Start)
	assert.Equal(t, before.Count, after.Count)
}
