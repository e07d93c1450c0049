package marketdata

import (
	"io"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/internal/logging"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T) (*Feed, *Book) {
	t.Helper()
	book := NewBook()
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	cfg := config.MarketDataConfig{
		WSURL:               "ws://localhost:0/stream",
		PingIntervalSeconds: 30,
	}
	feed := NewFeed(cfg, book, []core.Instrument{instAlpha, instBeta}, logger)
	return feed, book
}

func TestFeedQuoteFrame(t *testing.T) {
	feed, book := newTestFeed(t)

	feed.handleMessage([]byte(`{"type":"quote","venue":"alpha","symbol":"AAA","bid":"99.5","ask":"100.25","ts":1724400000000}`))

	bid, ok := book.BestBid(instAlpha)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("99.5")))
	ask, ok := book.BestAsk(instAlpha)
	require.True(t, ok)
	assert.True(t, ask.Equal(d("100.25")))
	assert.True(t, book.LastUpdate(instAlpha).Equal(time.UnixMilli(1724400000000)))
}

func TestFeedDepthFrame(t *testing.T) {
	feed, book := newTestFeed(t)

	// Unordered levels plus one malformed and one zero-size entry.
	feed.handleMessage([]byte(`{
		"type":"depth","venue":"beta","symbol":"BBB",
		"bids":[["101.0","5"],["102.0","20"],["abc","1"],["100.5","0"]],
		"asks":[["103.0","7"],["102.5","4"]],
		"ts":1724400001000
	}`))

	snap, ok := book.Depth(instBeta)
	require.True(t, ok)
	require.Len(t, snap.Bids, 2, "unparseable and zero-size levels are dropped")
	assert.True(t, snap.Bids[0].Price.Equal(d("102.0")))
	assert.True(t, snap.Asks[0].Price.Equal(d("102.5")))

	bid, ok := book.BestBid(instBeta)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("102.0")))
}

func TestFeedLotFrame(t *testing.T) {
	feed, book := newTestFeed(t)

	feed.handleMessage([]byte(`{"type":"lot","venue":"alpha","symbol":"AAA","lot_size":"0.5"}`))
	assert.True(t, book.LotSize(instAlpha).Equal(d("0.5")))

	// Non-positive lot sizes are refused.
	feed.handleMessage([]byte(`{"type":"lot","venue":"alpha","symbol":"AAA","lot_size":"0"}`))
	assert.True(t, book.LotSize(instAlpha).Equal(d("0.5")))
}

func TestFeedIgnoresBadFrames(t *testing.T) {
	feed, book := newTestFeed(t)

	feed.handleMessage([]byte(`not json at all`))
	feed.handleMessage([]byte(`{"type":"quote","venue":"alpha","symbol":"AAA","bid":"oops","ask":"100"}`))
	feed.handleMessage([]byte(`{"type":"pong"}`))
	feed.handleMessage([]byte(`{"event":"subscribed","channels":["quote","depth"]}`))

	_, ok := book.BestBid(instAlpha)
	assert.False(t, ok, "bad frames leave the book untouched")
}

func TestFeedStampsMissingTimestamp(t *testing.T) {
	feed, book := newTestFeed(t)

	before := time.Now()
	feed.handleMessage([]byte(`{"type":"quote","venue":"alpha","symbol":"AAA","bid":"99.5","ask":"100"}`))

	last := book.LastUpdate(instAlpha)
	assert.False(t, last.Before(before), "frames without ts use arrival time")
}

func TestParseLevels(t *testing.T) {
	levels := parseLevels([][2]string{
		{"100.5", "2"},
		{"bad", "2"},
		{"100.0", "-1"},
		{"0", "5"},
		{"99.5", "3.5"},
	})
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(d("100.5")))
	assert.True(t, levels[1].Size.Equal(d("3.5")))
}
