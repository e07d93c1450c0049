package marketdata

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/internal/logging"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshotClient(restURL string) *SnapshotClient {
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	cfg := config.MarketDataConfig{RestURL: restURL, SnapshotDepth: 25}
	return NewSnapshotClient(cfg, logger)
}

func TestSnapshotPrime(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/depth", r.URL.Path)
		gotQuery = map[string]string{
			"venue":  r.URL.Query().Get("venue"),
			"symbol": r.URL.Query().Get("symbol"),
			"limit":  r.URL.Query().Get("limit"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"bids":[["99.0","5"],["99.5","10"]],
			"asks":[["100.0","8"]],
			"lot_size":"0.5",
			"ts":1724400000000
		}`))
	}))
	defer server.Close()

	book := NewBook()
	client := newSnapshotClient(server.URL)
	err := client.Prime(context.Background(), book, []core.Instrument{instAlpha})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"venue": "alpha", "symbol": "AAA", "limit": "25"}, gotQuery)

	snap, ok := book.Depth(instAlpha)
	require.True(t, ok)
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(d("99.5")), "depth is normalized on apply")

	bid, ok := book.BestBid(instAlpha)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("99.5")))
	assert.True(t, book.LotSize(instAlpha).Equal(d("0.5")))
}

func TestSnapshotPrimeRequestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown instrument", http.StatusNotFound)
	}))
	defer server.Close()

	client := newSnapshotClient(server.URL)
	err := client.Prime(context.Background(), NewBook(), []core.Instrument{instAlpha})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prime alpha:AAA")
}

func TestSnapshotPrimeBadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newSnapshotClient(server.URL)
	err := client.Prime(context.Background(), NewBook(), []core.Instrument{instAlpha})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode snapshot")
}

func TestSnapshotPrimeSendsAPIKey(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-API-KEY")
		_, _ = w.Write([]byte(`{"bids":[["99.0","5"]],"asks":[["100.0","5"]],"lot_size":"1","ts":0}`))
	}))
	defer server.Close()

	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	cfg := config.MarketDataConfig{RestURL: server.URL, SnapshotDepth: 5, APIKey: "gw-key"}
	err := NewSnapshotClient(cfg, logger).Prime(context.Background(), NewBook(), []core.Instrument{instAlpha})
	require.NoError(t, err)
	assert.Equal(t, "gw-key", got)
}
