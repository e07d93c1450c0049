package mock

import (
	"pairs_trader/internal/core"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketDataScripting(t *testing.T) {
	md := NewMarketData()

	_, ok := md.BestBid(instAlpha)
	assert.False(t, ok)
	assert.True(t, md.LotSize(instAlpha).Equal(decimal.NewFromInt(1)))
	assert.True(t, md.IsMarketOpen(instAlpha))
	assert.True(t, md.LastUpdate(instAlpha).IsZero())

	md.SetQuote(instAlpha, d("99.5"), d("100"))
	bid, ok := md.BestBid(instAlpha)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("99.5")))
	assert.False(t, md.LastUpdate(instAlpha).IsZero())

	md.SetDepth(instAlpha,
		[]core.PriceLevel{{Price: d("99.6"), Size: d("5")}},
		[]core.PriceLevel{{Price: d("99.9"), Size: d("8")}})
	snap, ok := md.Depth(instAlpha)
	require.True(t, ok)
	assert.Len(t, snap.Bids, 1)

	bid, _ = md.BestBid(instAlpha)
	assert.True(t, bid.Equal(d("99.6")), "depth tops refresh the quote")

	md.SetLotSize(instAlpha, d("0.1"))
	assert.True(t, md.LotSize(instAlpha).Equal(d("0.1")))
}

func TestMarketDataVenueClose(t *testing.T) {
	md := NewMarketData()
	md.SetQuote(instAlpha, d("99.5"), d("100"))

	md.SetVenueClosed("alpha", true)
	assert.False(t, md.IsMarketOpen(instAlpha))
	assert.True(t, md.IsMarketOpen(instBeta), "other venues unaffected")

	md.SetVenueClosed("alpha", false)
	assert.True(t, md.IsMarketOpen(instAlpha))
}
