package mock

import (
	"context"
	"pairs_trader/internal/core"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type scriptedBook struct {
	bid       decimal.Decimal
	ask       decimal.Decimal
	depth     core.DepthSnapshot
	hasDepth  bool
	lot       decimal.Decimal
	updatedAt time.Time
}

// MarketData is a scripted market data source for tests and standalone
// paper runs. The script sets quotes, depth and lot sizes directly;
// depth levels are stored as given, so scripts supply them in book
// order (bids descending, asks ascending).
type MarketData struct {
	mu           sync.RWMutex
	books        map[string]*scriptedBook
	closedVenues map[string]bool
}

func NewMarketData() *MarketData {
	return &MarketData{
		books:        make(map[string]*scriptedBook),
		closedVenues: make(map[string]bool),
	}
}

func (m *MarketData) book(inst core.Instrument) *scriptedBook {
	key := inst.Key()
	bk, ok := m.books[key]
	if !ok {
		bk = &scriptedBook{}
		m.books[key] = bk
	}
	return bk
}

// SetQuote scripts the best bid and ask for the instrument.
func (m *MarketData) SetQuote(inst core.Instrument, bid, ask decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bk := m.book(inst)
	bk.bid = bid
	bk.ask = ask
	bk.updatedAt = time.Now()
}

// SetDepth scripts the order book for the instrument.
func (m *MarketData) SetDepth(inst core.Instrument, bids, asks []core.PriceLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bk := m.book(inst)
	now := time.Now()
	bk.depth = core.DepthSnapshot{Bids: bids, Asks: asks, UpdatedAt: now}
	bk.hasDepth = len(bids) > 0 || len(asks) > 0
	if len(bids) > 0 {
		bk.bid = bids[0].Price
	}
	if len(asks) > 0 {
		bk.ask = asks[0].Price
	}
	bk.updatedAt = now
}

// SetLotSize scripts the instrument's quantity increment.
func (m *MarketData) SetLotSize(inst core.Instrument, lot decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book(inst).lot = lot
}

// SetVenueClosed scripts the venue's session state.
func (m *MarketData) SetVenueClosed(venue string, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedVenues[venue] = closed
}

func (m *MarketData) BestBid(inst core.Instrument) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bk, ok := m.books[inst.Key()]
	if !ok || !bk.bid.IsPositive() {
		return decimal.Zero, false
	}
	return bk.bid, true
}

func (m *MarketData) BestAsk(inst core.Instrument) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bk, ok := m.books[inst.Key()]
	if !ok || !bk.ask.IsPositive() {
		return decimal.Zero, false
	}
	return bk.ask, true
}

func (m *MarketData) Depth(inst core.Instrument) (core.DepthSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bk, ok := m.books[inst.Key()]
	if !ok || !bk.hasDepth {
		return core.DepthSnapshot{}, false
	}
	return bk.depth, true
}

func (m *MarketData) LotSize(inst core.Instrument) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bk, ok := m.books[inst.Key()]
	if !ok || !bk.lot.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return bk.lot
}

func (m *MarketData) IsMarketOpen(inst core.Instrument) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closedVenues[inst.Venue]
}

func (m *MarketData) LastUpdate(inst core.Instrument) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bk, ok := m.books[inst.Key()]
	if !ok {
		return time.Time{}
	}
	return bk.updatedAt
}

// Run refreshes every book's update stamp once a second until ctx is
// done, keeping staleness checks green while the script holds prices
// still.
func (m *MarketData) Run(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for _, bk := range m.books {
				bk.updatedAt = now
			}
			m.mu.Unlock()
		}
	}
}
