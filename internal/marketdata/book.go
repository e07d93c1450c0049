// Package marketdata maintains the in-process view of venue state: a
// quote and depth cache behind core.IMarketData, the websocket feed and
// REST snapshot client that populate it, and the staleness monitor that
// watches it.
package marketdata

import (
	"fmt"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Session is a venue's trading window expressed in its local timezone.
// Start and End are minutes from midnight; End before Start means the
// window wraps past midnight.
type Session struct {
	Start    int
	End      int
	Location *time.Location
}

// Contains reports whether t falls inside the window.
func (s Session) Contains(t time.Time) bool {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if s.Start == s.End {
		return true
	}
	if s.Start < s.End {
		return minute >= s.Start && minute < s.End
	}
	return minute >= s.Start || minute < s.End
}

// ParseSessions builds the session table from venue configuration.
// Venues with no session window configured are omitted and treated as
// always open.
func ParseSessions(venues map[string]config.VenueConfig) (map[string]Session, error) {
	sessions := make(map[string]Session)
	for venue, vc := range venues {
		if vc.SessionStart == "" && vc.SessionEnd == "" {
			continue
		}
		start, err := parseClock(vc.SessionStart)
		if err != nil {
			return nil, fmt.Errorf("venue %s session_start %q: %w", venue, vc.SessionStart, err)
		}
		end, err := parseClock(vc.SessionEnd)
		if err != nil {
			return nil, fmt.Errorf("venue %s session_end %q: %w", venue, vc.SessionEnd, err)
		}
		loc := time.UTC
		if vc.Timezone != "" {
			loc, err = time.LoadLocation(vc.Timezone)
			if err != nil {
				return nil, fmt.Errorf("venue %s timezone %q: %w", venue, vc.Timezone, err)
			}
		}
		sessions[venue] = Session{Start: start, End: end, Location: loc}
	}
	return sessions, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

type bookEntry struct {
	bid        decimal.Decimal
	ask        decimal.Decimal
	depth      core.DepthSnapshot
	hasDepth   bool
	lotSize    decimal.Decimal
	lastUpdate time.Time
}

// Book caches the latest quote, depth and lot size per instrument and
// implements core.IMarketData on top of the cache. Writers are the feed
// and the snapshot client; readers are the matcher and the engine.
type Book struct {
	mu       sync.RWMutex
	entries  map[string]*bookEntry
	sessions map[string]Session
}

// NewBook returns an empty book with no session restrictions.
func NewBook() *Book {
	return &Book{
		entries:  make(map[string]*bookEntry),
		sessions: make(map[string]Session),
	}
}

// SetSessions installs per-venue trading windows. Venues absent from the
// table are open around the clock.
func (b *Book) SetSessions(sessions map[string]Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]Session, len(sessions))
	for venue, s := range sessions {
		b.sessions[venue] = s
	}
}

func (b *Book) entry(inst core.Instrument) *bookEntry {
	key := inst.Key()
	e, ok := b.entries[key]
	if !ok {
		e = &bookEntry{}
		b.entries[key] = e
	}
	return e
}

// ApplyQuote stores a best bid/ask pair. A zero ts stamps the update
// with the current time.
func (b *Book) ApplyQuote(inst core.Instrument, bid, ask decimal.Decimal, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(inst)
	e.bid = bid
	e.ask = ask
	e.lastUpdate = ts
}

// ApplyDepth replaces the instrument's depth snapshot. Levels are
// re-sorted into book order (bids descending, asks ascending) and the
// top of each side refreshes the cached best quote.
func (b *Book) ApplyDepth(inst core.Instrument, bids, asks []core.PriceLevel, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	sorted := func(levels []core.PriceLevel, desc bool) []core.PriceLevel {
		out := make([]core.PriceLevel, len(levels))
		copy(out, levels)
		sortLevels(out, desc)
		return out
	}
	sortedBids := sorted(bids, true)
	sortedAsks := sorted(asks, false)

	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(inst)
	e.depth = core.DepthSnapshot{Bids: sortedBids, Asks: sortedAsks, UpdatedAt: ts}
	e.hasDepth = len(sortedBids) > 0 || len(sortedAsks) > 0
	if len(sortedBids) > 0 {
		e.bid = sortedBids[0].Price
	}
	if len(sortedAsks) > 0 {
		e.ask = sortedAsks[0].Price
	}
	e.lastUpdate = ts
}

func sortLevels(levels []core.PriceLevel, desc bool) {
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// SetLotSize records the instrument's order quantity increment.
func (b *Book) SetLotSize(inst core.Instrument, lot decimal.Decimal) {
	if !lot.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry(inst).lotSize = lot
}

// BestBid returns the cached best bid. ok is false until a positive
// price has been seen.
func (b *Book) BestBid(inst core.Instrument) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[inst.Key()]
	if !ok || !e.bid.IsPositive() {
		return decimal.Zero, false
	}
	return e.bid, true
}

// BestAsk returns the cached best ask. ok is false until a positive
// price has been seen.
func (b *Book) BestAsk(inst core.Instrument) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[inst.Key()]
	if !ok || !e.ask.IsPositive() {
		return decimal.Zero, false
	}
	return e.ask, true
}

// Depth returns the latest depth snapshot for the instrument.
func (b *Book) Depth(inst core.Instrument) (core.DepthSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[inst.Key()]
	if !ok || !e.hasDepth {
		return core.DepthSnapshot{}, false
	}
	return e.depth, true
}

// LotSize returns the instrument's quantity increment, defaulting to 1
// until the venue reports one.
func (b *Book) LotSize(inst core.Instrument) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[inst.Key()]
	if !ok || !e.lotSize.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return e.lotSize
}

// IsMarketOpen reports whether the instrument's venue is inside its
// trading session. Venues without a configured session are always open.
func (b *Book) IsMarketOpen(inst core.Instrument) bool {
	b.mu.RLock()
	session, ok := b.sessions[inst.Venue]
	b.mu.RUnlock()
	if !ok {
		return true
	}
	return session.Contains(time.Now())
}

// LastUpdate returns when the instrument's data last changed, or the
// zero time if nothing has arrived yet.
func (b *Book) LastUpdate(inst core.Instrument) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[inst.Key()]
	if !ok {
		return time.Time{}
	}
	return e.lastUpdate
}
