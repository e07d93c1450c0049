package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"pairs_trader/internal/core"
	"pairs_trader/internal/logging"
	"pairs_trader/internal/trading/matching"
	apperrors "pairs_trader/pkg/errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type stubMarket struct {
	bids   map[string]decimal.Decimal
	asks   map[string]decimal.Decimal
	books  map[string]core.DepthSnapshot
	lots   map[string]decimal.Decimal
	closed map[string]bool
}

func newStubMarket() *stubMarket {
	return &stubMarket{
		bids:   map[string]decimal.Decimal{},
		asks:   map[string]decimal.Decimal{},
		books:  map[string]core.DepthSnapshot{},
		lots:   map[string]decimal.Decimal{},
		closed: map[string]bool{},
	}
}

func (s *stubMarket) SetBest(inst core.Instrument, bid, ask decimal.Decimal) {
	s.bids[inst.Key()] = bid
	s.asks[inst.Key()] = ask
}

func (s *stubMarket) SetDepth(inst core.Instrument, bids, asks []core.PriceLevel) {
	s.books[inst.Key()] = core.DepthSnapshot{Bids: bids, Asks: asks, UpdatedAt: time.Now()}
}

func (s *stubMarket) SetLot(inst core.Instrument, lot decimal.Decimal) {
	s.lots[inst.Key()] = lot
}

func (s *stubMarket) SetClosed(inst core.Instrument, closed bool) {
	s.closed[inst.Key()] = closed
}

func (s *stubMarket) BestBid(inst core.Instrument) (decimal.Decimal, bool) {
	p, ok := s.bids[inst.Key()]
	return p, ok
}

func (s *stubMarket) BestAsk(inst core.Instrument) (decimal.Decimal, bool) {
	p, ok := s.asks[inst.Key()]
	return p, ok
}

func (s *stubMarket) Depth(inst core.Instrument) (core.DepthSnapshot, bool) {
	b, ok := s.books[inst.Key()]
	return b, ok
}

func (s *stubMarket) LotSize(inst core.Instrument) decimal.Decimal {
	if lot, ok := s.lots[inst.Key()]; ok {
		return lot
	}
	return decimal.NewFromInt(1)
}

func (s *stubMarket) IsMarketOpen(inst core.Instrument) bool {
	return !s.closed[inst.Key()]
}

func (s *stubMarket) LastUpdate(core.Instrument) time.Time {
	return time.Now()
}

func lvl(price, size string) core.PriceLevel {
	return core.PriceLevel{Price: d(price), Size: d(size)}
}

type submittedOrder struct {
	id       string
	inst     core.Instrument
	quantity decimal.Decimal
	clientID string
	tag      string
}

type stubBrokerage struct {
	mu      sync.Mutex
	orders  []submittedOrder
	failFor map[string]error
	nextID  int
}

func newStubBrokerage() *stubBrokerage {
	return &stubBrokerage{failFor: map[string]error{}}
}

func (b *stubBrokerage) Name() string { return "stub" }

func (b *stubBrokerage) SubmitMarketOrder(_ context.Context, inst core.Instrument, quantity decimal.Decimal, clientOrderID, tag string) (core.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failFor[inst.Key()]; ok {
		return core.Order{}, err
	}
	b.nextID++
	id := fmt.Sprintf("EX-%d", b.nextID)
	b.orders = append(b.orders, submittedOrder{
		id:       id,
		inst:     inst,
		quantity: quantity,
		clientID: clientOrderID,
		tag:      tag,
	})
	return core.Order{
		ID:            id,
		ClientOrderID: clientOrderID,
		Instrument:    inst,
		Quantity:      quantity,
		Status:        core.OrderStatusSubmitted,
		Tag:           tag,
	}, nil
}

func (b *stubBrokerage) StartOrderEventStream(context.Context, func(core.OrderEvent)) error {
	return nil
}

func (b *stubBrokerage) StopOrderEventStream() error { return nil }

func (b *stubBrokerage) failInstrument(inst core.Instrument, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFor[inst.Key()] = err
}

func (b *stubBrokerage) healInstrument(inst core.Instrument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failFor, inst.Key())
}

func (b *stubBrokerage) submissions() []submittedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]submittedOrder, len(b.orders))
	copy(out, b.orders)
	return out
}

type recordNotifier struct {
	mu    sync.Mutex
	kinds []core.NotificationKind
	snaps []core.TargetSnapshot
}

func (n *recordNotifier) NotifyTarget(kind core.NotificationKind, snap core.TargetSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	n.snaps = append(n.snaps, snap)
}

func (n *recordNotifier) has(kind core.NotificationKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (n *recordNotifier) last() core.TargetSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.snaps) == 0 {
		return core.TargetSnapshot{}
	}
	return n.snaps[len(n.snaps)-1]
}

type stubGate struct {
	allow   bool
	results []core.TargetStatus
}

func (g *stubGate) Allow() bool { return g.allow }

func (g *stubGate) RecordResult(status core.TargetStatus) {
	g.results = append(g.results, status)
}

func (g *stubGate) State() core.HaltState {
	return core.HaltState{Halted: !g.allow}
}

func (g *stubGate) Reset() { g.allow = true }

type managerFixture struct {
	market   *stubMarket
	broker   *stubBrokerage
	notifier *recordNotifier
	gate     *stubGate
	manager  *ExecutionManager
}

func newManagerFixture() *managerFixture {
	market := newStubMarket()
	broker := newStubBrokerage()
	notifier := &recordNotifier{}
	gate := &stubGate{allow: true}
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	manager := NewExecutionManager(
		matching.NewSpreadMatcher(market, logger),
		market,
		NewOrderSubmitter(broker, logger, 1000, 1000),
		NewRegistry(),
		notifier,
		gate,
		logger,
		ManagerConfig{
			BuyFeeRate:     decimal.Zero,
			SellFeeRate:    decimal.Zero,
			MaxDepthLevels: 10,
		},
	)
	return &managerFixture{
		market:   market,
		broker:   broker,
		notifier: notifier,
		gate:     gate,
		manager:  manager,
	}
}

// primeSpread sets up a 1.96% spread: buy alpha at 100, sell beta at 102.
func (f *managerFixture) primeSpread() {
	f.market.SetBest(instAlpha, d("99.5"), d("100"))
	f.market.SetDepth(instAlpha, nil, []core.PriceLevel{lvl("100", "10")})
	f.market.SetBest(instBeta, d("102"), d("102.5"))
	f.market.SetDepth(instBeta, []core.PriceLevel{lvl("102", "20")}, nil)
}

func (f *managerFixture) createTarget(t *testing.T) *ExecutionTarget {
	t.Helper()
	tgt, err := f.manager.CreateTarget(TargetParams{
		OpportunityKey: "alpha:AAA|beta:BBB",
		First:          instAlpha,
		Second:         instBeta,
		FirstQuantity:  d("10"),
		SecondQuantity: d("-9"),
		Direction:      core.DirectionLong,
		ExpectedSpread: d("1.9"),
		MinSpread:      d("0.5"),
		Timeout:        time.Minute,
	})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	return tgt
}

// deliver feeds one order event through the manager with a cumulative fill.
func (f *managerFixture) deliver(t *testing.T, sub submittedOrder, filled, price, fee string, status core.OrderStatus) {
	t.Helper()
	err := f.manager.OnOrderEvent(context.Background(), core.OrderEvent{
		OrderID:        sub.id,
		ClientOrderID:  sub.clientID,
		Instrument:     sub.inst,
		Status:         status,
		FilledQuantity: d(filled),
		FillPrice:      d(price),
		Fee:            d(fee),
		Tag:            sub.tag,
		Timestamp:      time.Now(),
	})
	if err != nil {
		t.Fatalf("order event for %s: %v", sub.id, err)
	}
}

func TestCreateTargetValidation(t *testing.T) {
	f := newManagerFixture()

	base := TargetParams{
		OpportunityKey: "k1",
		First:          instAlpha,
		Second:         instBeta,
		FirstQuantity:  d("10"),
		SecondQuantity: d("-9"),
		Direction:      core.DirectionLong,
		MinSpread:      d("0.5"),
		Timeout:        time.Minute,
	}

	sameSign := base
	sameSign.SecondQuantity = d("9")
	_, err := f.manager.CreateTarget(sameSign)
	assert.Error(t, err)

	zeroLeg := base
	zeroLeg.FirstQuantity = decimal.Zero
	_, err = f.manager.CreateTarget(zeroLeg)
	assert.Error(t, err)

	tgt, err := f.manager.CreateTarget(base)
	assert.NoError(t, err)
	assert.Equal(t, core.TargetStatusNew, tgt.Status())
	assert.True(t, f.manager.HasActiveTarget("k1"))
	assert.Equal(t, 1, f.manager.ActiveCount())
	assert.True(t, f.notifier.has(core.NotifyTargetCreated))

	dup := base
	_, err = f.manager.CreateTarget(dup)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateTarget)
	assert.Equal(t, 1, f.manager.ActiveCount())
}

func TestCreateTargetRespectsHaltGate(t *testing.T) {
	f := newManagerFixture()
	f.gate.allow = false

	_, err := f.manager.CreateTarget(TargetParams{
		OpportunityKey: "k1",
		First:          instAlpha,
		Second:         instBeta,
		FirstQuantity:  d("10"),
		SecondQuantity: d("-9"),
		Direction:      core.DirectionLong,
		Timeout:        time.Minute,
	})
	assert.ErrorIs(t, err, apperrors.ErrExecutionHalted)
	assert.Equal(t, 0, f.manager.ActiveCount())
}

func TestTickSubmitsHedgedGroup(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	tgt := f.createTarget(t)

	f.manager.ExecuteTick(context.Background())

	subs := f.broker.submissions()
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
	assert.Equal(t, instAlpha, subs[0].inst)
	assert.True(t, subs[0].quantity.Equal(d("10")))
	assert.Equal(t, instBeta, subs[1].inst)
	assert.True(t, subs[1].quantity.Equal(d("-9")))
	assert.Equal(t, tgt.Handle, subs[0].tag)
	assert.Equal(t, tgt.Handle, subs[1].tag)

	assert.Equal(t, core.TargetStatusSubmitted, tgt.Status())
	assert.Equal(t, 1, tgt.GroupCount())
	assert.Equal(t, 2, tgt.ActiveGroup().ExpectedLegCount)
	assert.True(t, f.notifier.has(core.NotifyTargetSubmitted))
	assert.False(t, tgt.AnchorTime().IsZero())

	// The open group must resolve before another slice is attempted.
	f.manager.ExecuteTick(context.Background())
	assert.Len(t, f.broker.submissions(), 2)
	assert.Equal(t, 1, tgt.GroupCount())
}

func TestTickSkipsThinSpread(t *testing.T) {
	f := newManagerFixture()
	f.market.SetBest(instAlpha, d("99.5"), d("100"))
	f.market.SetDepth(instAlpha, nil, []core.PriceLevel{lvl("100", "10")})
	// 0.398% gross spread, below the 0.5% minimum.
	f.market.SetBest(instBeta, d("100.4"), d("100.9"))
	f.market.SetDepth(instBeta, []core.PriceLevel{lvl("100.4", "20")}, nil)
	tgt := f.createTarget(t)

	f.manager.ExecuteTick(context.Background())

	assert.Empty(t, f.broker.submissions())
	assert.Equal(t, 0, tgt.GroupCount())
	assert.Equal(t, core.TargetStatusNew, tgt.Status())
	// Prices were valid, so the timeout clock is running.
	assert.False(t, tgt.AnchorTime().IsZero())
	assert.True(t, f.manager.HasActiveTarget(tgt.OpportunityKey))
}

func TestTickWithoutPricesDoesNotAnchor(t *testing.T) {
	f := newManagerFixture()
	tgt := f.createTarget(t)

	f.manager.ExecuteTick(context.Background())
	assert.Empty(t, f.broker.submissions())
	assert.True(t, tgt.AnchorTime().IsZero())

	// One leg alone is still not enough.
	f.market.SetBest(instAlpha, d("99.5"), d("100"))
	f.manager.ExecuteTick(context.Background())
	assert.True(t, tgt.AnchorTime().IsZero())
}

func TestTickSkipsClosedMarket(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	f.market.SetClosed(instAlpha, true)
	tgt := f.createTarget(t)

	f.manager.ExecuteTick(context.Background())

	assert.Empty(t, f.broker.submissions())
	assert.True(t, tgt.AnchorTime().IsZero())
}

func TestFillLifecycleToFilled(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	tgt := f.createTarget(t)
	f.manager.ExecuteTick(context.Background())
	subs := f.broker.submissions()

	f.deliver(t, subs[0], "10", "100", "0.5", core.OrderStatusFilled)
	assert.Equal(t, core.TargetStatusPartiallyFilled, tgt.Status())
	assert.True(t, f.notifier.has(core.NotifyTargetPartialFill))

	f.deliver(t, subs[1], "-9", "102", "0.45", core.OrderStatusFilled)
	assert.Equal(t, core.TargetStatusFilled, tgt.Status())
	assert.False(t, f.manager.HasActiveTarget(tgt.OpportunityKey))
	assert.Equal(t, 0, f.manager.ActiveCount())
	assert.True(t, f.notifier.has(core.NotifyTargetFilled))
	assert.Equal(t, []core.TargetStatus{core.TargetStatusFilled}, f.gate.results)

	snap := f.notifier.last()
	assert.Equal(t, core.TargetStatusFilled, snap.Status)
	assert.True(t, snap.FeePaid.Equal(d("0.95")))
	spread, _ := snap.RealizedSpread.Float64()
	assert.InDelta(t, 1.9608, spread, 0.001)
	assert.False(t, snap.RetiredAt.IsZero())
}

func TestSweepClosesStuckRemainder(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	tgt := f.createTarget(t)
	f.manager.ExecuteTick(context.Background())
	subs := f.broker.submissions()

	// The buy leg fills in full; the sell order completes 4 short after
	// exhausting its book.
	f.deliver(t, subs[0], "10", "100", "0.5", core.OrderStatusFilled)
	f.deliver(t, subs[1], "-5", "102", "0.25", core.OrderStatusFilled)
	assert.Equal(t, core.TargetStatusPartiallyFilled, tgt.Status())

	// 0 remaining against 4 remaining can never pair up again: sweep.
	f.manager.ExecuteTick(context.Background())
	subs = f.broker.submissions()
	if len(subs) != 3 {
		t.Fatalf("expected a sweep submission, got %d total", len(subs))
	}
	assert.Equal(t, instBeta, subs[2].inst)
	assert.True(t, subs[2].quantity.Equal(d("-4")))
	assert.Equal(t, 2, tgt.GroupCount())
	assert.Equal(t, 1, tgt.ActiveGroup().ExpectedLegCount)
	assert.True(t, f.notifier.has(core.NotifyTargetSwept))

	// A duplicate of the old sell event must refresh its own group, not
	// leak into the sweep group.
	f.deliver(t, subs[1], "-5", "102", "0.25", core.OrderStatusFilled)
	assert.Empty(t, tgt.ActiveGroup().Orders())
	_, second := tgt.FilledQuantity()
	assert.True(t, second.Equal(d("-5")))

	f.deliver(t, subs[2], "-4", "102", "0.2", core.OrderStatusFilled)
	assert.Equal(t, core.TargetStatusFilled, tgt.Status())
	assert.False(t, f.manager.HasActiveTarget(tgt.OpportunityKey))
	assert.Equal(t, []core.TargetStatus{core.TargetStatusFilled}, f.gate.results)

	snap := f.notifier.last()
	assert.Equal(t, 2, snap.GroupCount)
	assert.True(t, snap.Legs[1].Filled.Equal(d("-9")))
}

func TestExpiryCancelsTarget(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	tgt := f.createTarget(t)
	f.manager.ExecuteTick(context.Background())
	assert.Equal(t, core.TargetStatusSubmitted, tgt.Status())

	// Fresh anchor: another tick changes nothing.
	f.manager.ExecuteTick(context.Background())
	assert.True(t, f.manager.HasActiveTarget(tgt.OpportunityKey))

	tgt.anchorTime = time.Now().Add(-2 * time.Minute)
	f.manager.ExecuteTick(context.Background())

	assert.Equal(t, core.TargetStatusCanceled, tgt.Status())
	assert.False(t, f.manager.HasActiveTarget(tgt.OpportunityKey))
	assert.True(t, f.notifier.has(core.NotifyTargetCanceled))
	assert.Equal(t, []core.TargetStatus{core.TargetStatusCanceled}, f.gate.results)
}

func TestOrderEventRouting(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		f := newManagerFixture()
		err := f.manager.OnOrderEvent(context.Background(), core.OrderEvent{
			OrderID:    "EX-1",
			Instrument: instAlpha,
			Tag:        "no-such-handle",
		})
		assert.ErrorIs(t, err, apperrors.ErrUnknownTarget)
	})

	t.Run("instrument matches neither leg", func(t *testing.T) {
		f := newManagerFixture()
		f.primeSpread()
		tgt := f.createTarget(t)
		f.manager.ExecuteTick(context.Background())

		err := f.manager.OnOrderEvent(context.Background(), core.OrderEvent{
			OrderID:    "EX-9",
			Instrument: core.Instrument{Venue: "gamma", Symbol: "GGG"},
			Status:     core.OrderStatusFilled,
			Tag:        tgt.Handle,
		})
		assert.ErrorIs(t, err, apperrors.ErrLegMismatch)
	})

	t.Run("no open order group", func(t *testing.T) {
		f := newManagerFixture()
		tgt := f.createTarget(t)

		err := f.manager.OnOrderEvent(context.Background(), core.OrderEvent{
			OrderID:    "EX-9",
			Instrument: instAlpha,
			Status:     core.OrderStatusFilled,
			Tag:        tgt.Handle,
		})
		assert.ErrorIs(t, err, apperrors.ErrUnknownTarget)
	})

	t.Run("duplicate delivery is harmless", func(t *testing.T) {
		f := newManagerFixture()
		f.primeSpread()
		tgt := f.createTarget(t)
		f.manager.ExecuteTick(context.Background())
		subs := f.broker.submissions()

		f.deliver(t, subs[0], "10", "100", "0.5", core.OrderStatusFilled)
		f.deliver(t, subs[0], "10", "100", "0.5", core.OrderStatusFilled)

		first, _ := tgt.FilledQuantity()
		assert.True(t, first.Equal(d("10")), "cumulative fills must not double-count")
		assert.True(t, tgt.FeePaid().Equal(d("0.5")))
	})
}

func TestTransportFailureShrinksGroup(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	f.broker.failInstrument(instBeta, errors.New("connection reset"))
	tgt := f.createTarget(t)

	f.manager.ExecuteTick(context.Background())
	subs := f.broker.submissions()
	if len(subs) != 1 {
		t.Fatalf("expected only the healthy leg to submit, got %d", len(subs))
	}
	assert.Equal(t, instAlpha, subs[0].inst)
	assert.Equal(t, 1, tgt.ActiveGroup().ExpectedLegCount)
	assert.Equal(t, core.TargetStatusSubmitted, tgt.Status())

	// The lone order fills: a one-sided position with 9 still to sell.
	f.broker.healInstrument(instBeta)
	f.deliver(t, subs[0], "10", "100", "0.5", core.OrderStatusFilled)
	assert.Equal(t, core.TargetStatusPartiallyFilled, tgt.Status())

	f.manager.ExecuteTick(context.Background())
	subs = f.broker.submissions()
	if len(subs) != 2 {
		t.Fatalf("expected a sweep for the missing leg, got %d total", len(subs))
	}
	assert.Equal(t, instBeta, subs[1].inst)
	assert.True(t, subs[1].quantity.Equal(d("-9")))

	f.deliver(t, subs[1], "-9", "102", "0.45", core.OrderStatusFilled)
	assert.Equal(t, core.TargetStatusFilled, tgt.Status())
}

func TestAllSubmissionsFailedDropsGroup(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	f.broker.failInstrument(instAlpha, errors.New("connection reset"))
	f.broker.failInstrument(instBeta, errors.New("connection reset"))
	tgt := f.createTarget(t)

	f.manager.ExecuteTick(context.Background())
	assert.Empty(t, f.broker.submissions())
	assert.Equal(t, 0, tgt.GroupCount())
	assert.Equal(t, core.TargetStatusNew, tgt.Status())

	// Transport recovers; the next tick retries cleanly.
	f.broker.healInstrument(instAlpha)
	f.broker.healInstrument(instBeta)
	f.manager.ExecuteTick(context.Background())
	assert.Len(t, f.broker.submissions(), 2)
	assert.Equal(t, 1, tgt.GroupCount())
	assert.Equal(t, core.TargetStatusSubmitted, tgt.Status())
}

func TestAllLegsFailedFailsTarget(t *testing.T) {
	f := newManagerFixture()
	f.primeSpread()
	tgt := f.createTarget(t)
	f.manager.ExecuteTick(context.Background())
	subs := f.broker.submissions()

	f.deliver(t, subs[0], "0", "0", "0", core.OrderStatusCanceled)
	// One leg down, the other still live at the venue: not failed yet.
	assert.True(t, f.manager.HasActiveTarget(tgt.OpportunityKey))

	f.deliver(t, subs[1], "0", "0", "0", core.OrderStatusCanceled)
	assert.Equal(t, core.TargetStatusFailed, tgt.Status())
	assert.False(t, f.manager.HasActiveTarget(tgt.OpportunityKey))
	assert.True(t, f.notifier.has(core.NotifyTargetFailed))
	assert.Equal(t, []core.TargetStatus{core.TargetStatusFailed}, f.gate.results)
}

func TestShortDirectionSubmitsMirroredLegs(t *testing.T) {
	f := newManagerFixture()
	// Mirror of the long arena: sell alpha at 102, buy beta at 100.
	f.market.SetBest(instAlpha, d("102"), d("102.5"))
	f.market.SetDepth(instAlpha, []core.PriceLevel{lvl("102", "20")}, nil)
	f.market.SetBest(instBeta, d("99.5"), d("100"))
	f.market.SetDepth(instBeta, nil, []core.PriceLevel{lvl("100", "10")})

	tgt, err := f.manager.CreateTarget(TargetParams{
		OpportunityKey: "short:alpha-beta",
		First:          instAlpha,
		Second:         instBeta,
		FirstQuantity:  d("-9"),
		SecondQuantity: d("10"),
		Direction:      core.DirectionShort,
		MinSpread:      d("0.5"),
		Timeout:        time.Minute,
	})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}

	f.manager.ExecuteTick(context.Background())

	subs := f.broker.submissions()
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
	assert.Equal(t, instAlpha, subs[0].inst)
	assert.True(t, subs[0].quantity.Equal(d("-9")))
	assert.Equal(t, instBeta, subs[1].inst)
	assert.True(t, subs[1].quantity.Equal(d("10")))
	assert.Equal(t, core.TargetStatusSubmitted, tgt.Status())
}
