package mock

import (
	"context"
	"errors"
	"io"
	"pairs_trader/internal/core"
	"pairs_trader/internal/logging"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	instAlpha = core.Instrument{Venue: "alpha", Symbol: "AAA"}
	instBeta  = core.Instrument{Venue: "beta", Symbol: "BBB"}
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestBrokerage(t *testing.T) *Brokerage {
	t.Helper()
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	return NewBrokerage("sim", logger)
}

// eventRecorder collects stream deliveries for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []core.OrderEvent
}

func (r *eventRecorder) handle(ev core.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []core.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.OrderEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startStream(t *testing.T, b *Brokerage) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, b.StartOrderEventStream(ctx, rec.handle))
	return rec
}

func TestBrokerageIdempotentClientOrderID(t *testing.T) {
	b := newTestBrokerage(t)

	first, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "client-123", "tag-1")
	require.NoError(t, err)
	second, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "client-123", "tag-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, b.Orders(), 1)
}

func TestBrokerageAckAndFillEvents(t *testing.T) {
	b := newTestBrokerage(t)
	rec := startStream(t, b)

	order, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "c-1", "tag-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusSubmitted, order.Status)

	b.SimulatePartialFill(order.ID, d("4"), d("100"), d("0.4"))
	b.SimulateOrderFill(order.ID, d("10"), d("100.1"), d("1.0"))

	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)

	events := rec.all()
	assert.Equal(t, core.OrderStatusSubmitted, events[0].Status)
	assert.Equal(t, core.OrderStatusPartiallyFilled, events[1].Status)
	assert.True(t, events[1].FilledQuantity.Equal(d("4")), "fill quantities are cumulative")
	assert.Equal(t, core.OrderStatusFilled, events[2].Status)
	assert.True(t, events[2].FilledQuantity.Equal(d("10")))
	assert.True(t, events[2].Fee.Equal(d("1.0")))
	for _, ev := range events {
		assert.Equal(t, "tag-1", ev.Tag)
		assert.Equal(t, order.ID, ev.OrderID)
	}
}

func TestBrokerageCancelKeepsPartialFill(t *testing.T) {
	b := newTestBrokerage(t)
	rec := startStream(t, b)

	order, err := b.SubmitMarketOrder(context.Background(), instBeta, d("-9"), "c-2", "tag-2")
	require.NoError(t, err)

	b.SimulatePartialFill(order.ID, d("-5"), d("102"), d("0.5"))
	b.SimulateOrderCancel(order.ID)

	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)

	last := rec.all()[2]
	assert.Equal(t, core.OrderStatusCanceled, last.Status)
	assert.True(t, last.FilledQuantity.Equal(d("-5")), "cancel keeps the executed quantity")

	// Terminal orders ignore further simulation.
	b.SimulateOrderFill(order.ID, d("-9"), d("102"), d("1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, rec.count())
}

func TestBrokerageSubmitError(t *testing.T) {
	b := newTestBrokerage(t)
	transportDown := errors.New("connection reset")
	b.SetSubmitError(instAlpha, transportDown)

	_, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "c-3", "tag-3")
	require.ErrorIs(t, err, transportDown)
	assert.Empty(t, b.Orders())

	b.SetSubmitError(instAlpha, nil)
	_, err = b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "c-3", "tag-3")
	require.NoError(t, err)
}

func TestBrokerageAutoFillAtTouch(t *testing.T) {
	b := newTestBrokerage(t)
	rec := startStream(t, b)

	market := NewMarketData()
	market.SetQuote(instAlpha, d("99.5"), d("100"))
	market.SetQuote(instBeta, d("102"), d("102.5"))
	b.SetAutoFill(market, d("0.001"))

	buy, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "c-4", "tag-4")
	require.NoError(t, err)
	sell, err := b.SubmitMarketOrder(context.Background(), instBeta, d("-9"), "c-5", "tag-4")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 4 }, time.Second, 5*time.Millisecond)

	filledBuy, ok := b.Order(buy.ID)
	require.True(t, ok)
	assert.Equal(t, core.OrderStatusFilled, filledBuy.Status)
	assert.True(t, filledBuy.AvgFillPrice.Equal(d("100")), "buys fill at best ask")
	assert.True(t, filledBuy.Fee.Equal(d("1")), "10 * 100 * 0.001")

	filledSell, ok := b.Order(sell.ID)
	require.True(t, ok)
	assert.True(t, filledSell.AvgFillPrice.Equal(d("102")), "sells fill at best bid")
	assert.True(t, filledSell.Filled.Equal(d("-9")))
}

func TestBrokerageAutoFillCancelsWithoutPrice(t *testing.T) {
	b := newTestBrokerage(t)
	rec := startStream(t, b)

	b.SetAutoFill(NewMarketData(), decimal.Zero)

	order, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("10"), "c-6", "tag-6")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.OrderStatusCanceled, rec.all()[1].Status)

	stored, ok := b.Order(order.ID)
	require.True(t, ok)
	assert.Equal(t, core.OrderStatusCanceled, stored.Status)
}

func TestBrokerageStreamLifecycle(t *testing.T) {
	b := newTestBrokerage(t)
	rec := startStream(t, b)

	err := b.StartOrderEventStream(context.Background(), rec.handle)
	require.Error(t, err, "second start while running is refused")

	order, err := b.SubmitMarketOrder(context.Background(), instAlpha, d("1"), "c-7", "tag-7")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.StopOrderEventStream())
	require.NoError(t, b.StopOrderEventStream(), "stop is idempotent")

	// Events produced after stop are discarded.
	b.SimulateOrderFill(order.ID, d("1"), d("100"), decimal.Zero)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}
