// Package mock provides the simulated brokerage and scripted market
// data used by paper mode and the test suites.
package mock

import (
	"context"
	"fmt"
	"pairs_trader/internal/core"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const eventQueueSize = 256

// Brokerage simulates a venue-facing broker. Submissions are
// acknowledged synchronously; all further state arrives through the
// event stream on the dispatcher goroutine, the way a live connection
// delivers it. Events for one order are delivered in the order they
// were produced.
type Brokerage struct {
	name   string
	logger core.ILogger
	events chan core.OrderEvent

	mu            sync.RWMutex
	orders        map[string]*core.Order
	orderSeq      []string
	byClientID    map[string]string
	nextID        int64
	handler       func(core.OrderEvent)
	streamRunning bool
	stopCh        chan struct{}
	submitErrs    map[string]error

	autoFill bool
	market   core.IMarketData
	feeRate  decimal.Decimal
}

// NewBrokerage returns a simulator that acknowledges orders and then
// waits for Simulate calls to progress them.
func NewBrokerage(name string, logger core.ILogger) *Brokerage {
	return &Brokerage{
		name:       name,
		logger:     logger.WithField("component", "mock_brokerage"),
		events:     make(chan core.OrderEvent, eventQueueSize),
		orders:     make(map[string]*core.Order),
		byClientID: make(map[string]string),
		nextID:     1000,
		submitErrs: make(map[string]error),
	}
}

// SetAutoFill makes every accepted order fill completely at the current
// touch price: buys at best ask, sells at best bid. Orders with no
// price available are canceled instead. feeRate is charged on the
// filled notional.
func (b *Brokerage) SetAutoFill(market core.IMarketData, feeRate decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoFill = true
	b.market = market
	b.feeRate = feeRate
}

// SetSubmitError makes submissions for the instrument fail with err.
// A nil err clears the failure.
func (b *Brokerage) SetSubmitError(instrument core.Instrument, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.submitErrs, instrument.Key())
		return
	}
	b.submitErrs[instrument.Key()] = err
}

func (b *Brokerage) Name() string {
	return b.name
}

// SubmitMarketOrder accepts a signed-quantity market order. Resubmitting
// a known clientOrderID returns the already-accepted order without
// creating a new one.
func (b *Brokerage) SubmitMarketOrder(ctx context.Context, instrument core.Instrument, quantity decimal.Decimal, clientOrderID, tag string) (core.Order, error) {
	b.mu.Lock()

	if clientOrderID != "" {
		if id, ok := b.byClientID[clientOrderID]; ok {
			if existing, ok := b.orders[id]; ok {
				order := *existing
				b.mu.Unlock()
				return order, nil
			}
		}
	}

	if err := b.submitErrs[instrument.Key()]; err != nil {
		b.mu.Unlock()
		return core.Order{}, err
	}

	b.nextID++
	now := time.Now()
	order := core.Order{
		ID:            fmt.Sprintf("SIM-%d", b.nextID),
		ClientOrderID: clientOrderID,
		Instrument:    instrument,
		Quantity:      quantity,
		Status:        core.OrderStatusSubmitted,
		Tag:           tag,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	stored := order
	b.orders[order.ID] = &stored
	b.orderSeq = append(b.orderSeq, order.ID)
	if clientOrderID != "" {
		b.byClientID[clientOrderID] = order.ID
	}
	autoFill := b.autoFill
	b.mu.Unlock()

	b.emit(eventFor(order))
	if autoFill {
		b.fillAtTouch(order)
	}
	return order, nil
}

// StartOrderEventStream registers the handler and starts the dispatcher
// goroutine. Events produced while no stream is running are discarded.
func (b *Brokerage) StartOrderEventStream(ctx context.Context, handler func(core.OrderEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamRunning {
		return fmt.Errorf("order event stream already running")
	}
	b.handler = handler
	b.streamRunning = true
	b.stopCh = make(chan struct{})
	go b.dispatch(ctx, b.stopCh)
	return nil
}

func (b *Brokerage) StopOrderEventStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.streamRunning {
		return nil
	}
	b.streamRunning = false
	close(b.stopCh)
	return nil
}

func (b *Brokerage) dispatch(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev := <-b.events:
			b.mu.RLock()
			handler := b.handler
			b.mu.RUnlock()
			if handler != nil {
				handler(ev)
			}
		}
	}
}

func (b *Brokerage) emit(ev core.OrderEvent) {
	b.mu.RLock()
	running := b.streamRunning
	b.mu.RUnlock()
	if !running {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event queue full, dropping order event", "order_id", ev.OrderID)
	}
}

// SimulateOrderFill marks the order done executing with the given
// cumulative signed fill and emits the terminal event. filled may be
// short of the requested quantity; the order still finishes, as a
// market order does when the book runs out.
func (b *Brokerage) SimulateOrderFill(orderID string, filled, avgPrice, fee decimal.Decimal) {
	b.progressOrder(orderID, core.OrderStatusFilled, filled, avgPrice, fee)
}

// SimulatePartialFill reports execution progress without finishing the
// order. filled is the cumulative signed quantity so far.
func (b *Brokerage) SimulatePartialFill(orderID string, filled, avgPrice, fee decimal.Decimal) {
	b.progressOrder(orderID, core.OrderStatusPartiallyFilled, filled, avgPrice, fee)
}

// SimulateOrderCancel cancels the order, keeping whatever was already
// filled, and emits the terminal event.
func (b *Brokerage) SimulateOrderCancel(orderID string) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok || order.Status.IsTerminal() {
		b.mu.Unlock()
		if ok {
			b.logger.Warn("ignoring cancel for terminal order", "order_id", orderID)
		}
		return
	}
	order.Status = core.OrderStatusCanceled
	order.UpdatedAt = time.Now()
	snapshot := *order
	b.mu.Unlock()

	b.emit(eventFor(snapshot))
}

func (b *Brokerage) progressOrder(orderID string, status core.OrderStatus, filled, avgPrice, fee decimal.Decimal) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok || order.Status.IsTerminal() {
		b.mu.Unlock()
		if ok {
			b.logger.Warn("ignoring progress for terminal order",
				"order_id", orderID, "status", status.String())
		}
		return
	}
	order.Status = status
	order.Filled = filled
	order.AvgFillPrice = avgPrice
	order.Fee = fee
	order.UpdatedAt = time.Now()
	snapshot := *order
	b.mu.Unlock()

	b.emit(eventFor(snapshot))
}

func (b *Brokerage) fillAtTouch(order core.Order) {
	b.mu.RLock()
	market := b.market
	feeRate := b.feeRate
	b.mu.RUnlock()

	var price decimal.Decimal
	var ok bool
	if core.SideOf(order.Quantity) == core.SideBuy {
		price, ok = market.BestAsk(order.Instrument)
	} else {
		price, ok = market.BestBid(order.Instrument)
	}
	if !ok {
		b.logger.Warn("no touch price, canceling order",
			"order_id", order.ID, "instrument", order.Instrument.Key())
		b.SimulateOrderCancel(order.ID)
		return
	}
	fee := order.Quantity.Abs().Mul(price).Mul(feeRate)
	b.SimulateOrderFill(order.ID, order.Quantity, price, fee)
}

// Order returns a copy of the order by brokerage ID.
func (b *Brokerage) Order(orderID string) (core.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, ok := b.orders[orderID]
	if !ok {
		return core.Order{}, false
	}
	return *order, true
}

// Orders returns copies of all accepted orders in submission order.
func (b *Brokerage) Orders() []core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	orders := make([]core.Order, 0, len(b.orderSeq))
	for _, id := range b.orderSeq {
		orders = append(orders, *b.orders[id])
	}
	return orders
}

func eventFor(order core.Order) core.OrderEvent {
	return core.OrderEvent{
		OrderID:        order.ID,
		ClientOrderID:  order.ClientOrderID,
		Instrument:     order.Instrument,
		Status:         order.Status,
		FilledQuantity: order.Filled,
		FillPrice:      order.AvgFillPrice,
		Fee:            order.Fee,
		Tag:            order.Tag,
		Timestamp:      order.UpdatedAt,
	}
}
