// Package execution drives hedged order flow: order groups (one batch of
// concurrently submitted leg orders), execution targets (the hedge goal for
// one opportunity, with its timeout and attempt history) and the manager
// that advances them on market ticks and brokerage events.
package execution

import (
	"fmt"
	"pairs_trader/internal/core"
	apperrors "pairs_trader/pkg/errors"
	"pairs_trader/pkg/tradingutils"
	"time"

	"github.com/shopspring/decimal"
)

// OrderGroup is one execution attempt: the leg orders submitted together for
// a slice of the target. Orders are attached asynchronously as brokerage
// events arrive; until len(orders) reaches ExpectedLegCount the group is
// still waiting for acknowledgments. Group status is always derived from the
// attached orders, never stored.
type OrderGroup struct {
	First  core.Instrument
	Second core.Instrument

	// ExpectedLegCount is how many orders this group will ever own. It is
	// set before the corresponding submissions so that an event arriving
	// ahead of the submit call's return still sees the right count.
	ExpectedLegCount int
	ExpectedSpread   decimal.Decimal
	CreatedAt        time.Time

	orders []core.Order
}

// NewOrderGroup creates a group expecting the usual two leg orders.
func NewOrderGroup(first, second core.Instrument, expectedSpread decimal.Decimal) *OrderGroup {
	return &OrderGroup{
		First:            first,
		Second:           second,
		ExpectedLegCount: 2,
		ExpectedSpread:   expectedSpread,
		CreatedAt:        time.Now(),
	}
}

// Attach records or refreshes an order by ID. Re-attaching a known ID
// replaces the stored state, which makes duplicate event delivery harmless.
// A new ID on an already-complete group is rejected.
func (g *OrderGroup) Attach(order core.Order) error {
	for i := range g.orders {
		if g.orders[i].ID == order.ID {
			order.CreatedAt = g.orders[i].CreatedAt
			g.orders[i] = order
			return nil
		}
	}
	if g.IsComplete() {
		return fmt.Errorf("group already holds %d of %d orders: %w",
			len(g.orders), g.ExpectedLegCount, apperrors.ErrDuplicateOrder)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	g.orders = append(g.orders, order)
	return nil
}

// IsComplete reports whether every expected order has arrived. An incomplete
// group still has submissions in flight.
func (g *OrderGroup) IsComplete() bool {
	return len(g.orders) == g.ExpectedLegCount
}

// Status derives the group state from its orders: any canceled or invalid
// order fails the whole group; a complete set of filled orders is Filled;
// any fill progress short of that is PartiallyFilled; otherwise Submitted.
func (g *OrderGroup) Status() core.GroupStatus {
	if len(g.orders) == 0 {
		return core.GroupStatusSubmitted
	}

	filled := 0
	progressed := false
	for i := range g.orders {
		if g.orders[i].Status.IsFailure() {
			return core.GroupStatusFailed
		}
		if g.orders[i].Status == core.OrderStatusFilled {
			filled++
		}
		if !g.orders[i].Filled.IsZero() {
			progressed = true
		}
	}
	if g.IsComplete() && filled == len(g.orders) {
		return core.GroupStatusFilled
	}
	if progressed || filled > 0 {
		return core.GroupStatusPartiallyFilled
	}
	return core.GroupStatusSubmitted
}

// FilledQuantity returns the signed filled quantity for one instrument,
// summed over the group's orders for that leg.
func (g *OrderGroup) FilledQuantity(inst core.Instrument) decimal.Decimal {
	total := decimal.Zero
	for i := range g.orders {
		if g.orders[i].Instrument == inst {
			total = total.Add(g.orders[i].Filled)
		}
	}
	return total
}

// FeePaid returns the total fee across the group's orders.
func (g *OrderGroup) FeePaid() decimal.Decimal {
	total := decimal.Zero
	for i := range g.orders {
		total = total.Add(g.orders[i].Fee)
	}
	return total
}

func (g *OrderGroup) IsFullyFilled() bool {
	return g.Status() == core.GroupStatusFilled
}

func (g *OrderGroup) IsPartiallyFilled() bool {
	return g.Status() == core.GroupStatusPartiallyFilled
}

func (g *OrderGroup) IsFailed() bool {
	return g.Status() == core.GroupStatusFailed
}

// IsResolved reports whether the group needs no further events before the
// manager may open the next attempt.
func (g *OrderGroup) IsResolved() bool {
	s := g.Status()
	return s == core.GroupStatusFilled || s == core.GroupStatusFailed
}

// IsSettled reports whether every expected order has arrived and reached a
// terminal status, so the group's outcome can no longer change.
func (g *OrderGroup) IsSettled() bool {
	if !g.IsComplete() {
		return false
	}
	for i := range g.orders {
		if !g.orders[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Orders returns a copy of the attached orders.
func (g *OrderGroup) Orders() []core.Order {
	out := make([]core.Order, len(g.orders))
	copy(out, g.orders)
	return out
}

// fillTotals aggregates filled quantity and fill notional per side.
func (g *OrderGroup) fillTotals() (buyQty, buyNotional, sellQty, sellNotional decimal.Decimal) {
	buyQty, buyNotional = decimal.Zero, decimal.Zero
	sellQty, sellNotional = decimal.Zero, decimal.Zero
	for i := range g.orders {
		qty := g.orders[i].Filled.Abs()
		if qty.IsZero() {
			continue
		}
		value := qty.Mul(g.orders[i].AvgFillPrice)
		if core.SideOf(g.orders[i].Filled) == core.SideBuy {
			buyQty = buyQty.Add(qty)
			buyNotional = buyNotional.Add(value)
		} else {
			sellQty = sellQty.Add(qty)
			sellNotional = sellNotional.Add(value)
		}
	}
	return buyQty, buyNotional, sellQty, sellNotional
}

// RealizedSpread computes the spread actually achieved from weighted average
// fill prices, zero until both sides have fills.
func (g *OrderGroup) RealizedSpread() decimal.Decimal {
	buyQty, buyNotional, sellQty, sellNotional := g.fillTotals()
	if buyQty.IsZero() || sellQty.IsZero() {
		return decimal.Zero
	}
	avgBuy := tradingutils.WeightedAvgPrice(buyNotional, buyQty)
	avgSell := tradingutils.WeightedAvgPrice(sellNotional, sellQty)
	return tradingutils.SpreadPercent(avgBuy, avgSell)
}
