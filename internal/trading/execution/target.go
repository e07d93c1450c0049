package execution

import (
	"fmt"
	"pairs_trader/internal/core"
	apperrors "pairs_trader/pkg/errors"
	"pairs_trader/pkg/tradingutils"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TargetParams describes a new execution target. Quantities are signed and
// opposite: the bought leg positive, the sold leg negative.
type TargetParams struct {
	OpportunityKey string
	First          core.Instrument
	Second         core.Instrument
	FirstQuantity  decimal.Decimal
	SecondQuantity decimal.Decimal
	Direction      core.Direction
	ExpectedSpread decimal.Decimal
	MinSpread      decimal.Decimal
	Timeout        time.Duration
}

// ExecutionTarget is the hedge goal for one opportunity: per-leg signed
// target quantities, the spread expected at creation, a timeout clock that
// starts on the first valid tick, and the ordered list of order groups
// (attempts) opened against it. The Handle is minted once and carried
// verbatim in every order tag; brokerage events are routed back by it.
//
// Targets are mutated only by the ExecutionManager under its lock. Status
// moves New → Submitted → PartiallyFilled → Filled, with Canceled, Invalid
// and Failed reachable from any non-terminal state; a terminal status is set
// exactly once.
type ExecutionTarget struct {
	Handle         string
	OpportunityKey string
	First          core.Instrument
	Second         core.Instrument
	FirstTarget    decimal.Decimal
	SecondTarget   decimal.Decimal
	Direction      core.Direction
	ExpectedSpread decimal.Decimal
	MinSpread      decimal.Decimal
	Timeout        time.Duration
	CreatedAt      time.Time

	status     core.TargetStatus
	anchorTime time.Time
	groups     []*OrderGroup
	retiredAt  time.Time
}

func NewExecutionTarget(params TargetParams) *ExecutionTarget {
	return &ExecutionTarget{
		Handle:         uuid.NewString(),
		OpportunityKey: params.OpportunityKey,
		First:          params.First,
		Second:         params.Second,
		FirstTarget:    params.FirstQuantity,
		SecondTarget:   params.SecondQuantity,
		Direction:      params.Direction,
		ExpectedSpread: params.ExpectedSpread,
		MinSpread:      params.MinSpread,
		Timeout:        params.Timeout,
		CreatedAt:      time.Now(),
		status:         core.TargetStatusNew,
	}
}

func (t *ExecutionTarget) Status() core.TargetStatus {
	return t.status
}

// setStatus transitions the target. Terminal states are final: any further
// transition attempt is an error for the caller to report.
func (t *ExecutionTarget) setStatus(s core.TargetStatus) error {
	if t.status.IsTerminal() {
		return fmt.Errorf("refusing %s -> %s: %w", t.status, s, apperrors.ErrTargetTerminal)
	}
	t.status = s
	return nil
}

// AnchorTime returns the timeout anchor, zero until the first valid tick.
func (t *ExecutionTarget) AnchorTime() time.Time {
	return t.anchorTime
}

// Anchor starts the timeout clock if it has not started yet.
func (t *ExecutionTarget) Anchor(now time.Time) {
	if t.anchorTime.IsZero() {
		t.anchorTime = now
	}
}

func (t *ExecutionTarget) AppendGroup(g *OrderGroup) {
	t.groups = append(t.groups, g)
}

// ActiveGroup returns the most recently appended group, nil before the first
// submission.
func (t *ExecutionTarget) ActiveGroup() *OrderGroup {
	if len(t.groups) == 0 {
		return nil
	}
	return t.groups[len(t.groups)-1]
}

// groupForOrder returns the group already holding the given order ID, nil if
// no group owns it. Duplicate event deliveries are routed here so they never
// attach a stale order to a newer group.
func (t *ExecutionTarget) groupForOrder(orderID string) *OrderGroup {
	for _, g := range t.groups {
		for i := range g.orders {
			if g.orders[i].ID == orderID {
				return g
			}
		}
	}
	return nil
}

// dropEmptyGroup removes g if it is the active group and owns no orders.
// Used when every submission for a fresh group failed in transport, so no
// event will ever arrive for it.
func (t *ExecutionTarget) dropEmptyGroup(g *OrderGroup) bool {
	if len(t.groups) == 0 || t.groups[len(t.groups)-1] != g || len(g.orders) != 0 {
		return false
	}
	t.groups = t.groups[:len(t.groups)-1]
	return true
}

func (t *ExecutionTarget) GroupCount() int {
	return len(t.groups)
}

// Groups returns a shallow copy of the attempt list, oldest first.
func (t *ExecutionTarget) Groups() []*OrderGroup {
	out := make([]*OrderGroup, len(t.groups))
	copy(out, t.groups)
	return out
}

// FilledQuantity returns the per-leg signed filled quantity summed across
// all groups.
func (t *ExecutionTarget) FilledQuantity() (first, second decimal.Decimal) {
	first, second = decimal.Zero, decimal.Zero
	for _, g := range t.groups {
		first = first.Add(g.FilledQuantity(t.First))
		second = second.Add(g.FilledQuantity(t.Second))
	}
	return first, second
}

// RemainingQuantity returns per-leg target minus filled, signed. Magnitudes
// shrink toward zero as fills arrive.
func (t *ExecutionTarget) RemainingQuantity() (first, second decimal.Decimal) {
	filledFirst, filledSecond := t.FilledQuantity()
	return t.FirstTarget.Sub(filledFirst), t.SecondTarget.Sub(filledSecond)
}

// IsQuantityFilled reports whether both legs' remaining quantity is exactly
// zero. Strict equality: decimal arithmetic over lot-aligned quantities is
// exact, and an epsilon here would mask drift instead of surfacing it.
func (t *ExecutionTarget) IsQuantityFilled() bool {
	remFirst, remSecond := t.RemainingQuantity()
	return remFirst.IsZero() && remSecond.IsZero()
}

// allOrdersFilled reports whether every expected order of every group has
// arrived and filled. False while anything is in flight or after any
// failure.
func (t *ExecutionTarget) allOrdersFilled() bool {
	if len(t.groups) == 0 {
		return false
	}
	for _, g := range t.groups {
		if !g.IsFullyFilled() {
			return false
		}
	}
	return true
}

// ShouldFillRemainingOrders reports whether the target is stuck with an
// un-hedgeable remainder that only a one-sided sweep order can close: every
// submitted order has filled, a lot-aligned remainder exists on at least one
// leg, and the smaller leg's remaining market value is below the larger of
// the two one-lot values, meaning the pair matcher can never size another
// balanced slice for it.
func (t *ExecutionTarget) ShouldFillRemainingOrders(market core.IMarketData) bool {
	if !t.allOrdersFilled() {
		return false
	}
	remFirst, remSecond := t.RemainingQuantity()
	if remFirst.IsZero() && remSecond.IsZero() {
		return false
	}

	alignedFirst := tradingutils.AlignToLot(remFirst, market.LotSize(t.First))
	alignedSecond := tradingutils.AlignToLot(remSecond, market.LotSize(t.Second))
	if alignedFirst.IsZero() && alignedSecond.IsZero() {
		// Sub-lot residue on both legs: nothing is submittable, let the
		// timeout close the target out.
		return false
	}

	firstPrice, ok1 := priceFor(market, t.First, core.SideOf(t.FirstTarget))
	secondPrice, ok2 := priceFor(market, t.Second, core.SideOf(t.SecondTarget))
	if !ok1 || !ok2 {
		return false
	}

	remValFirst := remFirst.Abs().Mul(firstPrice)
	remValSecond := remSecond.Abs().Mul(secondPrice)
	lotValFirst := market.LotSize(t.First).Mul(firstPrice)
	lotValSecond := market.LotSize(t.Second).Mul(secondPrice)

	return decimal.Min(remValFirst, remValSecond).LessThan(decimal.Max(lotValFirst, lotValSecond))
}

// IsCompletelyFilled reports completion by remaining quantity; the
// quantity-based answer governs. consistent is false when the target is
// quantity-complete but some group does not independently report Filled;
// callers surface that as a warning and a metric, never as a different
// answer.
func (t *ExecutionTarget) IsCompletelyFilled() (done, consistent bool) {
	if !t.IsQuantityFilled() {
		return false, true
	}
	for _, g := range t.groups {
		if !g.IsFullyFilled() {
			return true, false
		}
	}
	return true, true
}

// IsExpired reports whether the timeout has elapsed. The clock runs from the
// anchor, not from creation; a target never validated never expires.
func (t *ExecutionTarget) IsExpired(now time.Time) bool {
	if t.anchorTime.IsZero() {
		return false
	}
	return now.Sub(t.anchorTime) > t.Timeout
}

// IsCompletelyFailed reports whether every attempt failed and none has an
// order still live at the venue. A failed group with one leg in flight keeps
// the target alive: that leg may still fill and leave a position to close.
func (t *ExecutionTarget) IsCompletelyFailed() bool {
	if len(t.groups) == 0 {
		return false
	}
	for _, g := range t.groups {
		if !g.IsFailed() || !g.IsSettled() {
			return false
		}
	}
	return true
}

// FeePaid returns the fee total across all groups.
func (t *ExecutionTarget) FeePaid() decimal.Decimal {
	total := decimal.Zero
	for _, g := range t.groups {
		total = total.Add(g.FeePaid())
	}
	return total
}

// RealizedSpread aggregates weighted average fill prices over every order of
// every group; zero until both sides have fills.
func (t *ExecutionTarget) RealizedSpread() decimal.Decimal {
	buyQty, buyNotional := decimal.Zero, decimal.Zero
	sellQty, sellNotional := decimal.Zero, decimal.Zero
	for _, g := range t.groups {
		bq, bn, sq, sn := g.fillTotals()
		buyQty = buyQty.Add(bq)
		buyNotional = buyNotional.Add(bn)
		sellQty = sellQty.Add(sq)
		sellNotional = sellNotional.Add(sn)
	}
	if buyQty.IsZero() || sellQty.IsZero() {
		return decimal.Zero
	}
	avgBuy := tradingutils.WeightedAvgPrice(buyNotional, buyQty)
	avgSell := tradingutils.WeightedAvgPrice(sellNotional, sellQty)
	return tradingutils.SpreadPercent(avgBuy, avgSell)
}

func (t *ExecutionTarget) markRetired(now time.Time) {
	t.retiredAt = now
}

// Snapshot copies the target's externally relevant state. Collaborators only
// ever see snapshots; the live target never leaves the manager.
func (t *ExecutionTarget) Snapshot() core.TargetSnapshot {
	filledFirst, filledSecond := t.FilledQuantity()
	return core.TargetSnapshot{
		Handle:         t.Handle,
		OpportunityKey: t.OpportunityKey,
		Direction:      t.Direction,
		Status:         t.status,
		Legs: [2]core.LegSnapshot{
			{Instrument: t.First, Target: t.FirstTarget, Filled: filledFirst},
			{Instrument: t.Second, Target: t.SecondTarget, Filled: filledSecond},
		},
		ExpectedSpread: t.ExpectedSpread,
		RealizedSpread: t.RealizedSpread(),
		FeePaid:        t.FeePaid(),
		GroupCount:     len(t.groups),
		CreatedAt:      t.CreatedAt,
		AnchorTime:     t.anchorTime,
		RetiredAt:      t.retiredAt,
	}
}

// priceFor returns the tradable price for an instrument on the given side:
// the ask when buying, the bid when selling.
func priceFor(market core.IMarketData, inst core.Instrument, side core.Side) (decimal.Decimal, bool) {
	var price decimal.Decimal
	var ok bool
	if side == core.SideBuy {
		price, ok = market.BestAsk(inst)
	} else {
		price, ok = market.BestBid(inst)
	}
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
