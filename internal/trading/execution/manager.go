package execution

import (
	"context"
	"fmt"
	"pairs_trader/internal/core"
	"pairs_trader/internal/trading/matching"
	apperrors "pairs_trader/pkg/errors"
	"pairs_trader/pkg/telemetry"
	"pairs_trader/pkg/tradingutils"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ManagerConfig carries the per-venue trading parameters the manager feeds
// into every match request.
type ManagerConfig struct {
	BuyFeeRate     decimal.Decimal
	SellFeeRate    decimal.Decimal
	MaxDepthLevels int
}

// ExecutionManager owns every active target from creation to retirement. It
// is driven from two sides, the evaluation ticker calling ExecuteTick and
// the brokerage event stream calling OnOrderEvent, and serializes both
// behind one mutex, because production brokerages deliver events on a
// different goroutine than the tick loop.
type ExecutionManager struct {
	matcher   *matching.SpreadMatcher
	market    core.IMarketData
	submitter *OrderSubmitter
	registry  Registry
	notifier  core.INotificationSink
	gate      core.IExecutionGate
	logger    core.ILogger
	cfg       ManagerConfig

	mu sync.Mutex
}

func NewExecutionManager(
	matcher *matching.SpreadMatcher,
	market core.IMarketData,
	submitter *OrderSubmitter,
	registry Registry,
	notifier core.INotificationSink,
	gate core.IExecutionGate,
	logger core.ILogger,
	cfg ManagerConfig,
) *ExecutionManager {
	return &ExecutionManager{
		matcher:   matcher,
		market:    market,
		submitter: submitter,
		registry:  registry,
		notifier:  notifier,
		gate:      gate,
		logger:    logger.WithField("component", "execution_manager"),
		cfg:       cfg,
	}
}

// CreateTarget registers a new execution target for an opportunity. The
// handle is minted here and identifies the target for its whole life. A
// second target for the same opportunity key is refused, as is any target
// while the execution gate is closed.
func (m *ExecutionManager) CreateTarget(params TargetParams) (*ExecutionTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if params.FirstQuantity.IsZero() || params.SecondQuantity.IsZero() ||
		params.FirstQuantity.Sign() == params.SecondQuantity.Sign() {
		return nil, fmt.Errorf("target quantities must be non-zero and opposite-signed, got %s / %s",
			params.FirstQuantity, params.SecondQuantity)
	}
	if m.gate != nil && !m.gate.Allow() {
		return nil, fmt.Errorf("opportunity %s: %w", params.OpportunityKey, apperrors.ErrExecutionHalted)
	}

	t := NewExecutionTarget(params)
	if err := m.registry.Register(t); err != nil {
		return nil, err
	}

	metrics := telemetry.GetGlobalMetrics()
	metrics.TargetsCreatedTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("pair", core.PairKey(t.First, t.Second)),
	))
	metrics.SetActiveTargets(t.OpportunityKey, 1)

	m.notify(core.NotifyTargetCreated, t.Snapshot())
	m.logger.Info("execution target created",
		"handle", t.Handle,
		"opportunity", t.OpportunityKey,
		"direction", t.Direction.String(),
		"first_qty", t.FirstTarget.String(),
		"second_qty", t.SecondTarget.String(),
		"expected_spread", t.ExpectedSpread.String(),
		"timeout", t.Timeout.String())
	return t, nil
}

// HasActiveTarget reports whether an opportunity already has a live target.
func (m *ExecutionManager) HasActiveTarget(key string) bool {
	_, ok := m.registry.ByKey(key)
	return ok
}

// ActiveCount returns the number of live targets.
func (m *ExecutionManager) ActiveCount() int {
	return m.registry.Len()
}

// ExecuteTick advances every active target once against current market data.
func (m *ExecutionManager) ExecuteTick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, t := range m.registry.Active() {
		m.executeTarget(ctx, t, now)
	}
}

// executeTarget runs one evaluation pass for one target. Order matters: a
// stuck single-sided remainder (sweep) outranks completion, completion
// outranks expiry, and only then is fresh liquidity sought.
func (m *ExecutionManager) executeTarget(ctx context.Context, t *ExecutionTarget, now time.Time) {
	if t.Status().IsTerminal() {
		return
	}

	if !m.market.IsMarketOpen(t.First) || !m.market.IsMarketOpen(t.Second) {
		m.logger.Debug("market closed, skipping tick", "handle", t.Handle)
		return
	}
	if _, ok := priceFor(m.market, t.First, core.SideOf(t.FirstTarget)); !ok {
		m.logger.Debug("no valid price for first leg, skipping tick",
			"handle", t.Handle, "instrument", t.First.Key())
		return
	}
	if _, ok := priceFor(m.market, t.Second, core.SideOf(t.SecondTarget)); !ok {
		m.logger.Debug("no valid price for second leg, skipping tick",
			"handle", t.Handle, "instrument", t.Second.Key())
		return
	}

	// The timeout clock starts on the first tick that could have traded.
	t.Anchor(now)

	if t.ShouldFillRemainingOrders(m.market) {
		m.sweep(ctx, t)
		return
	}

	if done, consistent := t.IsCompletelyFilled(); done {
		if !consistent {
			m.reportFillInconsistency(ctx, t)
		}
		m.retire(ctx, t, core.TargetStatusFilled, now)
		return
	}

	if t.IsExpired(now) {
		m.logger.Warn("target timed out",
			"handle", t.Handle,
			"anchor", t.AnchorTime().Format(time.RFC3339),
			"timeout", t.Timeout.String())
		m.retire(ctx, t, core.TargetStatusCanceled, now)
		return
	}

	// The previous attempt must resolve before a new one opens.
	if g := t.ActiveGroup(); g != nil && !g.IsResolved() {
		return
	}

	notional, ok := m.remainingBuyNotional(t)
	if !ok || !notional.IsPositive() {
		return
	}
	remaining, _ := notional.Float64()
	telemetry.GetGlobalMetrics().SetRemainingNotional(t.OpportunityKey, remaining)

	res := m.matcher.Match(matching.MatchRequest{
		First:            t.First,
		Second:           t.Second,
		Direction:        t.Direction,
		TargetNotional:   notional,
		MinSpreadPercent: t.MinSpread,
		BuyFeeRate:       m.cfg.BuyFeeRate,
		SellFeeRate:      m.cfg.SellFeeRate,
		MaxLevels:        m.cfg.MaxDepthLevels,
	})
	if !res.Executable || res.FirstLeg.Quantity.IsZero() || res.SecondLeg.Quantity.IsZero() {
		return
	}

	m.submitGroup(ctx, t, res)
}

// remainingBuyNotional sizes the next match request: the bought leg's
// remaining magnitude at its current ask.
func (m *ExecutionManager) remainingBuyNotional(t *ExecutionTarget) (decimal.Decimal, bool) {
	remFirst, remSecond := t.RemainingQuantity()
	buyInst, buyRemaining := t.First, remFirst
	if t.FirstTarget.IsNegative() {
		buyInst, buyRemaining = t.Second, remSecond
	}
	if !buyRemaining.IsPositive() {
		return decimal.Zero, false
	}
	price, ok := priceFor(m.market, buyInst, core.SideBuy)
	if !ok {
		return decimal.Zero, false
	}
	return buyRemaining.Mul(price), true
}

// submitGroup opens a new attempt and submits both legs. The group is
// appended as a placeholder first; orders attach through the event path, so
// an event racing the submit call's return still finds its group.
func (m *ExecutionManager) submitGroup(ctx context.Context, t *ExecutionTarget, res matching.MatchResult) {
	g := NewOrderGroup(t.First, t.Second, res.SpreadPercent)
	t.AppendGroup(g)

	submitted := 0
	for _, leg := range []matching.Leg{res.FirstLeg, res.SecondLeg} {
		if _, err := m.submitter.Submit(ctx, leg.Instrument, leg.Quantity, t.Handle); err != nil {
			// No event will ever arrive for this leg.
			g.ExpectedLegCount--
			m.logger.Warn("leg submission failed",
				"handle", t.Handle,
				"instrument", leg.Instrument.Key(),
				"error", err.Error())
			continue
		}
		submitted++
	}
	if submitted == 0 {
		t.dropEmptyGroup(g)
		return
	}

	if t.Status() == core.TargetStatusNew {
		if err := t.setStatus(core.TargetStatusSubmitted); err == nil {
			m.notify(core.NotifyTargetSubmitted, t.Snapshot())
		}
	}
	m.logger.Info("order group submitted",
		"handle", t.Handle,
		"group", t.GroupCount(),
		"first_qty", res.FirstLeg.Quantity.String(),
		"second_qty", res.SecondLeg.Quantity.String(),
		"spread_pct", res.SpreadPercent.String(),
		"reached_target", res.ReachedTarget)
}

// sweep opens a single-purpose group and submits one market order per leg
// with a lot-aligned remainder. The expected count is raised before each
// submission so an early event sees the group as still incomplete.
func (m *ExecutionManager) sweep(ctx context.Context, t *ExecutionTarget) {
	g := NewOrderGroup(t.First, t.Second, decimal.Zero)
	g.ExpectedLegCount = 0
	t.AppendGroup(g)

	remFirst, remSecond := t.RemainingQuantity()
	legs := []struct {
		inst core.Instrument
		qty  decimal.Decimal
	}{
		{t.First, tradingutils.AlignToLot(remFirst, m.market.LotSize(t.First))},
		{t.Second, tradingutils.AlignToLot(remSecond, m.market.LotSize(t.Second))},
	}

	metrics := telemetry.GetGlobalMetrics()
	submitted := 0
	for _, leg := range legs {
		if leg.qty.IsZero() {
			continue
		}
		g.ExpectedLegCount++
		if _, err := m.submitter.Submit(ctx, leg.inst, leg.qty, t.Handle); err != nil {
			g.ExpectedLegCount--
			m.logger.Warn("sweep submission failed",
				"handle", t.Handle,
				"instrument", leg.inst.Key(),
				"error", err.Error())
			continue
		}
		submitted++
		metrics.SweepOrdersTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("instrument", leg.inst.Key()),
		))
		m.logger.Info("sweep order submitted",
			"handle", t.Handle,
			"instrument", leg.inst.Key(),
			"quantity", leg.qty.String())
	}
	if submitted == 0 {
		t.dropEmptyGroup(g)
		return
	}
	m.notify(core.NotifyTargetSwept, t.Snapshot())
}

// OnOrderEvent applies one brokerage event: resolve the target by tag,
// attach the order to its group, then advance target state. Unknown tags and
// off-pair instruments are hard errors; they are logged loudly and the
// event is dropped.
func (m *ExecutionManager) OnOrderEvent(ctx context.Context, ev core.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.registry.ByHandle(ev.Tag)
	if !ok {
		m.logger.Error("order event for unknown target",
			"tag", ev.Tag,
			"order_id", ev.OrderID,
			"instrument", ev.Instrument.Key())
		return fmt.Errorf("tag %q: %w", ev.Tag, apperrors.ErrUnknownTarget)
	}

	if ev.Instrument != t.First && ev.Instrument != t.Second {
		telemetry.GetGlobalMetrics().LegMismatchTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pair", core.PairKey(t.First, t.Second)),
		))
		m.logger.Error("order event matches no leg of its target",
			"handle", t.Handle,
			"instrument", ev.Instrument.Key(),
			"order_id", ev.OrderID)
		return fmt.Errorf("instrument %s on target %s: %w",
			ev.Instrument.Key(), t.Handle, apperrors.ErrLegMismatch)
	}

	// Duplicate deliveries go back to the group that already owns the
	// order; only genuinely new orders attach to the active group.
	g := t.groupForOrder(ev.OrderID)
	if g == nil {
		g = t.ActiveGroup()
	}
	if g == nil {
		m.logger.Error("order event with no open order group",
			"handle", t.Handle, "order_id", ev.OrderID)
		return fmt.Errorf("target %s has no order group: %w", t.Handle, apperrors.ErrUnknownTarget)
	}

	order := core.Order{
		ID:            ev.OrderID,
		ClientOrderID: ev.ClientOrderID,
		Instrument:    ev.Instrument,
		Filled:        ev.FilledQuantity,
		AvgFillPrice:  ev.FillPrice,
		Fee:           ev.Fee,
		Status:        ev.Status,
		Tag:           ev.Tag,
		UpdatedAt:     ev.Timestamp,
	}
	if err := g.Attach(order); err != nil {
		m.logger.Warn("ignoring order event for complete group",
			"handle", t.Handle,
			"order_id", ev.OrderID,
			"error", err.Error())
		return nil
	}

	switch {
	case ev.Status == core.OrderStatusPartiallyFilled || ev.Status == core.OrderStatusFilled:
		m.onFillProgress(ctx, t)
	case ev.Status.IsFailure():
		m.onOrderFailure(ctx, t, ev)
	}
	return nil
}

func (m *ExecutionManager) onFillProgress(ctx context.Context, t *ExecutionTarget) {
	done, consistent := t.IsCompletelyFilled()
	if done {
		if !consistent {
			m.reportFillInconsistency(ctx, t)
		}
		m.retire(ctx, t, core.TargetStatusFilled, time.Now())
		return
	}
	if t.Status() != core.TargetStatusPartiallyFilled {
		_ = t.setStatus(core.TargetStatusPartiallyFilled)
	}
	m.notify(core.NotifyTargetPartialFill, t.Snapshot())
}

// onOrderFailure handles a canceled or rejected leg. One failed leg among
// healthy ones does not fail the target; the next tick's sweep or timeout
// logic closes whatever exposure is left.
func (m *ExecutionManager) onOrderFailure(ctx context.Context, t *ExecutionTarget, ev core.OrderEvent) {
	m.logger.Warn("leg order failed",
		"handle", t.Handle,
		"instrument", ev.Instrument.Key(),
		"order_id", ev.OrderID,
		"status", ev.Status.String())

	if t.IsCompletelyFailed() {
		m.retire(ctx, t, core.TargetStatusFailed, time.Now())
	}
}

func (m *ExecutionManager) reportFillInconsistency(ctx context.Context, t *ExecutionTarget) {
	telemetry.GetGlobalMetrics().FillInconsistencyTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pair", core.PairKey(t.First, t.Second)),
	))
	m.logger.Warn("target quantity complete but groups disagree on filled status",
		"handle", t.Handle,
		"groups", t.GroupCount())
	m.notify(core.NotifyFillInconsistency, t.Snapshot())
}

// retire moves the target to a terminal status, removes it from the registry
// and hands a snapshot to the collaborators. The live target is never
// referenced again.
func (m *ExecutionManager) retire(ctx context.Context, t *ExecutionTarget, status core.TargetStatus, now time.Time) {
	if err := t.setStatus(status); err != nil {
		m.logger.Error("retire transition rejected", "handle", t.Handle, "error", err.Error())
		return
	}
	t.markRetired(now)
	m.registry.Retire(t.Handle)

	metrics := telemetry.GetGlobalMetrics()
	metrics.TargetsRetiredTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pair", core.PairKey(t.First, t.Second)),
		attribute.String("status", status.String()),
	))
	metrics.TargetDurationSeconds.Record(ctx, now.Sub(t.CreatedAt).Seconds(), metric.WithAttributes(
		attribute.String("pair", core.PairKey(t.First, t.Second)),
	))
	metrics.SetActiveTargets(t.OpportunityKey, 0)
	metrics.SetRemainingNotional(t.OpportunityKey, 0)

	if m.gate != nil {
		m.gate.RecordResult(status)
	}

	snap := t.Snapshot()
	m.notify(notificationKind(status), snap)
	m.logger.Info("execution target retired",
		"handle", t.Handle,
		"status", status.String(),
		"groups", t.GroupCount(),
		"realized_spread", snap.RealizedSpread.String(),
		"fee_paid", snap.FeePaid.String())
}

func (m *ExecutionManager) notify(kind core.NotificationKind, snap core.TargetSnapshot) {
	if m.notifier != nil {
		m.notifier.NotifyTarget(kind, snap)
	}
}

func notificationKind(status core.TargetStatus) core.NotificationKind {
	switch status {
	case core.TargetStatusFilled:
		return core.NotifyTargetFilled
	case core.TargetStatusCanceled:
		return core.NotifyTargetCanceled
	default:
		return core.NotifyTargetFailed
	}
}
