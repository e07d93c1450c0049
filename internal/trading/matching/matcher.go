// Package matching computes lot-aligned, market-value-hedged quantity
// pairs from live order books.
//
// A match walks one or both books, consuming liquidity only at price
// pairs whose spread clears the caller's threshold, and converts fills
// between the legs by equal market value rather than equal share count.
// The algorithm variant (dual-depth, single-depth, best-price fallback)
// is chosen once per call from what each side's book actually exposes.
package matching

import (
	"context"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"pairs_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SpreadMatcher sizes executable slices for instrument pairs. It holds
// no per-pair state; every Match call reads fresh market data.
type SpreadMatcher struct {
	market core.IMarketData
	logger core.ILogger
}

func NewSpreadMatcher(market core.IMarketData, logger core.ILogger) *SpreadMatcher {
	return &SpreadMatcher{
		market: market,
		logger: logger.WithField("component", "spread_matcher"),
	}
}

// walkOutcome is the raw product of a book walk, before lot truncation
// of the counter side and fee adjustment.
type walkOutcome struct {
	alignedQty     decimal.Decimal // shares consumed on the walked book, lot-aligned
	counterPrecise decimal.Decimal // counter-side shares, truncated once in assemble
	walkedIsBuy    bool
	rawNotional    decimal.Decimal // matched market value, identical on both sides
	details        []MatchDetail
	reached        bool
	remaining      decimal.Decimal
}

// Match returns the largest executable, market-value-hedged, lot-aligned
// quantity pair for the request. The result is not executable when either
// side lacks a valid price, no price pair clears the spread threshold, or
// the matched amount truncates below one lot on either leg.
func (m *SpreadMatcher) Match(req MatchRequest) MatchResult {
	res := m.match(req)

	metrics := telemetry.GetGlobalMetrics()
	pair := core.PairKey(req.First, req.Second)
	outcome := "not_executable"
	if res.Executable {
		outcome = "matched"
	}
	metrics.MatchAttemptsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("pair", pair),
		attribute.String("outcome", outcome),
	))

	if res.Executable && len(res.Details) > 0 {
		notional, _ := res.BuyNotional.Float64()
		spread, _ := res.SpreadPercent.Float64()
		metrics.MatchedNotionalTotal.Add(context.Background(), notional, metric.WithAttributes(attribute.String("pair", pair)))
		metrics.MatchedSpreadPercent.Record(context.Background(), spread, metric.WithAttributes(attribute.String("pair", pair)))

		m.logger.Debug("matched executable slice",
			"pair", pair,
			"direction", req.Direction.String(),
			"buy_notional", res.BuyNotional.String(),
			"spread_pct", res.SpreadPercent.String(),
			"levels", len(res.Details),
			"reached_target", res.ReachedTarget,
		)
	}
	return res
}

func (m *SpreadMatcher) match(req MatchRequest) MatchResult {
	empty := MatchResult{
		FirstLeg:          Leg{Instrument: req.First},
		SecondLeg:         Leg{Instrument: req.Second},
		RemainingNotional: req.TargetNotional,
	}

	firstBest, firstOK := m.bestFor(req.First, m.roleOf(req.Direction, true))
	secondBest, secondOK := m.bestFor(req.Second, m.roleOf(req.Direction, false))
	if !firstOK || !secondOK {
		return empty
	}

	// A zero target is satisfied trivially; both legs stay zero.
	if req.TargetNotional.Sign() <= 0 {
		empty.Executable = true
		empty.ReachedTarget = true
		empty.RemainingNotional = decimal.Zero
		return empty
	}

	firstLevels := m.levelsFor(req.First, m.roleOf(req.Direction, true), req.MaxLevels)
	secondLevels := m.levelsFor(req.Second, m.roleOf(req.Direction, false), req.MaxLevels)

	switch {
	case len(firstLevels) > 0 && len(secondLevels) > 0:
		return m.matchDualDepth(req, firstLevels, secondLevels)
	case len(firstLevels) > 0:
		return m.matchSingleDepth(req, firstLevels, secondBest)
	case len(secondLevels) > 0:
		// Only the second book has depth: swap the legs, run the
		// single-depth walk with the direction flipped, then swap the
		// result back into the caller's (First, Second) order.
		swapped := req
		swapped.First, swapped.Second = req.Second, req.First
		swapped.Direction = req.Direction.Opposite()
		res := m.matchSingleDepth(swapped, secondLevels, firstBest)
		res.FirstLeg, res.SecondLeg = res.SecondLeg, res.FirstLeg
		return res
	default:
		return m.matchBestPrice(req, firstBest, secondBest)
	}
}

// matchDualDepth walks both books with twin cursors, consuming the buy
// book lot by lot and the sell book by equal market value.
func (m *SpreadMatcher) matchDualDepth(req MatchRequest, firstLevels, secondLevels []core.PriceLevel) MatchResult {
	buyInst, sellInst := req.First, req.Second
	buyLevels, sellLevels := firstLevels, secondLevels
	if req.Direction == core.DirectionShort {
		buyInst, sellInst = req.Second, req.First
		buyLevels, sellLevels = secondLevels, firstLevels
	}
	buyLot := m.market.LotSize(buyInst)

	out := walkOutcome{walkedIsBuy: true, remaining: req.TargetNotional}
	buyIdx, sellIdx := 0, 0
	buyLeft := buyLevels[0].Size
	sellLeft := sellLevels[0].Size

	for buyIdx < len(buyLevels) && sellIdx < len(sellLevels) && out.remaining.IsPositive() {
		buyPrice := buyLevels[buyIdx].Price
		sellPrice := sellLevels[sellIdx].Price
		if !buyPrice.IsPositive() || !sellPrice.IsPositive() {
			break
		}

		spread := tradingutils.SpreadPercent(buyPrice, sellPrice)
		if spread.LessThan(req.MinSpreadPercent) {
			// Asks ascend and bids descend, so every deeper pair is
			// strictly worse; there is no better counter level left.
			break
		}

		byNotional := out.remaining.Div(buyPrice)
		byCounter := sellLeft.Mul(sellPrice).Div(buyPrice)
		take := tradingutils.AlignToLot(decimal.Min(buyLeft, byNotional, byCounter), buyLot)
		if take.IsZero() {
			if byNotional.LessThanOrEqual(buyLeft) && byNotional.LessThanOrEqual(byCounter) {
				// The remaining budget no longer buys a whole lot.
				out.reached = true
				break
			}
			if buyLeft.LessThanOrEqual(byCounter) {
				buyIdx++
				if buyIdx < len(buyLevels) {
					buyLeft = buyLevels[buyIdx].Size
				}
			} else {
				sellIdx++
				if sellIdx < len(sellLevels) {
					sellLeft = sellLevels[sellIdx].Size
				}
			}
			continue
		}

		value := take.Mul(buyPrice)
		sellShares := value.Div(sellPrice)

		out.alignedQty = out.alignedQty.Add(take)
		out.counterPrecise = out.counterPrecise.Add(sellShares)
		out.rawNotional = out.rawNotional.Add(value)
		out.remaining = out.remaining.Sub(value)
		out.details = append(out.details, MatchDetail{
			BuyPrice:      buyPrice,
			SellPrice:     sellPrice,
			Quantity:      take,
			SpreadPercent: spread,
		})

		buyLeft = buyLeft.Sub(take)
		sellLeft = sellLeft.Sub(sellShares)
		if tradingutils.AlignToLot(buyLeft, buyLot).IsZero() {
			// Sub-lot residue on a level is unusable; move on.
			buyIdx++
			if buyIdx < len(buyLevels) {
				buyLeft = buyLevels[buyIdx].Size
			}
		}
		if !sellLeft.IsPositive() {
			sellIdx++
			if sellIdx < len(sellLevels) {
				sellLeft = sellLevels[sellIdx].Size
			}
		}
	}
	if !out.remaining.IsPositive() {
		out.reached = true
	}

	return m.assemble(req, out, sellInst)
}

// matchSingleDepth walks First's book against a fixed counter price on
// Second, which is treated as having unlimited size at that price.
func (m *SpreadMatcher) matchSingleDepth(req MatchRequest, levels []core.PriceLevel, counterBest decimal.Decimal) MatchResult {
	walkedIsBuy := req.Direction == core.DirectionLong
	walkedLot := m.market.LotSize(req.First)

	out := walkOutcome{walkedIsBuy: walkedIsBuy, remaining: req.TargetNotional}
	for idx := 0; idx < len(levels) && out.remaining.IsPositive(); idx++ {
		price := levels[idx].Price
		if !price.IsPositive() {
			break
		}

		buyPrice, sellPrice := price, counterBest
		if !walkedIsBuy {
			buyPrice, sellPrice = counterBest, price
		}
		spread := tradingutils.SpreadPercent(buyPrice, sellPrice)
		if spread.LessThan(req.MinSpreadPercent) {
			// The counter price is fixed, so deeper levels only widen
			// the shortfall.
			break
		}

		byNotional := out.remaining.Div(price)
		take := tradingutils.AlignToLot(decimal.Min(levels[idx].Size, byNotional), walkedLot)
		if take.IsZero() {
			if byNotional.LessThanOrEqual(levels[idx].Size) {
				out.reached = true
				break
			}
			continue // sub-lot level, move deeper
		}

		value := take.Mul(price)
		out.alignedQty = out.alignedQty.Add(take)
		out.counterPrecise = out.counterPrecise.Add(value.Div(counterBest))
		out.rawNotional = out.rawNotional.Add(value)
		out.remaining = out.remaining.Sub(value)
		out.details = append(out.details, MatchDetail{
			BuyPrice:      buyPrice,
			SellPrice:     sellPrice,
			Quantity:      take,
			SpreadPercent: spread,
		})
	}
	if !out.remaining.IsPositive() {
		out.reached = true
	}

	return m.assemble(req, out, req.Second)
}

// matchBestPrice treats both sides as unlimited liquidity at their best
// prices and sizes each leg independently from the target notional.
func (m *SpreadMatcher) matchBestPrice(req MatchRequest, firstBest, secondBest decimal.Decimal) MatchResult {
	res := MatchResult{
		FirstLeg:          Leg{Instrument: req.First},
		SecondLeg:         Leg{Instrument: req.Second},
		RemainingNotional: req.TargetNotional,
	}

	buyPrice, sellPrice := firstBest, secondBest
	if req.Direction == core.DirectionShort {
		buyPrice, sellPrice = secondBest, firstBest
	}
	spread := tradingutils.SpreadPercent(buyPrice, sellPrice)
	if spread.LessThan(req.MinSpreadPercent) {
		return res
	}

	firstQty := tradingutils.AlignToLot(req.TargetNotional.Div(firstBest), m.market.LotSize(req.First))
	secondQty := tradingutils.AlignToLot(req.TargetNotional.Div(secondBest), m.market.LotSize(req.Second))
	if firstQty.IsZero() || secondQty.IsZero() {
		return res
	}

	buyQty, sellQty := firstQty, secondQty
	if req.Direction == core.DirectionShort {
		buyQty, sellQty = secondQty, firstQty
	}
	rawBuy := buyQty.Mul(buyPrice)
	rawSell := sellQty.Mul(sellPrice)

	res.Details = []MatchDetail{{
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		Quantity:      buyQty,
		SpreadPercent: spread,
	}}
	m.finish(&res, req, buyQty, sellQty, rawBuy, rawSell)
	res.ReachedTarget = true
	res.RemainingNotional = decimal.Max(decimal.Zero, req.TargetNotional.Sub(rawBuy))
	return res
}

// assemble truncates the counter leg to its lot, applies fees and signs,
// and decides executability. counterInst is the instrument whose shares
// were accumulated precisely during the walk.
func (m *SpreadMatcher) assemble(req MatchRequest, out walkOutcome, counterInst core.Instrument) MatchResult {
	res := MatchResult{
		FirstLeg:          Leg{Instrument: req.First},
		SecondLeg:         Leg{Instrument: req.Second},
		Details:           out.details,
		RemainingNotional: req.TargetNotional,
	}
	if len(out.details) == 0 {
		return res
	}

	counterQty := tradingutils.AlignToLot(out.counterPrecise, m.market.LotSize(counterInst))
	if out.alignedQty.IsZero() || counterQty.IsZero() {
		// A hedge below one lot on either side is no hedge at all.
		return res
	}

	avgWalked := out.rawNotional.Div(out.alignedQty)
	avgCounter := out.rawNotional.Div(out.counterPrecise)

	buyQty, sellQty := out.alignedQty, counterQty
	avgBuyRaw, avgSellRaw := avgWalked, avgCounter
	if !out.walkedIsBuy {
		buyQty, sellQty = counterQty, out.alignedQty
		avgBuyRaw, avgSellRaw = avgCounter, avgWalked
	}
	rawBuy := buyQty.Mul(avgBuyRaw)
	rawSell := sellQty.Mul(avgSellRaw)

	m.finish(&res, req, buyQty, sellQty, rawBuy, rawSell)
	res.ReachedTarget = out.reached
	res.RemainingNotional = out.remaining
	return res
}

// finish applies fee adjustment, averages, spread and leg signs to an
// executable result.
func (m *SpreadMatcher) finish(res *MatchResult, req MatchRequest, buyQty, sellQty, rawBuy, rawSell decimal.Decimal) {
	one := decimal.NewFromInt(1)
	res.BuyNotional = rawBuy.Mul(one.Add(req.BuyFeeRate))
	res.SellNotional = rawSell.Mul(one.Sub(req.SellFeeRate))
	res.AvgBuyPrice = tradingutils.WeightedAvgPrice(res.BuyNotional, buyQty)
	res.AvgSellPrice = tradingutils.WeightedAvgPrice(res.SellNotional, sellQty)
	res.SpreadPercent = tradingutils.SpreadPercent(res.AvgBuyPrice, res.AvgSellPrice)

	if req.Direction == core.DirectionLong {
		res.FirstLeg.Quantity = buyQty
		res.SecondLeg.Quantity = sellQty.Neg()
	} else {
		res.FirstLeg.Quantity = sellQty.Neg()
		res.SecondLeg.Quantity = buyQty
	}
	res.Executable = true
}

// roleOf returns the economic side of the first or second leg under the
// requested direction.
func (m *SpreadMatcher) roleOf(d core.Direction, first bool) core.Side {
	if (d == core.DirectionLong) == first {
		return core.SideBuy
	}
	return core.SideSell
}

// bestFor returns the best tradable price for the instrument on the
// given side: the ask when buying, the bid when selling.
func (m *SpreadMatcher) bestFor(inst core.Instrument, side core.Side) (decimal.Decimal, bool) {
	var price decimal.Decimal
	var ok bool
	if side == core.SideBuy {
		price, ok = m.market.BestAsk(inst)
	} else {
		price, ok = m.market.BestBid(inst)
	}
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// levelsFor returns the tradable depth levels for the instrument on the
// given side, capped to maxLevels, or nil when the book exposes no
// usable depth on that side.
func (m *SpreadMatcher) levelsFor(inst core.Instrument, side core.Side, maxLevels int) []core.PriceLevel {
	depth, ok := m.market.Depth(inst)
	if !ok {
		return nil
	}
	levels := depth.Asks
	if side == core.SideSell {
		levels = depth.Bids
	}
	if len(levels) == 0 || !levels[0].Price.IsPositive() || !levels[0].Size.IsPositive() {
		return nil
	}
	if maxLevels > 0 && len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}
	return levels
}
