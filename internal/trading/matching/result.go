package matching

import (
	"pairs_trader/internal/core"

	"github.com/shopspring/decimal"
)

// MatchRequest describes one sizing request for an instrument pair.
type MatchRequest struct {
	First            core.Instrument
	Second           core.Instrument
	Direction        core.Direction
	TargetNotional   decimal.Decimal
	MinSpreadPercent decimal.Decimal
	BuyFeeRate       decimal.Decimal
	SellFeeRate      decimal.Decimal
	MaxLevels        int // per-book depth cap; <= 0 means uncapped
}

// Leg is one side of a match: an instrument and its signed quantity.
// Positive quantities buy, negative quantities sell.
type Leg struct {
	Instrument core.Instrument
	Quantity   decimal.Decimal
}

// MatchDetail records one consumed price pair for diagnostics. Quantity
// is the share count consumed from the walked book at this level.
type MatchDetail struct {
	BuyPrice      decimal.Decimal
	SellPrice     decimal.Decimal
	Quantity      decimal.Decimal
	SpreadPercent decimal.Decimal
}

// MatchResult is the outcome of one Match call. Legs are always returned
// in (First, Second) request order regardless of direction. When
// Executable is true the legs carry opposite signs and their notional
// values agree to within one lot's worth.
type MatchResult struct {
	FirstLeg  Leg
	SecondLeg Leg
	Details   []MatchDetail

	// Notionals and average prices are fee-adjusted: the buy fee is
	// added to the buy notional, the sell fee subtracted from the sell
	// notional. Sizing never depends on fees.
	BuyNotional   decimal.Decimal
	SellNotional  decimal.Decimal
	AvgBuyPrice   decimal.Decimal
	AvgSellPrice  decimal.Decimal
	SpreadPercent decimal.Decimal

	// ReachedTarget is true when liquidity did not cut the match short.
	// RemainingNotional may still hold a sub-lot residue in that case.
	ReachedTarget     bool
	RemainingNotional decimal.Decimal
	Executable        bool
}

// BuyLeg returns the bought leg of an executable result.
func (r MatchResult) BuyLeg() Leg {
	if r.SecondLeg.Quantity.IsPositive() {
		return r.SecondLeg
	}
	return r.FirstLeg
}

// SellLeg returns the sold leg of an executable result.
func (r MatchResult) SellLeg() Leg {
	if r.FirstLeg.Quantity.IsNegative() {
		return r.FirstLeg
	}
	return r.SecondLeg
}
