package tradingutils

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// AlignToLot truncates a quantity toward zero to the nearest multiple of the
// lot size. It never rounds up; a magnitude below one lot becomes zero. The
// sign of the quantity is preserved. A non-positive lot size leaves the
// quantity unchanged.
func AlignToLot(qty, lotSize decimal.Decimal) decimal.Decimal {
	if lotSize.Sign() <= 0 {
		return qty
	}
	lots := qty.Div(lotSize).Truncate(0)
	return lots.Mul(lotSize)
}

// IsLotAligned reports whether a quantity is already an exact multiple of the
// lot size.
func IsLotAligned(qty, lotSize decimal.Decimal) bool {
	return AlignToLot(qty, lotSize).Equal(qty)
}

// SpreadPercent returns the relative price advantage of buying at buyPrice
// versus selling at sellPrice, as a percentage of the sell price. Positive
// when the bought leg is cheaper, i.e. when the pair trade is favorable.
func SpreadPercent(buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	if sellPrice.Sign() <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Sub(buyPrice.Div(sellPrice)).Mul(oneHundred)
}

// Notional returns the market value of a quantity at a price. The result is
// always non-negative regardless of the quantity's sign.
func Notional(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty.Abs())
}

// WeightedAvgPrice returns total notional divided by total quantity, or zero
// when the quantity is zero.
func WeightedAvgPrice(totalNotional, totalQty decimal.Decimal) decimal.Decimal {
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(totalQty.Abs())
}

// CalculateNetProfit computes per-unit profit after trading fees
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}
