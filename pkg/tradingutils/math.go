// Package tradingutils holds the fixed-point helpers shared by the engines.
// All divisions truncate toward zero at the requested number of places.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// PriceDecimals is the precision of prices and normalized (USD) costs.
const PriceDecimals int32 = 18

// Truncate cuts an amount to the given asset precision.
func Truncate(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Truncate(decimals)
}

// Div divides a by b truncating to places. Division by zero yields zero.
func Div(a, b decimal.Decimal, places int32) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, _ := a.QuoRem(b, places)
	return q
}

// DivUp divides a by b rounding away from zero to places.
func DivUp(a, b decimal.Decimal, places int32) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, r := a.QuoRem(b, places)
	if r.IsZero() {
		return q
	}
	step := decimal.New(1, -places)
	if a.Sign()*b.Sign() < 0 {
		return q.Sub(step)
	}
	return q.Add(step)
}

// MulDiv computes a*b/c with a single truncating division.
func MulDiv(a, b, c decimal.Decimal, places int32) decimal.Decimal {
	return Div(a.Mul(b), c, places)
}

// MulDivUp computes a*b/c rounding the single division up.
func MulDivUp(a, b, c decimal.Decimal, places int32) decimal.Decimal {
	return DivUp(a.Mul(b), c, places)
}

// Normalize converts an asset amount to its 18-decimal cost.
func Normalize(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Truncate(PriceDecimals)
}

// Denormalize converts an 18-decimal cost back to an asset amount.
func Denormalize(cost, price decimal.Decimal, decimals int32) decimal.Decimal {
	return Div(cost, price, decimals)
}

// DenormalizeUp converts a cost back to an amount, rounding up.
func DenormalizeUp(cost, price decimal.Decimal, decimals int32) decimal.Decimal {
	return DivUp(cost, price, decimals)
}

// Convert prices amountIn of one asset in units of another asset.
func Convert(amountIn, priceIn, priceOut decimal.Decimal, decimalsOut int32) decimal.Decimal {
	return MulDiv(amountIn, priceIn, priceOut, decimalsOut)
}

// ConvertUp is Convert with the final division rounded up.
func ConvertUp(amountIn, priceIn, priceOut decimal.Decimal, decimalsOut int32) decimal.Decimal {
	return MulDivUp(amountIn, priceIn, priceOut, decimalsOut)
}

// ApplyBps returns amount * (10000 - bps) / 10000 truncated to decimals.
func ApplyBps(amount decimal.Decimal, bps int64, decimals int32) decimal.Decimal {
	return MulDiv(amount, decimal.NewFromInt(10_000-bps), decimal.NewFromInt(10_000), decimals)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// PositiveOrZero clamps negative values to zero.
func PositiveOrZero(a decimal.Decimal) decimal.Decimal {
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}
