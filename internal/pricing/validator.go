package pricing

import (
	"context"

	"converter_strategy/internal/core"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// OracleValidator accepts a conversion when its output is within ToleranceBps of the oracle-implied output
type OracleValidator struct {
	book         core.IPriceBook
	toleranceBps int64
}

// NewOracleValidator creates a validator; toleranceBps is out of 10000
func NewOracleValidator(book core.IPriceBook, toleranceBps int64) *OracleValidator {
	return &OracleValidator{book: book, toleranceBps: toleranceBps}
}

// IsValid implements core.IConversionValidator
func (v *OracleValidator) IsValid(ctx context.Context, tokenIn, tokenOut string, amountIn, amountOut decimal.Decimal) (bool, error) {
	priceIn, err := v.book.GetPrice(ctx, tokenIn)
	if err != nil {
		return false, err
	}
	priceOut, err := v.book.GetPrice(ctx, tokenOut)
	if err != nil {
		return false, err
	}

	expected := tradingutils.Convert(amountIn, priceIn, priceOut, tradingutils.PriceDecimals)
	minOut := tradingutils.ApplyBps(expected, v.toleranceBps, tradingutils.PriceDecimals)
	return amountOut.GreaterThanOrEqual(minOut), nil
}
