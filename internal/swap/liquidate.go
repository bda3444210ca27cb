// Package swap implements the quote, gate, swap and validate liquidation primitive
package swap

import (
	"context"
	"fmt"

	"converter_strategy/internal/core"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/telemetry"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Liquidator sells one asset for another through an ILiquidator and checks the result
type Liquidator struct {
	liquidator core.ILiquidator
	validator  core.IConversionValidator
	logger     core.ILogger
}

// NewLiquidator creates a Liquidator; a nil validator skips the oracle cross-check
func NewLiquidator(liquidator core.ILiquidator, validator core.IConversionValidator, logger core.ILogger) *Liquidator {
	return &Liquidator{
		liquidator: liquidator,
		validator:  validator,
		logger:     logger.WithField("component", "liquidator"),
	}
}

// Quote returns the expected output of a swap
func (l *Liquidator) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	out, err := l.liquidator.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s -> %s: %w", tokenIn, tokenOut, err)
	}
	return out, nil
}

// Liquidate swaps amountIn of tokenIn for tokenOut unless the quoted output is below threshold.
// It returns (0, 0) for a gated swap; balances are untouched in that case.
func (l *Liquidator) Liquidate(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal, slippageBps int64, threshold decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if tokenIn == tokenOut || !amountIn.IsPositive() {
		return decimal.Zero, decimal.Zero, nil
	}

	quoted, err := l.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if quoted.IsZero() || quoted.LessThan(threshold) {
		l.logger.Debug("Swap below threshold, skipped", "token_in", tokenIn, "token_out", tokenOut, "amount_in", amountIn, "quoted", quoted, "threshold", threshold)
		telemetry.GetGlobalMetrics().RecordSkip(ctx, "liquidation_threshold")
		return decimal.Zero, decimal.Zero, nil
	}

	received, err := l.liquidator.Swap(ctx, tokenIn, tokenOut, amountIn, slippageBps)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("swap %s %s -> %s: %w", amountIn, tokenIn, tokenOut, err)
	}

	minOut := tradingutils.ApplyBps(quoted, slippageBps, tradingutils.PriceDecimals)
	if received.LessThan(minOut) {
		return amountIn, received, fmt.Errorf("%w: %s -> %s received %s, quoted %s", apperrors.ErrPriceImpactTooHigh, tokenIn, tokenOut, received, quoted)
	}

	if l.validator != nil {
		ok, err := l.validator.IsValid(ctx, tokenIn, tokenOut, amountIn, received)
		if err != nil {
			return amountIn, received, fmt.Errorf("validate %s -> %s: %w", tokenIn, tokenOut, err)
		}
		if !ok {
			return amountIn, received, fmt.Errorf("%w: %s %s -> %s %s", apperrors.ErrPriceImpactTooHigh, amountIn, tokenIn, received, tokenOut)
		}
	}

	l.logger.Info("Liquidated", "token_in", tokenIn, "token_out", tokenOut, "amount_in", amountIn, "amount_out", received)
	return amountIn, received, nil
}
