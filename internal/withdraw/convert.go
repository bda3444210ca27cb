package withdraw

import (
	"context"
	"fmt"

	"converter_strategy/internal/core"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// ConvertRequest converts withdrawn secondary assets into the target asset
type ConvertRequest struct {
	Assets               []string          `json:"assets" yaml:"assets"`
	TargetIndex          int               `json:"target_index" yaml:"target_index"`
	AmountsToConvert     []decimal.Decimal `json:"amounts_to_convert" yaml:"amounts_to_convert"`
	LiquidationThreshold decimal.Decimal   `json:"liquidation_threshold" yaml:"liquidation_threshold"`
}

// ConvertResult reports collateral released plus swap proceeds in the target asset,
// and per asset the amount actually spent on repays and swaps
type ConvertResult struct {
	CollateralOut    decimal.Decimal   `json:"collateral_out"`
	RepaidAmountsOut []decimal.Decimal `json:"repaid_amounts_out"`
	Operations       []core.Operation  `json:"operations"`
}

// ConvertAfterWithdraw repays target-backed debts with each secondary amount and
// liquidates what is left. Leftovers quoting below LiquidationThreshold stay on the wallet.
func (e *Engine) ConvertAfterWithdraw(ctx context.Context, snap core.MarketSnapshot, req ConvertRequest) (ConvertResult, error) {
	if err := validate(snap, Request{Assets: req.Assets, TargetIndex: req.TargetIndex, AmountsToConvert: req.AmountsToConvert}); err != nil {
		return ConvertResult{}, err
	}
	if req.LiquidationThreshold.IsNegative() {
		return ConvertResult{}, fmt.Errorf("%w: negative liquidation threshold", apperrors.ErrInvalidRequest)
	}

	w := newWorking(snap)
	target := req.Assets[req.TargetIndex]
	res := ConvertResult{
		CollateralOut:    decimal.Zero,
		RepaidAmountsOut: make([]decimal.Decimal, len(req.Assets)),
	}
	for i, sec := range req.Assets {
		res.RepaidAmountsOut[i] = decimal.Zero
		if i == req.TargetIndex {
			continue
		}
		left := tradingutils.Min(req.AmountsToConvert[i], w.balance(sec))
		if !left.IsPositive() {
			continue
		}

		debt := w.debt(target, sec)
		if debt.BorrowAmount.IsPositive() {
			before := w.balance(target)
			repaid, err := e.repay(ctx, w, target, sec, tradingutils.Min(left, debt.BorrowAmount), decimal.Zero)
			if err != nil {
				return ConvertResult{}, err
			}
			res.CollateralOut = res.CollateralOut.Add(w.balance(target).Sub(before))
			res.RepaidAmountsOut[i] = repaid
			left = left.Sub(repaid)
		}
		if !left.IsPositive() {
			continue
		}

		spent, received, err := e.liquidator.Liquidate(ctx, sec, target, left, e.slippageBps, req.LiquidationThreshold)
		if err != nil {
			return ConvertResult{}, err
		}
		if spent.IsPositive() {
			w.sub(sec, spent)
			w.add(target, received)
			w.swapOp(sec, target, spent, received)
			res.CollateralOut = res.CollateralOut.Add(received)
			res.RepaidAmountsOut[i] = res.RepaidAmountsOut[i].Add(spent)
		}
	}
	res.Operations = w.ops
	e.logger.Info("Converted after withdraw", "target", target, "collateral_out", res.CollateralOut, "operations", len(res.Operations))
	return res, nil
}

// CloseRequest sells main asset to repay a debt of secondary backed by main
type CloseRequest struct {
	MainAsset            string          `json:"main_asset" yaml:"main_asset"`
	SecondaryAsset       string          `json:"secondary_asset" yaml:"secondary_asset"`
	AmountToSell         decimal.Decimal `json:"amount_to_sell" yaml:"amount_to_sell"`
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold" yaml:"liquidation_threshold"`
}

// CloseResult is the net main asset gained; zero when nothing was executed
type CloseResult struct {
	ExpectedAmountOut decimal.Decimal  `json:"expected_amount_out"`
	Operations        []core.Operation `json:"operations"`
}

// ClosePositionUsingMainAsset buys back secondary debt with main asset when the
// released collateral exceeds the main asset sold. Unprofitable or sub-threshold
// closes execute nothing.
func (e *Engine) ClosePositionUsingMainAsset(ctx context.Context, snap core.MarketSnapshot, req CloseRequest) (CloseResult, error) {
	if req.MainAsset == "" || req.MainAsset == req.SecondaryAsset {
		return CloseResult{}, fmt.Errorf("%w: assets %q and %q", apperrors.ErrInvalidRequest, req.MainAsset, req.SecondaryAsset)
	}
	if req.AmountToSell.IsNegative() || req.LiquidationThreshold.IsNegative() {
		return CloseResult{}, fmt.Errorf("%w: negative amount or threshold", apperrors.ErrInvalidRequest)
	}
	for _, a := range []string{req.MainAsset, req.SecondaryAsset} {
		if _, err := snap.Asset(a); err != nil {
			return CloseResult{}, err
		}
	}

	w := newWorking(snap)
	out, err := e.closePosition(ctx, w, req.MainAsset, req.SecondaryAsset, tradingutils.Min(req.AmountToSell, w.balance(req.MainAsset)), req.LiquidationThreshold)
	if err != nil {
		return CloseResult{}, err
	}
	return CloseResult{ExpectedAmountOut: out, Operations: w.ops}, nil
}

func (e *Engine) closePosition(ctx context.Context, w *working, main, secondary string, amountToSell, threshold decimal.Decimal) (decimal.Decimal, error) {
	if !amountToSell.IsPositive() || amountToSell.LessThan(threshold) {
		return decimal.Zero, nil
	}
	debt := w.debt(main, secondary)
	if !debt.BorrowAmount.IsPositive() {
		return decimal.Zero, nil
	}

	bought, err := e.liquidator.Quote(ctx, main, secondary, amountToSell)
	if err != nil {
		return decimal.Zero, err
	}
	if bought.GreaterThan(debt.BorrowAmount) {
		pMain, err := w.snap.Price(main)
		if err != nil {
			return decimal.Zero, err
		}
		pSec, err := w.snap.Price(secondary)
		if err != nil {
			return decimal.Zero, err
		}
		amountToSell = tradingutils.Min(amountToSell, tradingutils.ConvertUp(debt.BorrowAmount, pSec, pMain, w.snap.Assets[main].Decimals))
		if bought, err = e.liquidator.Quote(ctx, main, secondary, amountToSell); err != nil {
			return decimal.Zero, err
		}
	}

	// Judge the close on the least the swap may deliver
	worst := tradingutils.ApplyBps(bought, e.slippageBps, w.snap.Assets[secondary].Decimals)
	released, err := e.repayer.QuoteRepay(ctx, main, secondary, tradingutils.Min(worst, debt.BorrowAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote repay %s/%s: %w", main, secondary, err)
	}
	if released.LessThanOrEqual(amountToSell) {
		e.logger.Debug("Closing position is unprofitable, skipped",
			"main", main, "secondary", secondary, "to_sell", amountToSell, "collateral_out", released)
		return decimal.Zero, nil
	}

	spent, received, err := e.liquidator.Liquidate(ctx, main, secondary, amountToSell, e.slippageBps, decimal.Zero)
	if err != nil {
		return decimal.Zero, err
	}
	if !spent.IsPositive() {
		return decimal.Zero, nil
	}
	w.sub(main, spent)
	w.add(secondary, received)
	w.swapOp(main, secondary, spent, received)

	repayAmount := tradingutils.Min(received, debt.BorrowAmount)
	if released, err = e.repayer.QuoteRepay(ctx, main, secondary, repayAmount); err != nil {
		return decimal.Zero, fmt.Errorf("quote repay %s/%s: %w", main, secondary, err)
	}
	if released.LessThanOrEqual(spent) {
		return decimal.Zero, fmt.Errorf("%w: closing %s/%s releases %s %s for %s spent",
			apperrors.ErrPriceImpactTooHigh, main, secondary, released, main, spent)
	}

	before := w.balance(main)
	if _, err := e.repay(ctx, w, main, secondary, repayAmount, decimal.Zero); err != nil {
		return decimal.Zero, err
	}
	collateralOut := w.balance(main).Sub(before)
	return tradingutils.PositiveOrZero(collateralOut.Sub(spent)), nil
}
