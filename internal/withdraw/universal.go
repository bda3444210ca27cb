package withdraw

import (
	"context"
	"fmt"

	"converter_strategy/internal/core"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// WithdrawUniversal exits just enough pool liquidity to cover the request at
// oracle value, adds the withdrawn amounts to AmountsToConvert and then makes
// the requested amount. Unlimited requests exit the whole position.
func (e *Engine) WithdrawUniversal(ctx context.Context, snap core.MarketSnapshot, req Request) (Result, error) {
	if e.depositor == nil {
		return Result{}, fmt.Errorf("%w: no pool position configured", apperrors.ErrInvalidRequest)
	}
	if err := validate(snap, req); err != nil {
		return Result{}, err
	}
	index := make(map[string]int, len(req.Assets))
	for i, a := range req.Assets {
		index[a] = i
	}
	poolAssets := e.depositor.Assets()
	for _, a := range poolAssets {
		if _, ok := index[a]; !ok {
			return Result{}, fmt.Errorf("%w: pool asset %s not in request", apperrors.ErrInvalidRequest, a)
		}
	}

	w := newWorking(snap)
	target := req.target()
	pTarget := w.snap.Prices[target]
	decTarget := w.snap.Assets[target].Decimals

	value := func(assets []string, amounts []decimal.Decimal) decimal.Decimal {
		total := decimal.Zero
		for i, a := range assets {
			if a == target {
				total = total.Add(amounts[i])
				continue
			}
			total = total.Add(tradingutils.Convert(amounts[i], w.snap.Prices[a], pTarget, decTarget))
		}
		return total
	}

	capped := make([]decimal.Decimal, len(req.Assets))
	for i, a := range req.Assets {
		if i == req.TargetIndex {
			capped[i] = w.balance(a)
			continue
		}
		capped[i] = tradingutils.Min(req.AmountsToConvert[i], w.balance(a))
	}
	walletValue := value(req.Assets, capped)

	amounts := append([]decimal.Decimal(nil), req.AmountsToConvert...)
	withdrawn := make([]decimal.Decimal, len(req.Assets))
	for i := range withdrawn {
		withdrawn[i] = decimal.Zero
	}

	if req.unlimited() || walletValue.LessThan(req.RequestedAmount) {
		total, err := e.depositor.Liquidity(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("pool liquidity: %w", err)
		}
		liquidity := total
		if !req.unlimited() && total.IsPositive() {
			all, err := e.depositor.QuoteExit(ctx, total)
			if err != nil {
				return Result{}, fmt.Errorf("quote pool exit: %w", err)
			}
			poolValue := value(poolAssets, all)
			if poolValue.IsPositive() {
				shortfall := req.RequestedAmount.Sub(walletValue)
				liquidity = tradingutils.Min(total, tradingutils.MulDivUp(total, shortfall, poolValue, tradingutils.PriceDecimals))
			}
		}

		if liquidity.IsPositive() {
			out, err := e.depositor.Exit(ctx, liquidity)
			if err != nil {
				return Result{}, fmt.Errorf("pool exit %s: %w", liquidity, err)
			}
			for j, a := range poolAssets {
				i := index[a]
				w.add(a, out[j])
				withdrawn[i] = out[j]
				if i != req.TargetIndex {
					amounts[i] = amounts[i].Add(out[j])
				}
				w.record(core.Operation{Kind: core.OperationPoolExit, AssetOut: a, AmountIn: liquidity, AmountOut: out[j]})
			}
			e.logger.Info("Exited pool", "liquidity", liquidity, "of", total)
		}
	}

	req.AmountsToConvert = amounts
	if err := e.makeRequestedAmount(ctx, w, req); err != nil {
		return Result{}, err
	}
	res := e.result(w, req)
	res.Withdrawn = withdrawn
	e.logger.Info("Withdrew universally",
		"target", target, "requested", req.RequestedAmount, "obtained", res.Obtained, "operations", len(res.Operations))
	return res, nil
}
