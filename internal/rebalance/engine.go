// Package rebalance moves a two-asset wallet toward a target value proportion
// by repaying, borrowing and swapping between the two assets.
package rebalance

import (
	"context"
	"fmt"

	"converter_strategy/internal/converter"
	"converter_strategy/internal/core"
	"converter_strategy/internal/swap"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/telemetry"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Request is one rebalance call
type Request struct {
	TokenX     string          `json:"token_x" yaml:"token_x"`
	TokenY     string          `json:"token_y" yaml:"token_y"`
	Proportion core.Proportion `json:"proportion" yaml:"proportion"`
	ThresholdX decimal.Decimal `json:"threshold_x" yaml:"threshold_x"`
	ThresholdY decimal.Decimal `json:"threshold_y" yaml:"threshold_y"`
	// AdditionX is set aside on the wallet before rebalancing the rest
	AdditionX decimal.Decimal `json:"addition_x" yaml:"addition_x"`
}

// Result holds wallet balances after all operations settled
type Result struct {
	BalanceX   decimal.Decimal  `json:"balance_x"`
	BalanceY   decimal.Decimal  `json:"balance_y"`
	Reserved   decimal.Decimal  `json:"reserved"`
	Operations []core.Operation `json:"operations"`
}

// Engine computes and executes rebalance operations
type Engine struct {
	repayer     core.IRepayer
	planner     *converter.Planner
	liquidator  *swap.Liquidator
	slippageBps int64
	logger      core.ILogger
}

// NewEngine creates a rebalance engine
func NewEngine(repayer core.IRepayer, planner *converter.Planner, liquidator *swap.Liquidator, slippageBps int64, logger core.ILogger) *Engine {
	return &Engine{
		repayer:     repayer,
		planner:     planner,
		liquidator:  liquidator,
		slippageBps: slippageBps,
		logger:      logger.WithField("component", "rebalance_engine"),
	}
}

// side is one asset of the pair with its working balance
type side struct {
	asset     core.Asset
	price     decimal.Decimal
	balance   decimal.Decimal
	threshold decimal.Decimal
	share     decimal.Decimal
}

func (s *side) cost() decimal.Decimal {
	return tradingutils.Normalize(s.balance, s.price)
}

func (e *Engine) validate(snap core.MarketSnapshot, req Request) (*side, *side, error) {
	if req.TokenX == "" || req.TokenY == "" || req.TokenX == req.TokenY {
		return nil, nil, fmt.Errorf("%w: tokens %q and %q", apperrors.ErrInvalidRequest, req.TokenX, req.TokenY)
	}
	if !req.Proportion.Valid() {
		return nil, nil, fmt.Errorf("%w: %d", apperrors.ErrInvalidProportion, req.Proportion)
	}
	if req.ThresholdX.IsNegative() || req.ThresholdY.IsNegative() || req.AdditionX.IsNegative() {
		return nil, nil, fmt.Errorf("%w: negative threshold or addition", apperrors.ErrInvalidRequest)
	}
	shareX, shareY := req.Proportion.Shares()

	build := func(symbol string, threshold, share decimal.Decimal) (*side, error) {
		a, err := snap.Asset(symbol)
		if err != nil {
			return nil, err
		}
		p, err := snap.Price(symbol)
		if err != nil {
			return nil, err
		}
		return &side{asset: a, price: p, balance: snap.Balance(symbol), threshold: threshold, share: share}, nil
	}
	x, err := build(req.TokenX, req.ThresholdX, shareX)
	if err != nil {
		return nil, nil, err
	}
	y, err := build(req.TokenY, req.ThresholdY, shareY)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// Rebalance brings cost(X) : cost(Y) to Proportion : (SumProportions - Proportion).
// Operations below their asset's threshold are skipped and leave balances unchanged.
func (e *Engine) Rebalance(ctx context.Context, snap core.MarketSnapshot, req Request) (Result, error) {
	x, y, err := e.validate(snap, req)
	if err != nil {
		return Result{}, err
	}

	var ops []core.Operation

	// Set the addition aside, swapping Y into X first if the wallet lacks it
	reserve := decimal.Zero
	if req.AdditionX.IsPositive() {
		if x.balance.LessThan(req.AdditionX) {
			need := req.AdditionX.Sub(x.balance)
			amountY := tradingutils.Min(y.balance, tradingutils.ConvertUp(need, x.price, y.price, y.asset.Decimals))
			if amountY.LessThan(y.threshold) {
				e.logger.Debug("Addition swap below threshold, skipped", "asset", y.asset.Symbol, "amount", amountY, "threshold", y.threshold)
				telemetry.GetGlobalMetrics().RecordSkip(ctx, "liquidation_threshold")
			} else {
				spent, received, err := e.liquidator.Liquidate(ctx, y.asset.Symbol, x.asset.Symbol, amountY, e.slippageBps, x.threshold)
				if err != nil {
					return Result{}, fmt.Errorf("liquidate addition: %w", err)
				}
				if spent.IsPositive() {
					y.balance = y.balance.Sub(spent)
					x.balance = x.balance.Add(received)
					ops = append(ops, swapOp(y.asset.Symbol, x.asset.Symbol, spent, received))
				}
			}
		}
		reserve = tradingutils.Min(req.AdditionX, x.balance)
		x.balance = x.balance.Sub(reserve)
	}

	repaidFully := false
	for step := 0; step < 2; step++ {
		excessX := x.cost().Mul(y.share).Sub(y.cost().Mul(x.share))
		if excessX.IsZero() {
			break
		}
		// Value flows from the over-weighted side a to b
		a, b := x, y
		excess := excessX
		if excessX.IsNegative() {
			a, b = y, x
			excess = excessX.Neg()
		}

		debt := snap.Debt(b.asset.Symbol, a.asset.Symbol)
		if !repaidFully && debt.BorrowAmount.IsPositive() {
			newOps, full, err := e.shrinkDebt(ctx, snap, a, b, debt, excess)
			if err != nil {
				return Result{}, err
			}
			ops = append(ops, newOps...)
			if !full {
				break
			}
			repaidFully = true
			continue
		}

		newOps, err := e.growDebt(ctx, snap, a, b, excess)
		if err != nil {
			return Result{}, err
		}
		ops = append(ops, newOps...)
		break
	}

	// The reserved addition never left the wallet
	res := Result{BalanceX: x.balance.Add(reserve), BalanceY: y.balance, Reserved: reserve, Operations: ops}
	e.logger.Info("Rebalanced",
		"token_x", x.asset.Symbol, "token_y", y.asset.Symbol,
		"balance_x", res.BalanceX, "balance_y", res.BalanceY, "operations", len(ops))
	return res, nil
}

// shrinkDebt repays the debt of a borrowed against b collateral by the amount that balances the pair.
// It reports whether the whole debt was repaid.
func (e *Engine) shrinkDebt(ctx context.Context, snap core.MarketSnapshot, a, b *side, debt core.DebtPosition, excess decimal.Decimal) ([]core.Operation, bool, error) {
	amount := repaySize(snap, a, b, excess)
	amount = tradingutils.Min(amount, debt.BorrowAmount)
	amount = tradingutils.Min(amount, a.balance)

	if !amount.IsPositive() || amount.LessThan(a.threshold) {
		e.logger.Debug("Repay below threshold, skipped", "asset", a.asset.Symbol, "amount", amount, "threshold", a.threshold)
		telemetry.GetGlobalMetrics().RecordSkip(ctx, "repay_threshold")
		return nil, false, nil
	}

	collateralOut, err := e.repayer.Repay(ctx, b.asset.Symbol, a.asset.Symbol, amount)
	if err != nil {
		return nil, false, fmt.Errorf("repay %s %s: %w", amount, a.asset.Symbol, err)
	}
	a.balance = a.balance.Sub(amount)
	b.balance = b.balance.Add(collateralOut)
	e.logger.Info("Repaid debt", "borrow_asset", a.asset.Symbol, "repaid", amount, "collateral_out", collateralOut)

	op := core.Operation{
		Kind:      core.OperationRepay,
		AssetIn:   a.asset.Symbol,
		AssetOut:  b.asset.Symbol,
		AmountIn:  amount,
		AmountOut: collateralOut,
	}
	return []core.Operation{op}, amount.Equal(debt.BorrowAmount), nil
}

// repaySize walks the a-borrowed, b-collateralized positions oldest first, as the repayer
// settles them, and returns the a amount whose repayment balances the pair. Repaying cost r
// of a position moves r*shareB out of a and r*collateral/debt*shareA into b.
func repaySize(snap core.MarketSnapshot, a, b *side, excess decimal.Decimal) decimal.Decimal {
	amount := decimal.Zero
	for _, p := range snap.Debts {
		if p.CollateralAsset != b.asset.Symbol || p.BorrowAsset != a.asset.Symbol || !p.BorrowAmount.IsPositive() {
			continue
		}
		debtCost := tradingutils.Normalize(p.BorrowAmount, a.price)
		collateralCost := tradingutils.Normalize(p.CollateralAmount, b.price)
		den := b.share.Mul(debtCost).Add(a.share.Mul(collateralCost))
		repayCost := tradingutils.MulDiv(excess, debtCost, den, tradingutils.PriceDecimals)
		if repayCost.LessThan(debtCost) {
			return amount.Add(tradingutils.Denormalize(repayCost, a.price, a.asset.Decimals))
		}
		amount = amount.Add(p.BorrowAmount)
		if excess = excess.Sub(den); !excess.IsPositive() {
			break
		}
	}
	return amount
}

// growDebt locks part of a as collateral and borrows b with a proportional split
func (e *Engine) growDebt(ctx context.Context, snap core.MarketSnapshot, a, b *side, excess decimal.Decimal) ([]core.Operation, error) {
	total := tradingutils.Denormalize(tradingutils.Div(excess, b.share, tradingutils.PriceDecimals), a.price, a.asset.Decimals)
	total = tradingutils.Min(total, a.balance)
	if !total.IsPositive() {
		return nil, nil
	}

	res, err := e.planner.Open(ctx, snap, converter.OpenRequest{
		CollateralAsset:     a.asset.Symbol,
		BorrowAsset:         b.asset.Symbol,
		Kind:                converter.ProportionalSplit{P0: a.share.IntPart(), P1: b.share.IntPart()},
		AmountIn:            total,
		CollateralThreshold: a.threshold,
		BorrowThreshold:     b.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("borrow %s against %s: %w", b.asset.Symbol, a.asset.Symbol, err)
	}
	a.balance = a.balance.Sub(res.Collateral)
	b.balance = b.balance.Add(res.Borrowed)
	return res.Operations, nil
}

func swapOp(in, out string, spent, received decimal.Decimal) core.Operation {
	return core.Operation{Kind: core.OperationSwap, AssetIn: in, AssetOut: out, AmountIn: spent, AmountOut: received}
}
