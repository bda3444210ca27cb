// Package withdraw gathers a requested amount of a target asset from wallet
// balances, debt positions and the pool, in asset list order.
package withdraw

import (
	"context"
	"fmt"

	"converter_strategy/internal/core"
	"converter_strategy/internal/swap"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// MaxAmount requests as much of the target asset as possible
var MaxAmount = decimal.RequireFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")

// Request is one withdrawal call
type Request struct {
	Assets           []string          `json:"assets" yaml:"assets"`
	TargetIndex      int               `json:"target_index" yaml:"target_index"`
	AmountsToConvert []decimal.Decimal `json:"amounts_to_convert" yaml:"amounts_to_convert"`
	RequestedAmount  decimal.Decimal   `json:"requested_amount" yaml:"requested_amount"`
	Unlimited        bool              `json:"unlimited" yaml:"unlimited"`
	// Thresholds are per-asset minimum operation amounts; missing assets have none
	Thresholds map[string]decimal.Decimal `json:"thresholds,omitempty" yaml:"thresholds"`
}

func (r Request) target() string {
	return r.Assets[r.TargetIndex]
}

func (r Request) unlimited() bool {
	return r.Unlimited || r.RequestedAmount.GreaterThanOrEqual(MaxAmount)
}

func (r Request) threshold(asset string) decimal.Decimal {
	return r.Thresholds[asset]
}

// Result of a withdrawal call
type Result struct {
	// Obtained is the target asset wallet balance after all operations
	Obtained decimal.Decimal `json:"obtained"`
	// Balances are the final wallet balances of the request assets
	Balances   map[string]decimal.Decimal `json:"balances"`
	Withdrawn  []decimal.Decimal          `json:"withdrawn,omitempty"`
	Operations []core.Operation           `json:"operations"`
}

// Engine computes and executes withdrawal operations
type Engine struct {
	repayer     core.IRepayer
	liquidator  *swap.Liquidator
	depositor   core.IDepositor
	slippageBps int64
	logger      core.ILogger
}

// NewEngine creates a withdrawal engine; depositor may be nil when no pool position exists
func NewEngine(repayer core.IRepayer, liquidator *swap.Liquidator, depositor core.IDepositor, slippageBps int64, logger core.ILogger) *Engine {
	return &Engine{
		repayer:     repayer,
		liquidator:  liquidator,
		depositor:   depositor,
		slippageBps: slippageBps,
		logger:      logger.WithField("component", "withdraw_engine"),
	}
}

func validate(snap core.MarketSnapshot, req Request) error {
	if len(req.Assets) == 0 || len(req.Assets) != len(req.AmountsToConvert) {
		return fmt.Errorf("%w: %d assets, %d amounts to convert", apperrors.ErrInvalidRequest, len(req.Assets), len(req.AmountsToConvert))
	}
	if req.TargetIndex < 0 || req.TargetIndex >= len(req.Assets) {
		return fmt.Errorf("%w: target index %d", apperrors.ErrInvalidRequest, req.TargetIndex)
	}
	if req.RequestedAmount.IsNegative() {
		return fmt.Errorf("%w: negative requested amount", apperrors.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Assets))
	for i, a := range req.Assets {
		if seen[a] {
			return fmt.Errorf("%w: duplicate asset %s", apperrors.ErrInvalidRequest, a)
		}
		seen[a] = true
		if req.AmountsToConvert[i].IsNegative() {
			return fmt.Errorf("%w: negative amount to convert for %s", apperrors.ErrInvalidRequest, a)
		}
		if _, err := snap.Asset(a); err != nil {
			return err
		}
		if _, err := snap.Price(a); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) result(w *working, req Request) Result {
	balances := make(map[string]decimal.Decimal, len(req.Assets))
	for _, a := range req.Assets {
		balances[a] = w.balance(a)
	}
	return Result{Obtained: w.balance(req.target()), Balances: balances, Operations: w.ops}
}

// MakeRequestedAmount converts secondary assets into the target asset until its
// wallet balance covers RequestedAmount. Falling short is not an error: Obtained
// reports what the wallet holds.
func (e *Engine) MakeRequestedAmount(ctx context.Context, snap core.MarketSnapshot, req Request) (Result, error) {
	if err := validate(snap, req); err != nil {
		return Result{}, err
	}
	w := newWorking(snap)
	if err := e.makeRequestedAmount(ctx, w, req); err != nil {
		return Result{}, err
	}
	res := e.result(w, req)
	e.logger.Info("Requested amount processed",
		"target", req.target(), "requested", req.RequestedAmount, "unlimited", req.unlimited(),
		"obtained", res.Obtained, "operations", len(res.Operations))
	return res, nil
}

func (e *Engine) makeRequestedAmount(ctx context.Context, w *working, req Request) error {
	target := req.target()
	unlimited := req.unlimited()
	satisfied := func() bool {
		return !unlimited && w.balance(target).GreaterThanOrEqual(req.RequestedAmount)
	}
	need := func() decimal.Decimal {
		return tradingutils.PositiveOrZero(req.RequestedAmount.Sub(w.balance(target)))
	}

	if satisfied() {
		return nil
	}

	available := make([]decimal.Decimal, len(req.Assets))
	for i, a := range req.Assets {
		available[i] = tradingutils.Min(req.AmountsToConvert[i], w.balance(a))
	}

	for i, sec := range req.Assets {
		if satisfied() {
			break
		}
		if i == req.TargetIndex || !available[i].IsPositive() {
			continue
		}

		// Debt backed by the target: repaying releases target directly
		spent, err := e.repayTargetDebt(ctx, w, req, sec, available[i], unlimited, need)
		if err != nil {
			return err
		}
		available[i] = available[i].Sub(spent)

		// Debts backed by a third asset: repay, then sell the released collateral
		for _, debt := range w.snap.DebtsBorrowing(sec) {
			if satisfied() || !available[i].IsPositive() {
				break
			}
			if debt.CollateralAsset == target {
				continue
			}
			spent, err := e.repayThirdAssetDebt(ctx, w, req, sec, debt, available[i], unlimited, need)
			if err != nil {
				return err
			}
			available[i] = available[i].Sub(spent)
		}

		if satisfied() || !available[i].IsPositive() {
			continue
		}
		amountIn := available[i]
		if !unlimited {
			quoted, err := e.liquidator.Quote(ctx, sec, target, amountIn)
			if err != nil {
				return err
			}
			if quoted.GreaterThan(need()) {
				amountIn = tradingutils.Min(amountIn, tradingutils.MulDivUp(amountIn, need(), quoted, w.snap.Assets[sec].Decimals))
			}
		}
		spent, received, err := e.liquidator.Liquidate(ctx, sec, target, amountIn, e.slippageBps, req.threshold(target))
		if err != nil {
			return err
		}
		if spent.IsPositive() {
			w.sub(sec, spent)
			w.add(target, received)
			w.swapOp(sec, target, spent, received)
			available[i] = available[i].Sub(spent)
		}
	}

	if satisfied() {
		return nil
	}

	// Still short: sell target to close target-backed positions when that releases more than it costs
	for i, sec := range req.Assets {
		if satisfied() {
			break
		}
		if i == req.TargetIndex {
			continue
		}
		debt := w.debt(target, sec)
		if !debt.BorrowAmount.IsPositive() {
			continue
		}
		toSell, err := e.sellAmountForDebt(w, target, sec, debt)
		if err != nil {
			return err
		}
		if _, err := e.closePosition(ctx, w, target, sec, toSell, req.threshold(target)); err != nil {
			return err
		}
	}
	return nil
}

// repayTargetDebt repays sec borrowed against target and returns the sec amount spent
func (e *Engine) repayTargetDebt(ctx context.Context, w *working, req Request, sec string, available decimal.Decimal, unlimited bool, need func() decimal.Decimal) (decimal.Decimal, error) {
	target := req.target()
	debt := w.debt(target, sec)
	if !debt.BorrowAmount.IsPositive() {
		return decimal.Zero, nil
	}
	amount := tradingutils.Min(available, debt.BorrowAmount)
	if !unlimited {
		quoted, err := e.repayer.QuoteRepay(ctx, target, sec, amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("quote repay %s/%s: %w", target, sec, err)
		}
		if quoted.GreaterThan(need()) {
			amount = tradingutils.Min(amount, tradingutils.MulDivUp(amount, need(), quoted, w.snap.Assets[sec].Decimals))
		}
	}
	return e.repay(ctx, w, target, sec, amount, req.threshold(sec))
}

// repayThirdAssetDebt repays sec borrowed against a third asset and sells the released collateral for target
func (e *Engine) repayThirdAssetDebt(ctx context.Context, w *working, req Request, sec string, debt core.DebtPosition, available decimal.Decimal, unlimited bool, need func() decimal.Decimal) (decimal.Decimal, error) {
	target := req.target()
	collateral := debt.CollateralAsset
	amount := tradingutils.Min(available, debt.BorrowAmount)
	if !unlimited {
		released, err := e.repayer.QuoteRepay(ctx, collateral, sec, amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("quote repay %s/%s: %w", collateral, sec, err)
		}
		proceeds, err := e.liquidator.Quote(ctx, collateral, target, released)
		if err != nil {
			return decimal.Zero, err
		}
		if proceeds.GreaterThan(need()) {
			amount = tradingutils.Min(amount, tradingutils.MulDivUp(amount, need(), proceeds, w.snap.Assets[sec].Decimals))
		}
	}

	before := w.balance(collateral)
	spent, err := e.repay(ctx, w, collateral, sec, amount, req.threshold(sec))
	if err != nil || !spent.IsPositive() {
		return spent, err
	}
	released := w.balance(collateral).Sub(before)

	sold, received, err := e.liquidator.Liquidate(ctx, collateral, target, released, e.slippageBps, req.threshold(target))
	if err != nil {
		return decimal.Zero, err
	}
	if sold.IsPositive() {
		w.sub(collateral, sold)
		w.add(target, received)
		w.swapOp(collateral, target, sold, received)
	}
	return spent, nil
}

// repay executes a repayment unless amount is below threshold; it returns the amount repaid
func (e *Engine) repay(ctx context.Context, w *working, collateral, borrow string, amount, threshold decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() || amount.LessThan(threshold) {
		e.logger.Debug("Repay below threshold, skipped", "borrow_asset", borrow, "amount", amount, "threshold", threshold)
		return decimal.Zero, nil
	}
	released, err := e.repayer.Repay(ctx, collateral, borrow, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("repay %s %s against %s: %w", amount, borrow, collateral, err)
	}
	w.sub(borrow, amount)
	w.add(collateral, released)
	w.repaid(collateral, borrow, amount)
	w.repayOp(borrow, collateral, amount, released)
	e.logger.Info("Repaid debt", "borrow_asset", borrow, "collateral_asset", collateral, "repaid", amount, "released", released)
	return amount, nil
}

// sellAmountForDebt is the main asset needed to buy back the whole debt, bounded by the wallet
func (e *Engine) sellAmountForDebt(w *working, main, secondary string, debt core.DebtPosition) (decimal.Decimal, error) {
	pMain, err := w.snap.Price(main)
	if err != nil {
		return decimal.Zero, err
	}
	pSec, err := w.snap.Price(secondary)
	if err != nil {
		return decimal.Zero, err
	}
	cost := tradingutils.ConvertUp(debt.BorrowAmount, pSec, pMain, w.snap.Assets[main].Decimals)
	return tradingutils.Min(cost, w.balance(main)), nil
}
