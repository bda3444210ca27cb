package withdraw

import (
	"converter_strategy/internal/core"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// working is the engine's local view of balances and debts, updated from
// collaborator results instead of re-reading the market
type working struct {
	snap core.MarketSnapshot
	ops  []core.Operation
}

func newWorking(snap core.MarketSnapshot) *working {
	return &working{snap: snap.Clone()}
}

func (w *working) balance(asset string) decimal.Decimal {
	return w.snap.Balance(asset)
}

func (w *working) add(asset string, amount decimal.Decimal) {
	w.snap.Balances[asset] = w.snap.Balance(asset).Add(amount)
}

func (w *working) sub(asset string, amount decimal.Decimal) {
	w.snap.Balances[asset] = w.snap.Balance(asset).Sub(amount)
}

func (w *working) record(op core.Operation) {
	w.ops = append(w.ops, op)
}

func (w *working) debt(collateral, borrow string) core.DebtPosition {
	return w.snap.Debt(collateral, borrow)
}

// repaid applies a repayment to the local positions, oldest first
func (w *working) repaid(collateral, borrow string, amount decimal.Decimal) {
	dec := tradingutils.PriceDecimals
	if a, ok := w.snap.Assets[collateral]; ok {
		dec = a.Decimals
	}
	remaining := amount
	out := make([]core.DebtPosition, 0, len(w.snap.Debts))
	for _, p := range w.snap.Debts {
		if p.CollateralAsset != collateral || p.BorrowAsset != borrow || !remaining.IsPositive() {
			out = append(out, p)
			continue
		}
		take := tradingutils.Min(remaining, p.BorrowAmount)
		remaining = remaining.Sub(take)
		if take.Equal(p.BorrowAmount) {
			continue
		}
		p.CollateralAmount = p.CollateralAmount.Sub(tradingutils.MulDiv(p.CollateralAmount, take, p.BorrowAmount, dec))
		p.BorrowAmount = p.BorrowAmount.Sub(take)
		out = append(out, p)
	}
	w.snap.Debts = out
}

func (w *working) repayOp(borrow, collateral string, repaid, released decimal.Decimal) {
	w.record(core.Operation{Kind: core.OperationRepay, AssetIn: borrow, AssetOut: collateral, AmountIn: repaid, AmountOut: released})
}

func (w *working) swapOp(in, out string, spent, received decimal.Decimal) {
	w.record(core.Operation{Kind: core.OperationSwap, AssetIn: in, AssetOut: out, AmountIn: spent, AmountOut: received})
}
