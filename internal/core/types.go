package core

import (
	"fmt"

	apperrors "converter_strategy/pkg/errors"

	"github.com/shopspring/decimal"
)

// SumProportions is the denominator of a Proportion.
const SumProportions int64 = 100_000

// Asset is a tracked token and its precision
type Asset struct {
	Symbol   string
	Decimals int32
}

// Proportion is the target share of the first asset of a pair, out of SumProportions
type Proportion int64

// Valid reports whether the proportion lies in [0, SumProportions]
func (p Proportion) Valid() bool {
	return p >= 0 && int64(p) <= SumProportions
}

// Shares returns the (first, second) shares as decimals
func (p Proportion) Shares() (decimal.Decimal, decimal.Decimal) {
	return decimal.NewFromInt(int64(p)), decimal.NewFromInt(SumProportions - int64(p))
}

// DebtPosition is an open borrow where CollateralAsset backs a loan in BorrowAsset
type DebtPosition struct {
	CollateralAsset  string          `json:"collateral_asset" yaml:"collateral_asset"`
	BorrowAsset      string          `json:"borrow_asset" yaml:"borrow_asset"`
	CollateralAmount decimal.Decimal `json:"collateral_amount" yaml:"collateral_amount"`
	BorrowAmount     decimal.Decimal `json:"borrow_amount" yaml:"borrow_amount"`
	ConverterID      string          `json:"converter_id" yaml:"converter_id"`
}

// BorrowCandidate is one lending platform's offer for a collateral amount
type BorrowCandidate struct {
	PlatformID       string
	CollateralAmount decimal.Decimal // max collateral the platform accepts for the requested amount
	BorrowAmount     decimal.Decimal // amount borrowed against CollateralAmount
	APR              decimal.Decimal
}

// OperationKind enumerates executed collaborator calls
type OperationKind string

const (
	OperationRepay    OperationKind = "repay"
	OperationBorrow   OperationKind = "borrow"
	OperationSwap     OperationKind = "swap"
	OperationPoolExit OperationKind = "pool_exit"
)

// Operation records one executed, balance-mutating call
type Operation struct {
	Kind      OperationKind   `json:"kind"`
	AssetIn   string          `json:"asset_in"`
	AssetOut  string          `json:"asset_out"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Platform  string          `json:"platform,omitempty"`
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s %s -> %s %s", o.Kind, o.AmountIn, o.AssetIn, o.AmountOut, o.AssetOut)
}

// MarketSnapshot is the read-only view of prices, balances and debts an engine call works on
type MarketSnapshot struct {
	Assets   map[string]Asset
	Prices   map[string]decimal.Decimal
	Balances map[string]decimal.Decimal
	Debts    []DebtPosition
}

// Asset returns the registered asset
func (s MarketSnapshot) Asset(symbol string) (Asset, error) {
	a, ok := s.Assets[symbol]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownAsset, symbol)
	}
	return a, nil
}

// Price returns the 18-decimal price of an asset
func (s MarketSnapshot) Price(symbol string) (decimal.Decimal, error) {
	p, ok := s.Prices[symbol]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrPriceUnavailable, symbol)
	}
	return p, nil
}

// Balance returns the wallet balance of an asset (zero if unknown)
func (s MarketSnapshot) Balance(symbol string) decimal.Decimal {
	return s.Balances[symbol]
}

// Debt aggregates all positions where collateral backs a loan in borrow
func (s MarketSnapshot) Debt(collateral, borrow string) DebtPosition {
	total := DebtPosition{
		CollateralAsset:  collateral,
		BorrowAsset:      borrow,
		CollateralAmount: decimal.Zero,
		BorrowAmount:     decimal.Zero,
	}
	for _, p := range s.Debts {
		if p.CollateralAsset == collateral && p.BorrowAsset == borrow {
			total.CollateralAmount = total.CollateralAmount.Add(p.CollateralAmount)
			total.BorrowAmount = total.BorrowAmount.Add(p.BorrowAmount)
		}
	}
	return total
}

// DebtsBorrowing returns aggregated debts where the asset is the borrowed side, in collateral order of first appearance
func (s MarketSnapshot) DebtsBorrowing(borrow string) []DebtPosition {
	var order []string
	seen := make(map[string]bool)
	for _, p := range s.Debts {
		if p.BorrowAsset == borrow && !seen[p.CollateralAsset] {
			seen[p.CollateralAsset] = true
			order = append(order, p.CollateralAsset)
		}
	}
	out := make([]DebtPosition, 0, len(order))
	for _, c := range order {
		out = append(out, s.Debt(c, borrow))
	}
	return out
}

// Clone returns a deep copy so engines can keep working balances
func (s MarketSnapshot) Clone() MarketSnapshot {
	c := MarketSnapshot{
		Assets:   make(map[string]Asset, len(s.Assets)),
		Prices:   make(map[string]decimal.Decimal, len(s.Prices)),
		Balances: make(map[string]decimal.Decimal, len(s.Balances)),
		Debts:    append([]DebtPosition(nil), s.Debts...),
	}
	for k, v := range s.Assets {
		c.Assets[k] = v
	}
	for k, v := range s.Prices {
		c.Prices[k] = v
	}
	for k, v := range s.Balances {
		c.Balances[k] = v
	}
	return c
}
