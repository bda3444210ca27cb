// Package converter sizes and opens borrow positions across lending platforms
package converter

import (
	"fmt"

	"converter_strategy/internal/core"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Quote is one platform's collateral/borrow offer in amounts and 18-decimal costs
type Quote struct {
	CollateralAmount   decimal.Decimal
	BorrowAmount       decimal.Decimal
	CollateralCost     decimal.Decimal
	BorrowCost         decimal.Decimal
	CollateralDecimals int32
}

// NewQuote values a candidate at the given prices
func NewQuote(c core.BorrowCandidate, collateralPrice, borrowPrice decimal.Decimal, collateralDecimals int32) Quote {
	return Quote{
		CollateralAmount:   c.CollateralAmount,
		BorrowAmount:       c.BorrowAmount,
		CollateralCost:     tradingutils.Normalize(c.CollateralAmount, collateralPrice),
		BorrowCost:         tradingutils.Normalize(c.BorrowAmount, borrowPrice),
		CollateralDecimals: collateralDecimals,
	}
}

// BorrowFor returns the amount borrowed against collateral at the quote's ratio
func (q Quote) BorrowFor(collateral decimal.Decimal, borrowDecimals int32) decimal.Decimal {
	return tradingutils.MulDiv(collateral, q.BorrowAmount, q.CollateralAmount, borrowDecimals)
}

// EntryKind selects how an input amount is turned into a borrow position
type EntryKind interface {
	Kind() int
	// Collateral returns the collateral to lock for amountIn
	Collateral(amountIn decimal.Decimal, q Quote) decimal.Decimal
	// Consumed returns how much input a capped collateral uses up
	Consumed(collateral decimal.Decimal, q Quote) decimal.Decimal
	// Remainder returns the kind to apply on the next platform after borrowing borrowed
	Remainder(borrowed decimal.Decimal) EntryKind
	String() string
}

// ExactCollateral locks the whole input and borrows the maximum (kind 0)
type ExactCollateral struct{}

func (ExactCollateral) Kind() int { return 0 }

func (ExactCollateral) Collateral(amountIn decimal.Decimal, _ Quote) decimal.Decimal {
	return amountIn
}

func (ExactCollateral) Consumed(collateral decimal.Decimal, _ Quote) decimal.Decimal {
	return collateral
}

func (k ExactCollateral) Remainder(decimal.Decimal) EntryKind { return k }

func (ExactCollateral) String() string { return "exact_collateral" }

// ProportionalSplit splits the input into collateral and a leftover so that
// cost(leftover) : cost(borrowed) == P0 : P1 (kind 1)
type ProportionalSplit struct {
	P0 int64
	P1 int64
}

func (ProportionalSplit) Kind() int { return 1 }

// Collateral solves amountIn * P1*collCost / (P0*borrowCost + P1*collCost) with one truncating division
func (k ProportionalSplit) Collateral(amountIn decimal.Decimal, q Quote) decimal.Decimal {
	p0, p1 := decimal.NewFromInt(k.P0), decimal.NewFromInt(k.P1)
	num := p1.Mul(q.CollateralCost)
	den := p0.Mul(q.BorrowCost).Add(num)
	return tradingutils.MulDiv(amountIn, num, den, q.CollateralDecimals)
}

// Consumed adds the leftover that keeps the proportion for a capped collateral
func (k ProportionalSplit) Consumed(collateral decimal.Decimal, q Quote) decimal.Decimal {
	if k.P1 == 0 || q.CollateralCost.IsZero() {
		return collateral
	}
	p0, p1 := decimal.NewFromInt(k.P0), decimal.NewFromInt(k.P1)
	leftover := tradingutils.MulDiv(collateral, p0.Mul(q.BorrowCost), p1.Mul(q.CollateralCost), q.CollateralDecimals)
	return collateral.Add(leftover)
}

func (k ProportionalSplit) Remainder(decimal.Decimal) EntryKind { return k }

func (k ProportionalSplit) String() string {
	return fmt.Sprintf("proportional_split(%d:%d)", k.P0, k.P1)
}

// ExactBorrow locks the collateral needed to borrow Amount, bounded by the input (kind 2)
type ExactBorrow struct {
	Amount decimal.Decimal
}

func (ExactBorrow) Kind() int { return 2 }

func (k ExactBorrow) Collateral(amountIn decimal.Decimal, q Quote) decimal.Decimal {
	if !k.Amount.IsPositive() || q.BorrowAmount.IsZero() {
		return decimal.Zero
	}
	need := tradingutils.MulDivUp(k.Amount, q.CollateralAmount, q.BorrowAmount, q.CollateralDecimals)
	return tradingutils.Min(amountIn, need)
}

func (ExactBorrow) Consumed(collateral decimal.Decimal, _ Quote) decimal.Decimal {
	return collateral
}

func (k ExactBorrow) Remainder(borrowed decimal.Decimal) EntryKind {
	return ExactBorrow{Amount: tradingutils.PositiveOrZero(k.Amount.Sub(borrowed))}
}

func (k ExactBorrow) String() string {
	return fmt.Sprintf("exact_borrow(%s)", k.Amount)
}

// ParseEntryKind builds an entry kind from its numeric tag and parameters
func ParseEntryKind(kind int, p0, p1 int64, amount decimal.Decimal) (EntryKind, error) {
	switch kind {
	case 0:
		return ExactCollateral{}, nil
	case 1:
		if p0 < 0 || p1 < 0 || p0+p1 == 0 {
			return nil, fmt.Errorf("invalid proportions %d:%d", p0, p1)
		}
		return ProportionalSplit{P0: p0, P1: p1}, nil
	case 2:
		if !amount.IsPositive() {
			return nil, fmt.Errorf("exact borrow amount must be positive, got %s", amount)
		}
		return ExactBorrow{Amount: amount}, nil
	default:
		return nil, fmt.Errorf("unknown entry kind %d", kind)
	}
}
