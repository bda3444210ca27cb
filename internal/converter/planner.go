package converter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"converter_strategy/internal/core"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// OpenRequest describes a position to open
type OpenRequest struct {
	CollateralAsset     string
	BorrowAsset         string
	Kind                EntryKind
	AmountIn            decimal.Decimal
	CollateralThreshold decimal.Decimal
	BorrowThreshold     decimal.Decimal
}

// OpenResult aggregates the positions opened across platforms
type OpenResult struct {
	Collateral decimal.Decimal
	Borrowed   decimal.Decimal
	// Consumed is the part of AmountIn accounted for by the opened positions and their leftover
	Consumed   decimal.Decimal
	Operations []core.Operation
}

// Planner opens positions on the cheapest platforms first
type Planner struct {
	borrower core.IBorrower
	logger   core.ILogger
}

// NewPlanner creates a Planner
func NewPlanner(borrower core.IBorrower, logger core.ILogger) *Planner {
	return &Planner{
		borrower: borrower,
		logger:   logger.WithField("component", "borrow_planner"),
	}
}

// RankCandidates orders candidates by APR ascending, keeping discovery order on ties
func RankCandidates(cands []core.BorrowCandidate) []core.BorrowCandidate {
	ranked := append([]core.BorrowCandidate(nil), cands...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].APR.LessThan(ranked[j].APR)
	})
	return ranked
}

// Open borrows req.BorrowAsset against req.CollateralAsset. Platforms whose offer or
// planned amounts fall below the thresholds are skipped; a platform without enough
// capacity is used up to its limit and the rest goes to the next one.
func (p *Planner) Open(ctx context.Context, snap core.MarketSnapshot, req OpenRequest) (OpenResult, error) {
	res := OpenResult{Collateral: decimal.Zero, Borrowed: decimal.Zero, Consumed: decimal.Zero}
	if !req.AmountIn.IsPositive() {
		return res, nil
	}

	collAsset, err := snap.Asset(req.CollateralAsset)
	if err != nil {
		return res, err
	}
	borrowAsset, err := snap.Asset(req.BorrowAsset)
	if err != nil {
		return res, err
	}
	collPrice, err := snap.Price(req.CollateralAsset)
	if err != nil {
		return res, err
	}
	borrowPrice, err := snap.Price(req.BorrowAsset)
	if err != nil {
		return res, err
	}

	cands, err := p.borrower.FindBorrowStrategies(ctx, req.CollateralAsset, req.BorrowAsset, req.AmountIn)
	if err != nil {
		return res, fmt.Errorf("find borrow strategies %s/%s: %w", req.CollateralAsset, req.BorrowAsset, err)
	}

	kind := req.Kind
	remaining := req.AmountIn
	for _, cand := range RankCandidates(cands) {
		if !remaining.IsPositive() {
			break
		}
		if !cand.CollateralAmount.IsPositive() || !cand.BorrowAmount.IsPositive() {
			continue
		}
		if cand.CollateralAmount.LessThan(req.CollateralThreshold) || cand.BorrowAmount.LessThan(req.BorrowThreshold) {
			p.logger.Debug("Platform offer below threshold", "platform", cand.PlatformID, "collateral", cand.CollateralAmount, "borrow", cand.BorrowAmount)
			continue
		}

		q := NewQuote(cand, collPrice, borrowPrice, collAsset.Decimals)
		want := kind.Collateral(remaining, q)
		if !want.IsPositive() {
			break
		}

		collateral := want
		capped := false
		if want.GreaterThan(cand.CollateralAmount) {
			p.logger.Warn("Platform cannot take the full amount",
				"platform", cand.PlatformID, "wanted", want, "available", cand.CollateralAmount, "error", apperrors.ErrInsufficientLiquidity)
			collateral = cand.CollateralAmount
			capped = true
		}

		expected := q.BorrowFor(collateral, borrowAsset.Decimals)
		if collateral.LessThan(req.CollateralThreshold) || expected.LessThan(req.BorrowThreshold) {
			p.logger.Debug("Planned borrow below threshold, skipped",
				"platform", cand.PlatformID, "collateral", collateral, "borrow", expected)
			telemetry.GetGlobalMetrics().RecordSkip(ctx, "borrow_threshold")
			continue
		}

		borrowed, err := p.borrower.Borrow(ctx, cand.PlatformID, req.CollateralAsset, collateral, req.BorrowAsset)
		if errors.Is(err, apperrors.ErrInsufficientLiquidity) {
			p.logger.Warn("Borrow rejected for liquidity, trying next platform", "platform", cand.PlatformID, "error", err)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("borrow on %s: %w", cand.PlatformID, err)
		}

		res.Collateral = res.Collateral.Add(collateral)
		res.Borrowed = res.Borrowed.Add(borrowed)
		res.Operations = append(res.Operations, core.Operation{
			Kind:      core.OperationBorrow,
			AssetIn:   req.CollateralAsset,
			AssetOut:  req.BorrowAsset,
			AmountIn:  collateral,
			AmountOut: borrowed,
			Platform:  cand.PlatformID,
		})
		p.logger.Info("Opened position", "platform", cand.PlatformID, "kind", kind.String(), "collateral", collateral, "borrowed", borrowed)

		if !capped {
			res.Consumed = req.AmountIn
			remaining = decimal.Zero
			break
		}
		consumed := kind.Consumed(collateral, q)
		res.Consumed = res.Consumed.Add(consumed)
		remaining = remaining.Sub(consumed)
		kind = kind.Remainder(borrowed)
	}

	return res, nil
}
