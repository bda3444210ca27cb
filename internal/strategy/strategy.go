// Package strategy serializes engine calls per strategy instance, rolls the
// market back when a call fails and journals every call.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"converter_strategy/internal/converter"
	"converter_strategy/internal/core"
	"converter_strategy/internal/pricing"
	"converter_strategy/internal/rebalance"
	"converter_strategy/internal/swap"
	"converter_strategy/internal/withdraw"
	"converter_strategy/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Call kinds as journaled
const (
	KindRebalance         = "rebalance"
	KindRequestedAmount   = "make_requested_amount"
	KindWithdrawUniversal = "withdraw_universal"
	KindConvertAfter      = "convert_after_withdraw"
	KindClosePosition     = "close_position"
	KindLiquidate         = "liquidate"
)

// Options tune the engines of one strategy instance
type Options struct {
	SlippageBps  int64
	ToleranceBps int64
}

// Deps are the collaborators of one strategy instance. PriceBook defaults to
// the market; Depositor and Journal are optional.
type Deps struct {
	Market    core.IMarket
	Depositor core.IDepositor
	PriceBook core.IPriceBook
	Journal   core.IJournalStore
}

// Strategy owns one wallet; calls against it never interleave
type Strategy struct {
	mu sync.Mutex

	name       string
	market     core.IMarket
	journal    core.IJournalStore
	liquidator *swap.Liquidator
	rebalancer *rebalance.Engine
	withdrawer *withdraw.Engine
	opts       Options
	logger     core.ILogger
	tracer     trace.Tracer
}

// New wires the engines of a strategy instance
func New(name string, deps Deps, opts Options, logger core.ILogger) *Strategy {
	book := deps.PriceBook
	if book == nil {
		book = deps.Market
	}
	logger = logger.WithField("strategy", name)
	liquidator := swap.NewLiquidator(deps.Market, pricing.NewOracleValidator(book, opts.ToleranceBps), logger)
	planner := converter.NewPlanner(deps.Market, logger)

	return &Strategy{
		name:       name,
		market:     deps.Market,
		journal:    deps.Journal,
		liquidator: liquidator,
		rebalancer: rebalance.NewEngine(deps.Market, planner, liquidator, opts.SlippageBps, logger),
		withdrawer: withdraw.NewEngine(deps.Market, liquidator, deps.Depositor, opts.SlippageBps, logger),
		opts:       opts,
		logger:     logger.WithField("component", "strategy"),
		tracer:     telemetry.GetTracer("converter_strategy"),
	}
}

// Name returns the strategy instance name
func (s *Strategy) Name() string {
	return s.name
}

// Rebalance moves the TokenX/TokenY wallet toward the requested proportion
func (s *Strategy) Rebalance(ctx context.Context, req rebalance.Request) (rebalance.Result, error) {
	return execute(ctx, s, KindRebalance, []string{req.TokenX, req.TokenY}, req,
		func(ctx context.Context, snap core.MarketSnapshot) (rebalance.Result, []core.Operation, error) {
			res, err := s.rebalancer.Rebalance(ctx, snap, req)
			return res, res.Operations, err
		})
}

// MakeRequestedAmount gathers the requested target amount from wallet and debts
func (s *Strategy) MakeRequestedAmount(ctx context.Context, req withdraw.Request) (withdraw.Result, error) {
	res, err := execute(ctx, s, KindRequestedAmount, req.Assets, req,
		func(ctx context.Context, snap core.MarketSnapshot) (withdraw.Result, []core.Operation, error) {
			res, err := s.withdrawer.MakeRequestedAmount(ctx, snap, req)
			return res, res.Operations, err
		})
	if err == nil {
		s.recordObtained(ctx, req, res)
	}
	return res, err
}

// WithdrawUniversal exits the pool as needed, then gathers the requested target amount
func (s *Strategy) WithdrawUniversal(ctx context.Context, req withdraw.Request) (withdraw.Result, error) {
	res, err := execute(ctx, s, KindWithdrawUniversal, req.Assets, req,
		func(ctx context.Context, snap core.MarketSnapshot) (withdraw.Result, []core.Operation, error) {
			res, err := s.withdrawer.WithdrawUniversal(ctx, snap, req)
			return res, res.Operations, err
		})
	if err == nil {
		s.recordObtained(ctx, req, res)
	}
	return res, err
}

// ConvertAfterWithdraw repays and liquidates withdrawn secondary amounts into the target
func (s *Strategy) ConvertAfterWithdraw(ctx context.Context, req withdraw.ConvertRequest) (withdraw.ConvertResult, error) {
	return execute(ctx, s, KindConvertAfter, req.Assets, req,
		func(ctx context.Context, snap core.MarketSnapshot) (withdraw.ConvertResult, []core.Operation, error) {
			res, err := s.withdrawer.ConvertAfterWithdraw(ctx, snap, req)
			return res, res.Operations, err
		})
}

// ClosePositionUsingMainAsset sells main asset to close a secondary debt backed by it
func (s *Strategy) ClosePositionUsingMainAsset(ctx context.Context, req withdraw.CloseRequest) (withdraw.CloseResult, error) {
	return execute(ctx, s, KindClosePosition, []string{req.MainAsset, req.SecondaryAsset}, req,
		func(ctx context.Context, snap core.MarketSnapshot) (withdraw.CloseResult, []core.Operation, error) {
			res, err := s.withdrawer.ClosePositionUsingMainAsset(ctx, snap, req)
			return res, res.Operations, err
		})
}

// LiquidateRequest is a single gated swap
type LiquidateRequest struct {
	TokenIn     string          `json:"token_in" yaml:"token_in"`
	TokenOut    string          `json:"token_out" yaml:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in" yaml:"amount_in"`
	SlippageBps int64           `json:"slippage_bps" yaml:"slippage_bps"`
	Threshold   decimal.Decimal `json:"threshold" yaml:"threshold"`
}

// LiquidateResult is (0, 0) when the swap was gated
type LiquidateResult struct {
	Spent      decimal.Decimal  `json:"spent"`
	Received   decimal.Decimal  `json:"received"`
	Operations []core.Operation `json:"operations"`
}

// Liquidate swaps unless the quote is below Threshold; SlippageBps of zero uses the strategy default
func (s *Strategy) Liquidate(ctx context.Context, req LiquidateRequest) (LiquidateResult, error) {
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = s.opts.SlippageBps
	}
	return execute(ctx, s, KindLiquidate, []string{req.TokenIn, req.TokenOut}, req,
		func(ctx context.Context, _ core.MarketSnapshot) (LiquidateResult, []core.Operation, error) {
			spent, received, err := s.liquidator.Liquidate(ctx, req.TokenIn, req.TokenOut, req.AmountIn, slippage, req.Threshold)
			if err != nil {
				return LiquidateResult{}, nil, err
			}
			res := LiquidateResult{Spent: spent, Received: received}
			if spent.IsPositive() {
				res.Operations = []core.Operation{{Kind: core.OperationSwap, AssetIn: req.TokenIn, AssetOut: req.TokenOut, AmountIn: spent, AmountOut: received}}
			}
			return res, res.Operations, nil
		})
}

// execute runs fn under the strategy lock against a fresh snapshot. A failed
// call restores the market to its state before the call.
func execute[T any](ctx context.Context, s *Strategy, kind string, assets []string, req interface{},
	fn func(ctx context.Context, snap core.MarketSnapshot) (T, []core.Operation, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "strategy."+kind,
		trace.WithAttributes(attribute.String("strategy", s.name), attribute.StringSlice("assets", assets)))
	defer span.End()
	start := time.Now()

	var zero T
	var res T
	var ops []core.Operation
	snap, err := s.market.Snapshot(ctx, assets)
	if err == nil {
		id := s.market.Checkpoint()
		res, ops, err = fn(ctx, snap)
		if err != nil {
			if rerr := s.market.RevertTo(id); rerr != nil {
				err = fmt.Errorf("%w (revert failed: %v)", err, rerr)
			}
			ops = nil
		} else {
			s.market.Commit(id)
		}
	}
	metrics := telemetry.GetGlobalMetrics()
	metrics.RecordCall(ctx, s.name, kind, float64(time.Since(start).Milliseconds()), err != nil)

	entry := &core.JournalEntry{
		ID:         uuid.NewString(),
		Strategy:   s.name,
		Kind:       kind,
		Request:    req,
		Operations: ops,
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.Error = err.Error()
		s.logger.Error("Strategy call failed", "kind", kind, "error", err)
	} else {
		entry.Result = res
		for _, op := range ops {
			metrics.RecordOperation(ctx, s.name, string(op.Kind))
		}
		span.SetAttributes(attribute.Int("operations", len(ops)))
		s.logger.Info("Strategy call completed", "kind", kind, "operations", len(ops))
	}
	s.journalAppend(ctx, entry)

	if err != nil {
		return zero, err
	}
	s.publishState(ctx)
	return res, nil
}

// recordObtained observes the target amount held after a withdrawal
func (s *Strategy) recordObtained(ctx context.Context, req withdraw.Request, res withdraw.Result) {
	if req.TargetIndex < 0 || req.TargetIndex >= len(req.Assets) {
		return
	}
	telemetry.GetGlobalMetrics().RecordObtained(ctx, s.name, req.Assets[req.TargetIndex], res.Obtained.InexactFloat64())
}

// publishState exports wallet balances and debts of the strategy as gauges
func (s *Strategy) publishState(ctx context.Context) {
	snap, err := s.market.Snapshot(ctx, nil)
	if err != nil {
		s.logger.Warn("Failed to read market state for metrics", "error", err)
		return
	}
	balances := make(map[string]float64, len(snap.Balances))
	for asset, bal := range snap.Balances {
		balances[asset] = bal.InexactFloat64()
	}
	debts := make(map[string]float64)
	for _, p := range snap.Debts {
		pair := p.CollateralAsset + "/" + p.BorrowAsset
		debts[pair] += p.BorrowAmount.InexactFloat64()
	}
	metrics := telemetry.GetGlobalMetrics()
	metrics.SetBalances(s.name, balances)
	metrics.SetDebts(s.name, debts)
}

// History returns the journaled calls of this strategy
func (s *Strategy) History(ctx context.Context) ([]*core.JournalEntry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.List(ctx, s.name)
}

func (s *Strategy) journalAppend(ctx context.Context, entry *core.JournalEntry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to journal strategy call", "id", entry.ID, "error", err)
	}
}
