// Package core defines the domain types and collaborator interfaces of the converter strategy
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IPriceBook returns 18-decimal asset prices
type IPriceBook interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// IRepayer repays debt positions; QuoteRepay must not mutate state
type IRepayer interface {
	Repay(ctx context.Context, collateralAsset, borrowAsset string, amountRepay decimal.Decimal) (decimal.Decimal, error)
	QuoteRepay(ctx context.Context, collateralAsset, borrowAsset string, amountRepay decimal.Decimal) (decimal.Decimal, error)
}

// IBorrower discovers lending platforms and opens debt positions
type IBorrower interface {
	FindBorrowStrategies(ctx context.Context, collateralAsset, borrowAsset string, amountIn decimal.Decimal) ([]BorrowCandidate, error)
	Borrow(ctx context.Context, platformID, collateralAsset string, collateralAmount decimal.Decimal, borrowAsset string) (decimal.Decimal, error)
}

// ILiquidator swaps one tracked asset for another through an external router
type ILiquidator interface {
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error)
	Swap(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal, slippageBps int64) (decimal.Decimal, error)
}

// IConversionValidator cross-checks an executed conversion against oracle prices
type IConversionValidator interface {
	IsValid(ctx context.Context, tokenIn, tokenOut string, amountIn, amountOut decimal.Decimal) (bool, error)
}

// IDepositor is the pool (LP) position the strategy can exit from
type IDepositor interface {
	Assets() []string
	Liquidity(ctx context.Context) (decimal.Decimal, error)
	QuoteExit(ctx context.Context, liquidity decimal.Decimal) ([]decimal.Decimal, error)
	Exit(ctx context.Context, liquidity decimal.Decimal) ([]decimal.Decimal, error)
}

// ISnapshotSource reads a consistent market snapshot for the given assets
type ISnapshotSource interface {
	Snapshot(ctx context.Context, assets []string) (MarketSnapshot, error)
}

// IMarket is everything a strategy instance needs from its environment
type IMarket interface {
	ISnapshotSource
	IRepayer
	IBorrower
	ILiquidator
	IPriceBook
	// Checkpoint captures balances and positions; RevertTo restores them, Commit drops them
	Checkpoint() int
	RevertTo(id int) error
	Commit(id int)
}

// JournalEntry is one persisted engine call
type JournalEntry struct {
	ID         string      `json:"id"`
	Strategy   string      `json:"strategy"`
	Kind       string      `json:"kind"`
	Request    interface{} `json:"request"`
	Result     interface{} `json:"result,omitempty"`
	Operations []Operation `json:"operations"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IJournalStore persists engine call records
type IJournalStore interface {
	Append(ctx context.Context, entry *JournalEntry) error
	List(ctx context.Context, strategy string) ([]*JournalEntry, error)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
