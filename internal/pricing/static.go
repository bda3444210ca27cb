// Package pricing provides price books and the oracle-backed conversion validator
package pricing

import (
	"context"
	"fmt"
	"sync"

	apperrors "converter_strategy/pkg/errors"

	"github.com/shopspring/decimal"
)

// StaticPriceBook serves prices set in memory, e.g. from configuration
type StaticPriceBook struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticPriceBook creates a price book from an initial price table
func NewStaticPriceBook(prices map[string]decimal.Decimal) *StaticPriceBook {
	b := &StaticPriceBook{prices: make(map[string]decimal.Decimal, len(prices))}
	for k, v := range prices {
		b.prices[k] = v
	}
	return b
}

// Set registers or replaces a price
func (b *StaticPriceBook) Set(asset string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[asset] = price
}

// GetPrice implements core.IPriceBook
func (b *StaticPriceBook) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[asset]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrPriceUnavailable, asset)
	}
	return p, nil
}
