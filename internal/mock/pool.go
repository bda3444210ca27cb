package mock

import (
	"context"
	"fmt"

	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

type poolState struct {
	assets      []string
	reserves    []decimal.Decimal
	totalSupply decimal.Decimal
	owned       decimal.Decimal
}

func (p poolState) clone() poolState {
	return poolState{
		assets:      append([]string(nil), p.assets...),
		reserves:    append([]decimal.Decimal(nil), p.reserves...),
		totalSupply: p.totalSupply,
		owned:       p.owned,
	}
}

// Pool is the strategy's LP position; exits credit the market wallet
type Pool struct {
	m *Market
}

// SetPool configures the pool reserves, its total liquidity and the share owned by the strategy
func (m *Market) SetPool(assets []string, reserves []decimal.Decimal, totalSupply, owned decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = poolState{
		assets:      append([]string(nil), assets...),
		reserves:    append([]decimal.Decimal(nil), reserves...),
		totalSupply: totalSupply,
		owned:       owned,
	}
}

// Pool returns the depositor view of the market pool
func (m *Market) Pool() *Pool {
	return &Pool{m: m}
}

// Assets returns the pool assets in reserve order
func (p *Pool) Assets() []string {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return append([]string(nil), p.m.pool.assets...)
}

// Liquidity returns the liquidity owned by the strategy
func (p *Pool) Liquidity(ctx context.Context) (decimal.Decimal, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.m.pool.owned, nil
}

// QuoteExit returns the amounts Exit would withdraw
func (p *Pool) QuoteExit(ctx context.Context, liquidity decimal.Decimal) ([]decimal.Decimal, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.exitAmountsLocked(liquidity)
}

// Exit burns liquidity and credits the withdrawn reserves to the wallet
func (p *Pool) Exit(ctx context.Context, liquidity decimal.Decimal) ([]decimal.Decimal, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()

	amounts, err := p.exitAmountsLocked(liquidity)
	if err != nil {
		return nil, err
	}
	st := &p.m.pool
	for i, a := range st.assets {
		st.reserves[i] = st.reserves[i].Sub(amounts[i])
		p.m.creditLocked(a, amounts[i])
	}
	st.totalSupply = st.totalSupply.Sub(liquidity)
	st.owned = st.owned.Sub(liquidity)
	return amounts, nil
}

func (p *Pool) exitAmountsLocked(liquidity decimal.Decimal) ([]decimal.Decimal, error) {
	st := p.m.pool
	if liquidity.IsNegative() || liquidity.GreaterThan(st.owned) {
		return nil, fmt.Errorf("%w: exit %s of %s owned liquidity", apperrors.ErrInvalidRequest, liquidity, st.owned)
	}
	amounts := make([]decimal.Decimal, len(st.assets))
	for i, a := range st.assets {
		dec, err := p.m.decimalsLocked(a)
		if err != nil {
			return nil, err
		}
		amounts[i] = tradingutils.MulDiv(st.reserves[i], liquidity, st.totalSupply, dec)
	}
	return amounts, nil
}
