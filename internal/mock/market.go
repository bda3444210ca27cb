// Package mock provides a deterministic in-memory market: wallet, lending
// platforms with debt positions, swap routes and an LP pool.
package mock

import (
	"context"
	"fmt"
	"sync"

	"converter_strategy/internal/core"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Platform is a lending market accepting CollateralAsset against BorrowAsset
type Platform struct {
	ID              string
	CollateralAsset string
	BorrowAsset     string
	// Ratio is collateral value over borrowed value (alpha), e.g. 1.5
	Ratio decimal.Decimal
	APR   decimal.Decimal
	// MaxCollateral caps the collateral locked on the platform; zero means unlimited
	MaxCollateral decimal.Decimal
}

// Route is a swap path; executed output falls short of the quote by ImpactBps
type Route struct {
	TokenIn   string
	TokenOut  string
	ImpactBps int64
}

type state struct {
	balances  map[string]decimal.Decimal
	positions []core.DebtPosition
	pool      poolState
}

// Market implements core.IMarket, core.IPriceBook and, through Pool, core.IDepositor
type Market struct {
	mu sync.Mutex

	assets    map[string]core.Asset
	prices    map[string]decimal.Decimal
	balances  map[string]decimal.Decimal
	platforms []Platform
	positions []core.DebtPosition
	routes    map[string]Route
	pool      poolState

	checkpoints map[int]state
	nextID      int
}

// NewMarket creates an empty market
func NewMarket() *Market {
	return &Market{
		assets:      make(map[string]core.Asset),
		prices:      make(map[string]decimal.Decimal),
		balances:    make(map[string]decimal.Decimal),
		routes:      make(map[string]Route),
		checkpoints: make(map[int]state),
	}
}

func routeKey(in, out string) string {
	return in + ">" + out
}

// AddAsset registers an asset with its oracle price and wallet balance
func (m *Market) AddAsset(symbol string, decimals int32, price, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[symbol] = core.Asset{Symbol: symbol, Decimals: decimals}
	m.prices[symbol] = price
	m.balances[symbol] = balance.Truncate(decimals)
}

// SetPrice changes an oracle price
func (m *Market) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetBalance overwrites a wallet balance
func (m *Market) SetBalance(symbol string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[symbol] = balance
}

// Balance returns the wallet balance of an asset
func (m *Market) Balance(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[symbol]
}

// Balances returns a copy of all wallet balances
func (m *Market) Balances() map[string]decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		res[k] = v
	}
	return res
}

// AddPlatform registers a lending platform
func (m *Market) AddPlatform(p Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms = append(m.platforms, p)
}

// AddPosition seeds an open debt position
func (m *Market) AddPosition(p core.DebtPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions, p)
}

// Positions returns a copy of the open debt positions
func (m *Market) Positions() []core.DebtPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.DebtPosition(nil), m.positions...)
}

// AddRoute registers a one-directional swap route
func (m *Market) AddRoute(in, out string, impactBps int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[routeKey(in, out)] = Route{TokenIn: in, TokenOut: out, ImpactBps: impactBps}
}

// GetPrice implements core.IPriceBook
func (m *Market) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[asset]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrPriceUnavailable, asset)
	}
	return p, nil
}

// Snapshot returns every registered asset and open position; the requested assets must exist
func (m *Market) Snapshot(ctx context.Context, assets []string) (core.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assets {
		if _, ok := m.assets[a]; !ok {
			return core.MarketSnapshot{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownAsset, a)
		}
	}
	snap := core.MarketSnapshot{
		Assets:   make(map[string]core.Asset, len(m.assets)),
		Prices:   make(map[string]decimal.Decimal, len(m.prices)),
		Balances: make(map[string]decimal.Decimal, len(m.balances)),
		Debts:    append([]core.DebtPosition(nil), m.positions...),
	}
	for k, v := range m.assets {
		snap.Assets[k] = v
	}
	for k, v := range m.prices {
		snap.Prices[k] = v
	}
	for k, v := range m.balances {
		snap.Balances[k] = v
	}
	return snap, nil
}

// Checkpoint captures the mutable state
func (m *Market) Checkpoint() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.checkpoints[m.nextID] = m.captureLocked()
	return m.nextID
}

// RevertTo restores a checkpoint and drops it together with every later one
func (m *Market) RevertTo(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.checkpoints[id]
	if !ok {
		return fmt.Errorf("unknown checkpoint %d", id)
	}
	m.balances = st.balances
	m.positions = st.positions
	m.pool = st.pool
	for k := range m.checkpoints {
		if k >= id {
			delete(m.checkpoints, k)
		}
	}
	return nil
}

// Commit drops a checkpoint
func (m *Market) Commit(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, id)
}

func (m *Market) captureLocked() state {
	balances := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	return state{
		balances:  balances,
		positions: append([]core.DebtPosition(nil), m.positions...),
		pool:      m.pool.clone(),
	}
}

func (m *Market) decimalsLocked(symbol string) (int32, error) {
	a, ok := m.assets[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrUnknownAsset, symbol)
	}
	return a.Decimals, nil
}

func (m *Market) debitLocked(symbol string, amount decimal.Decimal) error {
	if m.balances[symbol].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", apperrors.ErrInsufficientBalance, symbol, m.balances[symbol], amount)
	}
	m.balances[symbol] = m.balances[symbol].Sub(amount)
	return nil
}

func (m *Market) creditLocked(symbol string, amount decimal.Decimal) {
	m.balances[symbol] = m.balances[symbol].Add(amount)
}

// Repay returns borrowed funds and releases collateral, oldest positions first
func (m *Market) Repay(ctx context.Context, collateralAsset, borrowAsset string, amountRepay decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions, repaid, released, err := m.repayLocked(collateralAsset, borrowAsset, amountRepay)
	if err != nil {
		return decimal.Zero, err
	}
	if err := m.debitLocked(borrowAsset, repaid); err != nil {
		return decimal.Zero, err
	}
	m.creditLocked(collateralAsset, released)
	m.positions = positions
	return released, nil
}

// QuoteRepay returns the collateral Repay would release without changing state
func (m *Market) QuoteRepay(ctx context.Context, collateralAsset, borrowAsset string, amountRepay decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, _, released, err := m.repayLocked(collateralAsset, borrowAsset, amountRepay)
	return released, err
}

// repayLocked computes the position list after repaying, the repaid amount (capped at the debt) and the released collateral
func (m *Market) repayLocked(collateralAsset, borrowAsset string, amountRepay decimal.Decimal) ([]core.DebtPosition, decimal.Decimal, decimal.Decimal, error) {
	collDec, err := m.decimalsLocked(collateralAsset)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}
	if _, err := m.decimalsLocked(borrowAsset); err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}

	remaining := amountRepay
	repaid := decimal.Zero
	released := decimal.Zero
	out := make([]core.DebtPosition, 0, len(m.positions))
	for _, p := range m.positions {
		if p.CollateralAsset != collateralAsset || p.BorrowAsset != borrowAsset || !remaining.IsPositive() {
			out = append(out, p)
			continue
		}
		take := tradingutils.Min(remaining, p.BorrowAmount)
		remaining = remaining.Sub(take)
		repaid = repaid.Add(take)
		if take.Equal(p.BorrowAmount) {
			released = released.Add(p.CollateralAmount)
			continue
		}
		part := tradingutils.MulDiv(p.CollateralAmount, take, p.BorrowAmount, collDec)
		released = released.Add(part)
		p.CollateralAmount = p.CollateralAmount.Sub(part)
		p.BorrowAmount = p.BorrowAmount.Sub(take)
		out = append(out, p)
	}
	return out, repaid, released, nil
}

func (m *Market) borrowForLocked(p Platform, collateral decimal.Decimal) (decimal.Decimal, error) {
	dec, err := m.decimalsLocked(p.BorrowAsset)
	if err != nil {
		return decimal.Zero, err
	}
	pc, pb := m.prices[p.CollateralAsset], m.prices[p.BorrowAsset]
	if !pc.IsPositive() || !pb.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", apperrors.ErrPriceUnavailable, p.CollateralAsset, p.BorrowAsset)
	}
	return tradingutils.MulDiv(collateral, pc, pb.Mul(p.Ratio), dec), nil
}

func (m *Market) lockedOnLocked(platformID string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		if p.ConverterID == platformID {
			total = total.Add(p.CollateralAmount)
		}
	}
	return total
}

func (m *Market) availableLocked(p Platform) (decimal.Decimal, bool) {
	if p.MaxCollateral.IsZero() {
		return decimal.Zero, false
	}
	return tradingutils.PositiveOrZero(p.MaxCollateral.Sub(m.lockedOnLocked(p.ID))), true
}

// FindBorrowStrategies lists every platform for the pair, in registration order
func (m *Market) FindBorrowStrategies(ctx context.Context, collateralAsset, borrowAsset string, amountIn decimal.Decimal) ([]core.BorrowCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !amountIn.IsPositive() {
		return nil, nil
	}
	var res []core.BorrowCandidate
	for _, p := range m.platforms {
		if p.CollateralAsset != collateralAsset || p.BorrowAsset != borrowAsset {
			continue
		}
		collateral := amountIn
		if avail, capped := m.availableLocked(p); capped {
			collateral = tradingutils.Min(collateral, avail)
		}
		if !collateral.IsPositive() {
			continue
		}
		borrowed, err := m.borrowForLocked(p, collateral)
		if err != nil {
			return nil, err
		}
		res = append(res, core.BorrowCandidate{
			PlatformID:       p.ID,
			CollateralAmount: collateral,
			BorrowAmount:     borrowed,
			APR:              p.APR,
		})
	}
	return res, nil
}

// Borrow locks collateral on a platform and credits the borrowed amount
func (m *Market) Borrow(ctx context.Context, platformID, collateralAsset string, collateralAmount decimal.Decimal, borrowAsset string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var platform *Platform
	for i := range m.platforms {
		if m.platforms[i].ID == platformID {
			platform = &m.platforms[i]
			break
		}
	}
	if platform == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrUnknownPlatform, platformID)
	}
	if platform.CollateralAsset != collateralAsset || platform.BorrowAsset != borrowAsset {
		return decimal.Zero, fmt.Errorf("%w: platform %s does not lend %s against %s", apperrors.ErrInvalidRequest, platformID, borrowAsset, collateralAsset)
	}
	if avail, capped := m.availableLocked(*platform); capped && collateralAmount.GreaterThan(avail) {
		return decimal.Zero, fmt.Errorf("%w: platform %s accepts %s more collateral", apperrors.ErrInsufficientLiquidity, platformID, avail)
	}

	borrowed, err := m.borrowForLocked(*platform, collateralAmount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := m.debitLocked(collateralAsset, collateralAmount); err != nil {
		return decimal.Zero, err
	}
	m.creditLocked(borrowAsset, borrowed)

	for i := range m.positions {
		p := &m.positions[i]
		if p.ConverterID == platformID && p.CollateralAsset == collateralAsset && p.BorrowAsset == borrowAsset {
			p.CollateralAmount = p.CollateralAmount.Add(collateralAmount)
			p.BorrowAmount = p.BorrowAmount.Add(borrowed)
			return borrowed, nil
		}
	}
	m.positions = append(m.positions, core.DebtPosition{
		CollateralAsset:  collateralAsset,
		BorrowAsset:      borrowAsset,
		CollateralAmount: collateralAmount,
		BorrowAmount:     borrowed,
		ConverterID:      platformID,
	})
	return borrowed, nil
}

func (m *Market) quoteLocked(tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, Route, error) {
	route, ok := m.routes[routeKey(tokenIn, tokenOut)]
	if !ok {
		return decimal.Zero, Route{}, fmt.Errorf("%w: %s -> %s", apperrors.ErrNoLiquidationRoute, tokenIn, tokenOut)
	}
	dec, err := m.decimalsLocked(tokenOut)
	if err != nil {
		return decimal.Zero, Route{}, err
	}
	pin, pout := m.prices[tokenIn], m.prices[tokenOut]
	if !pin.IsPositive() || !pout.IsPositive() {
		return decimal.Zero, Route{}, fmt.Errorf("%w: %s/%s", apperrors.ErrPriceUnavailable, tokenIn, tokenOut)
	}
	return tradingutils.Convert(amountIn, pin, pout, dec), route, nil
}

// Quote prices a swap at oracle prices
func (m *Market) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, _, err := m.quoteLocked(tokenIn, tokenOut, amountIn)
	return out, err
}

// Swap executes a swap; the route's impact is applied and checked against slippageBps
func (m *Market) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal, slippageBps int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	quoted, route, err := m.quoteLocked(tokenIn, tokenOut, amountIn)
	if err != nil {
		return decimal.Zero, err
	}
	dec := m.assets[tokenOut].Decimals
	out := tradingutils.ApplyBps(quoted, route.ImpactBps, dec)
	if out.LessThan(tradingutils.ApplyBps(quoted, slippageBps, dec)) {
		return decimal.Zero, fmt.Errorf("%w: %s -> %s out %s, quoted %s", apperrors.ErrPriceImpactTooHigh, tokenIn, tokenOut, out, quoted)
	}
	if err := m.debitLocked(tokenIn, amountIn); err != nil {
		return decimal.Zero, err
	}
	m.creditLocked(tokenOut, out)
	return out, nil
}
