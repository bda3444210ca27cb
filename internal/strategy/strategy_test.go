package strategy

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"converter_strategy/internal/core"
	"converter_strategy/internal/mock"
	"converter_strategy/internal/rebalance"
	"converter_strategy/internal/withdraw"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newMarket() *mock.Market {
	m := mock.NewMarket()
	m.AddAsset("USDC", 18, d("1"), d("100"))
	m.AddAsset("DAI", 18, d("1"), d("190"))
	m.AddPlatform(mock.Platform{ID: "aave", CollateralAsset: "DAI", BorrowAsset: "USDC", Ratio: d("1.5")})
	m.AddRoute("DAI", "USDC", 0)
	m.AddRoute("USDC", "DAI", 0)
	return m
}

func newStrategy(m *mock.Market, journal core.IJournalStore) *Strategy {
	return New("test", Deps{Market: m, Depositor: m.Pool(), Journal: journal}, Options{SlippageBps: 100, ToleranceBps: 100}, logging.NewNopLogger())
}

func TestStrategy_RebalanceJournaled(t *testing.T) {
	m := newMarket()
	journal := NewMemoryJournal()
	s := newStrategy(m, journal)

	res, err := s.Rebalance(context.Background(), rebalance.Request{TokenX: "USDC", TokenY: "DAI", Proportion: 50_000})
	require.NoError(t, err)
	assert.True(t, res.BalanceX.Equal(d("136")))
	assert.True(t, m.Balance("DAI").Equal(d("136")))

	entries, err := s.History(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindRebalance, entries[0].Kind)
	assert.Equal(t, "test", entries[0].Strategy)
	assert.NotEmpty(t, entries[0].ID)
	assert.Empty(t, entries[0].Error)
	assert.Len(t, entries[0].Operations, 1)
}

func TestStrategy_RevertsOnPriceImpact(t *testing.T) {
	m := mock.NewMarket()
	m.AddAsset("USDC", 18, d("1"), d("0"))
	m.AddAsset("DAI", 18, d("1"), d("100"))
	m.AddAsset("USDT", 18, d("1"), d("100"))
	m.AddRoute("DAI", "USDC", 0)
	// Executes within slippage but the oracle cross-check rejects it
	m.AddRoute("USDT", "USDC", 50)

	journal := NewMemoryJournal()
	s := New("impact", Deps{Market: m, Journal: journal}, Options{SlippageBps: 100, ToleranceBps: 10}, logging.NewNopLogger())

	_, err := s.MakeRequestedAmount(context.Background(), withdraw.Request{
		Assets:           []string{"USDC", "DAI", "USDT"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100"), d("100")},
		RequestedAmount:  d("150"),
	})
	require.ErrorIs(t, err, apperrors.ErrPriceImpactTooHigh)

	// The successful DAI swap before the failure is rolled back too
	assert.True(t, m.Balance("USDC").IsZero())
	assert.True(t, m.Balance("DAI").Equal(d("100")))
	assert.True(t, m.Balance("USDT").Equal(d("100")))

	entries, err := journal.List(context.Background(), "impact")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Error, "price impact too high")
	assert.Empty(t, entries[0].Operations)
}

func TestStrategy_Liquidate(t *testing.T) {
	m := newMarket()
	s := newStrategy(m, nil)

	res, err := s.Liquidate(context.Background(), LiquidateRequest{TokenIn: "DAI", TokenOut: "USDC", AmountIn: d("400"), Threshold: d("401")})
	require.NoError(t, err)
	assert.True(t, res.Spent.IsZero())
	assert.True(t, res.Received.IsZero())
	assert.Empty(t, res.Operations)

	res, err = s.Liquidate(context.Background(), LiquidateRequest{TokenIn: "DAI", TokenOut: "USDC", AmountIn: d("90")})
	require.NoError(t, err)
	assert.True(t, res.Received.Equal(d("90")))
	assert.True(t, m.Balance("USDC").Equal(d("190")))
}

func TestStrategy_ClosePositionAndConvert(t *testing.T) {
	m := newMarket()
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("106"), BorrowAmount: d("107")})
	s := newStrategy(m, NewMemoryJournal())
	ctx := context.Background()

	closed, err := s.ClosePositionUsingMainAsset(ctx, withdraw.CloseRequest{MainAsset: "USDC", SecondaryAsset: "DAI", AmountToSell: d("100")})
	require.NoError(t, err)
	assert.True(t, closed.ExpectedAmountOut.IsZero())

	converted, err := s.ConvertAfterWithdraw(ctx, withdraw.ConvertRequest{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("107")},
	})
	require.NoError(t, err)
	assert.True(t, converted.CollateralOut.Equal(d("106")))
	assert.Empty(t, m.Positions())

	entries, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindClosePosition, entries[0].Kind)
	assert.Equal(t, KindConvertAfter, entries[1].Kind)
}

func TestStrategy_SerializesCalls(t *testing.T) {
	m := newMarket()
	s := newStrategy(m, NewMemoryJournal())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Liquidate(context.Background(), LiquidateRequest{TokenIn: "DAI", TokenOut: "USDC", AmountIn: d("10")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, m.Balance("DAI").Equal(d("110")))
	assert.True(t, m.Balance("USDC").Equal(d("180")))
	entries, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestStrategy_UnknownAssetJournaled(t *testing.T) {
	m := newMarket()
	journal := NewMemoryJournal()
	s := newStrategy(m, journal)

	_, err := s.Rebalance(context.Background(), rebalance.Request{TokenX: "USDC", TokenY: "WBTC", Proportion: 50_000})
	assert.ErrorIs(t, err, apperrors.ErrUnknownAsset)

	entries, _ := journal.List(context.Background(), "")
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Error)
}

func TestSQLiteJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	journal, err := NewSQLiteJournal(dbPath)
	require.NoError(t, err)
	defer journal.Close()

	m := newMarket()
	s := New("sqlite", Deps{Market: m, Journal: journal}, Options{SlippageBps: 100, ToleranceBps: 100}, logging.NewNopLogger())
	other := New("other", Deps{Market: newMarket(), Journal: journal}, Options{SlippageBps: 100}, logging.NewNopLogger())

	_, err = s.Rebalance(context.Background(), rebalance.Request{TokenX: "USDC", TokenY: "DAI", Proportion: 50_000})
	require.NoError(t, err)
	_, err = other.Liquidate(context.Background(), LiquidateRequest{TokenIn: "DAI", TokenOut: "USDC", AmountIn: d("1")})
	require.NoError(t, err)

	entries, err := journal.List(context.Background(), "sqlite")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindRebalance, entries[0].Kind)
	require.Len(t, entries[0].Operations, 1)
	assert.Equal(t, core.OperationBorrow, entries[0].Operations[0].Kind)
	assert.True(t, entries[0].Operations[0].AmountOut.Equal(d("36")))

	all, err := journal.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Reopening keeps the rows
	require.NoError(t, journal.Close())
	reopened, err := NewSQLiteJournal(dbPath)
	require.NoError(t, err)
	defer reopened.Close()
	all, err = reopened.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteJournal_DetectsCorruption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	journal, err := NewSQLiteJournal(dbPath)
	require.NoError(t, err)
	defer journal.Close()

	require.NoError(t, journal.Append(context.Background(), &core.JournalEntry{ID: "1", Strategy: "s", Kind: KindLiquidate}))
	_, err = journal.db.Exec(`UPDATE journal SET data = replace(data, '"s"', '"x"')`)
	require.NoError(t, err)

	_, err = journal.List(context.Background(), "")
	assert.ErrorContains(t, err, "checksum")
}
