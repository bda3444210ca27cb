package withdraw

import (
	"context"
	"testing"

	"converter_strategy/internal/core"
	"converter_strategy/internal/mock"
	"converter_strategy/internal/pricing"
	"converter_strategy/internal/swap"
	apperrors "converter_strategy/pkg/errors"
	"converter_strategy/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func zeros(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

// newMarket registers USDC, DAI and USDT at price 1 with zero-impact routes between all of them
func newMarket(usdc, dai, usdt string) *mock.Market {
	m := mock.NewMarket()
	m.AddAsset("USDC", 18, d("1"), d(usdc))
	m.AddAsset("DAI", 18, d("1"), d(dai))
	m.AddAsset("USDT", 18, d("1"), d(usdt))
	for _, in := range []string{"USDC", "DAI", "USDT"} {
		for _, out := range []string{"USDC", "DAI", "USDT"} {
			if in != out {
				m.AddRoute(in, out, 0)
			}
		}
	}
	return m
}

func newEngine(m *mock.Market, depositor core.IDepositor) *Engine {
	logger := logging.NewNopLogger()
	return NewEngine(m, swap.NewLiquidator(m, pricing.NewOracleValidator(m, 100), logger), depositor, 100, logger)
}

func snapshot(t *testing.T, m *mock.Market) core.MarketSnapshot {
	t.Helper()
	snap, err := m.Snapshot(context.Background(), nil)
	require.NoError(t, err)
	return snap
}

func makeRequested(t *testing.T, m *mock.Market, req Request) Result {
	t.Helper()
	res, err := newEngine(m, nil).MakeRequestedAmount(context.Background(), snapshot(t, m), req)
	require.NoError(t, err)
	return res
}

func TestMakeRequestedAmount_AlreadySatisfied(t *testing.T) {
	m := newMarket("100", "100", "0")
	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
		RequestedAmount:  d("50"),
	})

	assert.Empty(t, res.Operations)
	assert.True(t, res.Obtained.Equal(d("100")))
	assert.True(t, m.Balance("DAI").Equal(d("100")))
}

func TestMakeRequestedAmount_RepayLimitedToNeed(t *testing.T) {
	m := newMarket("0", "100", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
		RequestedAmount:  d("60"),
	})

	require.Len(t, res.Operations, 1)
	op := res.Operations[0]
	assert.Equal(t, core.OperationRepay, op.Kind)
	assert.True(t, op.AmountIn.Equal(d("40")), op.AmountIn.String())
	assert.True(t, op.AmountOut.Equal(d("60")), op.AmountOut.String())
	assert.True(t, res.Obtained.Equal(d("60")))
	assert.True(t, res.Balances["DAI"].Equal(d("60")))

	assert.True(t, m.Balance("USDC").Equal(d("60")))
	require.Len(t, m.Positions(), 1)
	assert.True(t, m.Positions()[0].BorrowAmount.Equal(d("60")))
	assert.True(t, m.Positions()[0].CollateralAmount.Equal(d("90")))
}

func TestMakeRequestedAmount_RepayBelowThresholdFallsBackToSwap(t *testing.T) {
	m := newMarket("0", "100", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
		RequestedAmount:  d("60"),
		Thresholds:       map[string]decimal.Decimal{"DAI": d("50")},
	})

	require.Len(t, res.Operations, 1)
	assert.Equal(t, core.OperationSwap, res.Operations[0].Kind)
	assert.True(t, res.Operations[0].AmountIn.Equal(d("60")))
	assert.True(t, res.Obtained.Equal(d("60")))
	assert.True(t, m.Positions()[0].BorrowAmount.Equal(d("100")))
}

func TestMakeRequestedAmount_ThirdAssetCollateral(t *testing.T) {
	m := newMarket("0", "100", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDT", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
		RequestedAmount:  d("30"),
	})

	require.Len(t, res.Operations, 2)
	assert.Equal(t, core.OperationRepay, res.Operations[0].Kind)
	assert.True(t, res.Operations[0].AmountIn.Equal(d("20")))
	assert.Equal(t, core.OperationSwap, res.Operations[1].Kind)
	assert.Equal(t, "USDT", res.Operations[1].AssetIn)
	assert.True(t, res.Operations[1].AmountIn.Equal(d("30")))

	assert.True(t, res.Obtained.Equal(d("30")))
	assert.True(t, m.Balance("USDT").IsZero())
	assert.True(t, m.Balance("DAI").Equal(d("80")))
}

func TestMakeRequestedAmount_DirectLiquidation(t *testing.T) {
	m := newMarket("0", "100", "0")
	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
		RequestedAmount:  d("30"),
	})

	require.Len(t, res.Operations, 1)
	assert.Equal(t, core.OperationSwap, res.Operations[0].Kind)
	assert.True(t, res.Obtained.Equal(d("30")))
	assert.True(t, m.Balance("DAI").Equal(d("70")))
}

func TestMakeRequestedAmount_OrderSensitivity(t *testing.T) {
	tests := []struct {
		name      string
		assets    []string
		spent     string
		untouched string
	}{
		{"DAI first", []string{"USDC", "DAI", "USDT"}, "DAI", "USDT"},
		{"USDT first", []string{"USDC", "USDT", "DAI"}, "USDT", "DAI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMarket("0", "100", "100")
			res := makeRequested(t, m, Request{
				Assets:           tt.assets,
				AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100"), d("100")},
				RequestedAmount:  d("50"),
			})
			assert.True(t, res.Obtained.Equal(d("50")))
			assert.True(t, m.Balance(tt.spent).Equal(d("50")))
			assert.True(t, m.Balance(tt.untouched).Equal(d("100")))
		})
	}
}

func TestMakeRequestedAmount_PartialIsNotAnError(t *testing.T) {
	m := newMarket("0", "20", "0")
	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
		RequestedAmount:  d("100"),
	})
	assert.True(t, res.Obtained.Equal(d("20")))
	assert.True(t, m.Balance("DAI").IsZero())
}

func TestMakeRequestedAmount_Unlimited(t *testing.T) {
	m := newMarket("0", "100", "50")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("30"), BorrowAmount: d("20")})

	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI", "USDT"},
		AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100"), d("50")},
		RequestedAmount:  MaxAmount,
	})

	// repay 20 DAI for 30 USDC, swap 80 DAI and 50 USDT
	require.Len(t, res.Operations, 3)
	assert.True(t, res.Obtained.Equal(d("160")), res.Obtained.String())
	assert.Empty(t, m.Positions())
}

func TestMakeRequestedAmount_MonotonicInRequest(t *testing.T) {
	prev := decimal.Zero
	for _, req := range []string{"10", "20", "40", "80", "160"} {
		m := newMarket("0", "100", "0")
		res := makeRequested(t, m, Request{
			Assets:           []string{"USDC", "DAI"},
			AmountsToConvert: []decimal.Decimal{decimal.Zero, d("100")},
			RequestedAmount:  d(req),
		})
		assert.True(t, res.Obtained.GreaterThanOrEqual(prev), "requested %s obtained %s", req, res.Obtained)
		prev = res.Obtained
	}
	assert.True(t, prev.Equal(d("100")))
}

func TestMakeRequestedAmount_ClosesPositionWhenShort(t *testing.T) {
	m := newMarket("200", "0", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: zeros(2),
		RequestedAmount:  d("300"),
	})

	require.Len(t, res.Operations, 2)
	assert.Equal(t, core.OperationSwap, res.Operations[0].Kind)
	assert.Equal(t, core.OperationRepay, res.Operations[1].Kind)
	assert.True(t, res.Obtained.Equal(d("250")), res.Obtained.String())
	assert.Empty(t, m.Positions())
}

func TestMakeRequestedAmount_ImpactedCloseKeepsWallet(t *testing.T) {
	m := newMarket("200", "0", "0")
	m.AddRoute("USDC", "DAI", 100)
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("100.5"), BorrowAmount: d("100")})

	// 99 DAI after impact releases 99.495 USDC, less than the 100 sold
	res := makeRequested(t, m, Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: zeros(2),
		RequestedAmount:  d("300"),
	})

	assert.Empty(t, res.Operations)
	assert.True(t, res.Obtained.Equal(d("200")), res.Obtained.String())
	assert.True(t, m.Balance("USDC").Equal(d("200")))
	assert.True(t, m.Positions()[0].BorrowAmount.Equal(d("100")))
}

func TestMakeRequestedAmount_Validation(t *testing.T) {
	m := newMarket("0", "100", "0")
	snap := snapshot(t, m)
	e := newEngine(m, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"length mismatch", Request{Assets: []string{"USDC", "DAI"}, AmountsToConvert: zeros(1)}, apperrors.ErrInvalidRequest},
		{"target out of range", Request{Assets: []string{"USDC"}, AmountsToConvert: zeros(1), TargetIndex: 1}, apperrors.ErrInvalidRequest},
		{"duplicate asset", Request{Assets: []string{"USDC", "USDC"}, AmountsToConvert: zeros(2)}, apperrors.ErrInvalidRequest},
		{"negative amount", Request{Assets: []string{"USDC", "DAI"}, AmountsToConvert: []decimal.Decimal{decimal.Zero, d("-1")}}, apperrors.ErrInvalidRequest},
		{"unknown asset", Request{Assets: []string{"USDC", "WBTC"}, AmountsToConvert: zeros(2)}, apperrors.ErrUnknownAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.MakeRequestedAmount(ctx, snap, tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestConvertAfterWithdraw(t *testing.T) {
	tests := []struct {
		name          string
		threshold     string
		collateralOut string
		repaid        string
		leftDAI       string
	}{
		{"leftovers liquidated", "10", "120", "100", "0"},
		{"leftovers below liquidation threshold", "100", "60", "40", "60"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMarket("0", "100", "0")
			m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("60"), BorrowAmount: d("40")})

			res, err := newEngine(m, nil).ConvertAfterWithdraw(context.Background(), snapshot(t, m), ConvertRequest{
				Assets:               []string{"USDC", "DAI"},
				AmountsToConvert:     []decimal.Decimal{decimal.Zero, d("100")},
				LiquidationThreshold: d(tt.threshold),
			})
			require.NoError(t, err)

			assert.True(t, res.CollateralOut.Equal(d(tt.collateralOut)), res.CollateralOut.String())
			require.Len(t, res.RepaidAmountsOut, 2)
			assert.True(t, res.RepaidAmountsOut[0].IsZero())
			assert.True(t, res.RepaidAmountsOut[1].Equal(d(tt.repaid)), res.RepaidAmountsOut[1].String())
			assert.True(t, m.Balance("DAI").Equal(d(tt.leftDAI)))
			assert.Empty(t, m.Positions())
		})
	}
}

func TestConvertAfterWithdraw_ImpactedRoute(t *testing.T) {
	m := newMarket("0", "100", "0")
	m.AddRoute("DAI", "USDC", 50)
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("60"), BorrowAmount: d("40")})

	res, err := newEngine(m, nil).ConvertAfterWithdraw(context.Background(), snapshot(t, m), ConvertRequest{
		Assets:               []string{"USDC", "DAI"},
		AmountsToConvert:     []decimal.Decimal{decimal.Zero, d("100")},
		LiquidationThreshold: d("10"),
	})
	require.NoError(t, err)

	// 60 released plus 60 DAI sold for 59.7
	assert.True(t, res.CollateralOut.Equal(d("119.7")), res.CollateralOut.String())
	assert.True(t, res.RepaidAmountsOut[1].Equal(d("100")))
	assert.True(t, m.Balance("USDC").Equal(d("119.7")))
	assert.True(t, m.Balance("DAI").IsZero())
}

func TestClosePositionUsingMainAsset_Unprofitable(t *testing.T) {
	m := newMarket("107", "0", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("106"), BorrowAmount: d("107")})

	res, err := newEngine(m, nil).ClosePositionUsingMainAsset(context.Background(), snapshot(t, m), CloseRequest{
		MainAsset:      "USDC",
		SecondaryAsset: "DAI",
		AmountToSell:   d("107"),
	})
	require.NoError(t, err)

	assert.True(t, res.ExpectedAmountOut.IsZero())
	assert.Empty(t, res.Operations)
	assert.True(t, m.Balance("USDC").Equal(d("107")))
	assert.True(t, m.Balance("DAI").IsZero())
	assert.True(t, m.Positions()[0].BorrowAmount.Equal(d("107")))
}

func TestClosePositionUsingMainAsset_Profitable(t *testing.T) {
	m := newMarket("100", "0", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	// Selling more than the debt needs is reduced to the debt value
	res, err := newEngine(m, nil).ClosePositionUsingMainAsset(context.Background(), snapshot(t, m), CloseRequest{
		MainAsset:      "USDC",
		SecondaryAsset: "DAI",
		AmountToSell:   d("120"),
	})
	require.NoError(t, err)

	assert.True(t, res.ExpectedAmountOut.Equal(d("50")), res.ExpectedAmountOut.String())
	require.Len(t, res.Operations, 2)
	assert.True(t, res.Operations[0].AmountIn.Equal(d("100")))
	assert.True(t, m.Balance("USDC").Equal(d("150")))
	assert.Empty(t, m.Positions())
}

func TestClosePositionUsingMainAsset_ImpactedRoute(t *testing.T) {
	tests := []struct {
		name       string
		collateral string
		expected   string
		ops        int
		wallet     string
		debtLeft   string
	}{
		{"loss after impact is skipped", "100.5", "0", 0, "200", "100"},
		{"profit after impact", "150", "48.5", 2, "248.5", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMarket("200", "0", "0")
			m.AddRoute("USDC", "DAI", 100)
			m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d(tt.collateral), BorrowAmount: d("100")})

			res, err := newEngine(m, nil).ClosePositionUsingMainAsset(context.Background(), snapshot(t, m), CloseRequest{
				MainAsset:      "USDC",
				SecondaryAsset: "DAI",
				AmountToSell:   d("100"),
			})
			require.NoError(t, err)

			assert.True(t, res.ExpectedAmountOut.Equal(d(tt.expected)), res.ExpectedAmountOut.String())
			assert.Len(t, res.Operations, tt.ops)
			assert.True(t, m.Balance("USDC").Equal(d(tt.wallet)), m.Balance("USDC").String())
			require.Len(t, m.Positions(), 1)
			assert.True(t, m.Positions()[0].BorrowAmount.Equal(d(tt.debtLeft)))
		})
	}
}

func TestClosePositionUsingMainAsset_BelowThreshold(t *testing.T) {
	m := newMarket("100", "0", "0")
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	res, err := newEngine(m, nil).ClosePositionUsingMainAsset(context.Background(), snapshot(t, m), CloseRequest{
		MainAsset:            "USDC",
		SecondaryAsset:       "DAI",
		AmountToSell:         d("50"),
		LiquidationThreshold: d("60"),
	})
	require.NoError(t, err)
	assert.True(t, res.ExpectedAmountOut.IsZero())
	assert.True(t, m.Balance("USDC").Equal(d("100")))
}

func TestClosePositionUsingMainAsset_NoRoute(t *testing.T) {
	m := mock.NewMarket()
	m.AddAsset("USDC", 18, d("1"), d("100"))
	m.AddAsset("DAI", 18, d("1"), d("0"))
	m.AddPosition(core.DebtPosition{CollateralAsset: "USDC", BorrowAsset: "DAI", CollateralAmount: d("150"), BorrowAmount: d("100")})

	_, err := newEngine(m, nil).ClosePositionUsingMainAsset(context.Background(), snapshot(t, m), CloseRequest{
		MainAsset:      "USDC",
		SecondaryAsset: "DAI",
		AmountToSell:   d("100"),
	})
	assert.ErrorIs(t, err, apperrors.ErrNoLiquidationRoute)
	assert.True(t, m.Balance("USDC").Equal(d("100")))
}

func newPoolMarket() *mock.Market {
	m := newMarket("10", "0", "0")
	m.SetPool([]string{"USDC", "DAI"}, []decimal.Decimal{d("1000"), d("1000")}, d("100"), d("50"))
	return m
}

func TestWithdrawUniversal_ExitsShortfall(t *testing.T) {
	m := newPoolMarket()
	res, err := newEngine(m, m.Pool()).WithdrawUniversal(context.Background(), snapshot(t, m), Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: zeros(2),
		RequestedAmount:  d("60"),
	})
	require.NoError(t, err)

	// 50 short of a 1000 valued position: exit 2.5 of 50 liquidity
	require.Len(t, res.Operations, 3)
	assert.Equal(t, core.OperationPoolExit, res.Operations[0].Kind)
	assert.True(t, res.Operations[0].AmountIn.Equal(d("2.5")))
	assert.Equal(t, core.OperationSwap, res.Operations[2].Kind)
	assert.True(t, res.Withdrawn[0].Equal(d("25")))
	assert.True(t, res.Withdrawn[1].Equal(d("25")))
	assert.True(t, res.Obtained.Equal(d("60")), res.Obtained.String())

	liq, err := m.Pool().Liquidity(context.Background())
	require.NoError(t, err)
	assert.True(t, liq.Equal(d("47.5")))
	assert.True(t, m.Balance("USDC").Equal(d("60")))
}

func TestWithdrawUniversal_Unlimited(t *testing.T) {
	m := newPoolMarket()
	res, err := newEngine(m, m.Pool()).WithdrawUniversal(context.Background(), snapshot(t, m), Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: zeros(2),
		Unlimited:        true,
	})
	require.NoError(t, err)

	assert.True(t, res.Obtained.Equal(d("1010")), res.Obtained.String())
	liq, err := m.Pool().Liquidity(context.Background())
	require.NoError(t, err)
	assert.True(t, liq.IsZero())
}

func TestWithdrawUniversal_WalletCovers(t *testing.T) {
	m := newPoolMarket()
	res, err := newEngine(m, m.Pool()).WithdrawUniversal(context.Background(), snapshot(t, m), Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: zeros(2),
		RequestedAmount:  d("5"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Operations)
}

func TestWithdrawUniversal_RequiresDepositor(t *testing.T) {
	m := newPoolMarket()
	_, err := newEngine(m, nil).WithdrawUniversal(context.Background(), snapshot(t, m), Request{
		Assets:           []string{"USDC", "DAI"},
		AmountsToConvert: zeros(2),
		RequestedAmount:  d("60"),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}
