package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"converter_strategy/internal/config"
	"converter_strategy/internal/core"
	"converter_strategy/internal/infrastructure/health"
	"converter_strategy/internal/rebalance"
	"converter_strategy/internal/strategy"
	"converter_strategy/internal/withdraw"
	"converter_strategy/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Strategies = []config.StrategyConfig{
		{
			Name: "pair",
			Market: config.MarketConfig{
				Assets: []config.AssetConfig{
					{Symbol: "X", Decimals: 18, Price: d("1"), Balance: d("100")},
					{Symbol: "Y", Decimals: 18, Price: d("1"), Balance: d("190")},
				},
				Platforms: []config.PlatformConfig{{ID: "yx", CollateralAsset: "Y", BorrowAsset: "X", Ratio: d("1.5")}},
				Routes:    []config.RouteConfig{{TokenIn: "Y", TokenOut: "X"}},
			},
			Jobs: []config.JobConfig{
				{Kind: config.JobRebalance, Rebalance: &rebalance.Request{TokenX: "X", TokenY: "Y", Proportion: 50_000}},
				{Kind: config.JobRequestedAmount, Withdraw: &withdraw.Request{
					Assets:           []string{"X", "Y"},
					AmountsToConvert: []decimal.Decimal{decimal.Zero, d("50")},
					RequestedAmount:  d("150"),
				}},
			},
		},
		{
			Name: "pool",
			Market: config.MarketConfig{
				Assets: []config.AssetConfig{
					{Symbol: "A", Decimals: 6, Price: d("1"), Balance: d("0")},
					{Symbol: "B", Decimals: 18, Price: d("2"), Balance: d("0")},
				},
				Routes: []config.RouteConfig{{TokenIn: "B", TokenOut: "A"}},
				Pool: &config.PoolConfig{
					Assets:      []string{"A", "B"},
					Reserves:    []decimal.Decimal{d("1000"), d("500")},
					TotalSupply: d("100"),
					Owned:       d("10"),
				},
			},
			Jobs: []config.JobConfig{
				{Kind: config.JobWithdrawUniversal, Withdraw: &withdraw.Request{
					Assets:           []string{"A", "B"},
					AmountsToConvert: []decimal.Decimal{decimal.Zero, decimal.Zero},
					Unlimited:        true,
				}},
			},
		},
	}
	return cfg
}

func TestRunner_RunsAllJobs(t *testing.T) {
	cfg := testConfig()
	hm := health.NewHealthManager(nil)
	r, err := New(cfg, hm, logging.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Run(context.Background()))

	reports := r.Reports()
	require.Len(t, reports, 3)
	byStrategy := map[string][]JobReport{}
	for _, rep := range reports {
		assert.Empty(t, rep.Error)
		byStrategy[rep.Strategy] = append(byStrategy[rep.Strategy], rep)
	}

	pair := byStrategy["pair"]
	require.Len(t, pair, 2)
	assert.Equal(t, config.JobRebalance, pair[0].Kind)
	// 136 X after rebalancing plus 14 of the 50 Y swapped
	res := pair[1].Result.(withdraw.Result)
	assert.True(t, res.Obtained.Equal(d("150")), res.Obtained.String())

	pool := byStrategy["pool"]
	require.Len(t, pool, 1)
	// 100 A and 50 B withdrawn, B sold at 2
	assert.True(t, pool[0].Result.(withdraw.Result).Obtained.Equal(d("200")))

	entries, err := r.Journal().List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.True(t, hm.IsHealthy())
}

func TestRunner_ReportsFailedJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies = cfg.Strategies[:1]
	cfg.Strategies[0].Jobs = append(cfg.Strategies[0].Jobs, config.JobConfig{
		Kind:      config.JobLiquidate,
		Liquidate: &strategy.LiquidateRequest{TokenIn: "X", TokenOut: "Y", AmountIn: d("1")},
	})

	r, err := New(cfg, nil, logging.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no liquidation route")
	assert.Len(t, r.Reports(), 3)
}

func TestRunner_AlertsOnFailedJob(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Attachments []struct {
				Text string `json:"text"`
			} `json:"attachments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		for _, a := range body.Attachments {
			texts = append(texts, a.Text)
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Alerts.SlackWebhookURL = config.Secret(server.URL)
	cfg.Strategies = cfg.Strategies[:1]
	cfg.Strategies[0].Jobs = []config.JobConfig{{
		Kind:      config.JobLiquidate,
		Liquidate: &strategy.LiquidateRequest{TokenIn: "X", TokenOut: "Y", AmountIn: d("1")},
	}}

	r, err := New(cfg, nil, logging.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	require.Error(t, r.Run(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "no liquidation route")
}

func TestRunner_SQLiteJournalAndStaticOracle(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "journal.db")}
	cfg.Oracle = config.OracleConfig{Type: "static", Prices: map[string]decimal.Decimal{"X": d("1"), "Y": d("1"), "A": d("1"), "B": d("2")}}

	hm := health.NewHealthManager(nil)
	r, err := New(cfg, hm, logging.NewNopLogger())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Run(context.Background()))
	entries, err := r.Journal().List(context.Background(), "pair")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, strategy.KindRebalance, entries[0].Kind)
	assert.True(t, hm.IsHealthy())
}

func TestNewMarket(t *testing.T) {
	m, err := NewMarket(config.MarketConfig{
		Assets: []config.AssetConfig{{Symbol: "X", Decimals: 18, Price: d("1"), Balance: d("5")}},
		Debts:  []core.DebtPosition{{CollateralAsset: "X", BorrowAsset: "X", CollateralAmount: d("1"), BorrowAmount: d("1")}},
	})
	require.NoError(t, err)
	assert.True(t, m.Balance("X").Equal(d("5")))
	assert.Len(t, m.Positions(), 1)

	_, err = NewMarket(config.MarketConfig{Pool: &config.PoolConfig{Assets: []string{"X"}}})
	assert.Error(t, err)
}
