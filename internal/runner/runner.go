// Package runner builds strategy instances from configuration and executes
// their jobs, one worker per strategy.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"converter_strategy/internal/alert"
	"converter_strategy/internal/config"
	"converter_strategy/internal/core"
	"converter_strategy/internal/infrastructure/health"
	"converter_strategy/internal/mock"
	"converter_strategy/internal/pricing"
	"converter_strategy/internal/strategy"
	"converter_strategy/pkg/concurrency"
)

// JobReport is the outcome of one job
type JobReport struct {
	Strategy string      `json:"strategy"`
	Index    int         `json:"index"`
	Kind     string      `json:"kind"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type instance struct {
	strategy *strategy.Strategy
	market   *mock.Market
	jobs     []config.JobConfig
}

// Runner owns the strategies, their journal and the job worker pool
type Runner struct {
	instances []instance
	journal   core.IJournalStore
	closeFn   func() error
	pool      *concurrency.WorkerPool
	alerts    *alert.AlertManager
	logger    core.ILogger

	mu      sync.Mutex
	reports []JobReport
}

// New builds every configured strategy; hm may be nil
func New(cfg *config.Config, hm *health.HealthManager, logger core.ILogger) (*Runner, error) {
	journal, closeFn, err := newJournal(cfg.Storage)
	if err != nil {
		return nil, err
	}
	book := newPriceBook(cfg.Oracle, logger)

	r := &Runner{
		journal: journal,
		closeFn: closeFn,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "jobs",
			MaxWorkers:  cfg.Concurrency.JobPoolSize,
			MaxCapacity: cfg.Concurrency.JobPoolBuffer,
		}, logger),
		alerts: newAlertManager(cfg.Alerts, logger),
		logger: logger.WithField("component", "runner"),
	}

	opts := strategy.Options{
		SlippageBps:  cfg.Engine.SlippageBps,
		ToleranceBps: cfg.Engine.PriceImpactToleranceBps,
	}
	for _, sc := range cfg.Strategies {
		market, err := NewMarket(sc.Market)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
		deps := strategy.Deps{Market: market, PriceBook: book, Journal: journal}
		if sc.Market.Pool != nil {
			deps.Depositor = market.Pool()
		}
		r.instances = append(r.instances, instance{
			strategy: strategy.New(sc.Name, deps, opts, logger),
			market:   market,
			jobs:     sc.Jobs,
		})
	}

	if hm != nil {
		hm.Register("journal", func() error {
			_, err := journal.List(context.Background(), "")
			return err
		})
		if book != nil {
			hm.Register("oracle", func() error {
				for _, in := range r.instances {
					for asset := range in.market.Balances() {
						if _, err := book.GetPrice(context.Background(), asset); err != nil {
							return err
						}
					}
				}
				return nil
			})
		}
	}
	return r, nil
}

func newAlertManager(cfg config.AlertsConfig, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.SlackWebhookURL != "" {
		am.AddChannel(alert.NewSlackChannel(cfg.SlackWebhookURL.Reveal()))
	}
	if cfg.TelegramBotToken != "" {
		am.AddChannel(alert.NewTelegramChannel(cfg.TelegramBotToken.Reveal(), cfg.TelegramChatID))
	}
	return am
}

func newJournal(cfg config.StorageConfig) (core.IJournalStore, func() error, error) {
	if cfg.Type == "sqlite" {
		j, err := strategy.NewSQLiteJournal(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return j, j.Close, nil
	}
	return strategy.NewMemoryJournal(), func() error { return nil }, nil
}

// newPriceBook returns nil for the market oracle; strategies then validate against market prices
func newPriceBook(cfg config.OracleConfig, logger core.ILogger) core.IPriceBook {
	switch cfg.Type {
	case "static":
		return pricing.NewStaticPriceBook(cfg.Prices)
	case "http":
		return pricing.NewHTTPPriceBook(pricing.HTTPPriceBookConfig{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout(),
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
			CacheTTL:  cfg.CacheTTL(),
			APIKey:    cfg.APIKey.Reveal(),
		}, logger)
	}
	return nil
}

// NewMarket seeds an in-memory market from configuration
func NewMarket(cfg config.MarketConfig) (*mock.Market, error) {
	m := mock.NewMarket()
	for _, a := range cfg.Assets {
		m.AddAsset(a.Symbol, a.Decimals, a.Price, a.Balance)
	}
	for _, p := range cfg.Platforms {
		m.AddPlatform(mock.Platform{
			ID:              p.ID,
			CollateralAsset: p.CollateralAsset,
			BorrowAsset:     p.BorrowAsset,
			Ratio:           p.Ratio,
			APR:             p.APR,
			MaxCollateral:   p.MaxCollateral,
		})
	}
	for _, d := range cfg.Debts {
		m.AddPosition(d)
	}
	for _, r := range cfg.Routes {
		m.AddRoute(r.TokenIn, r.TokenOut, r.ImpactBps)
	}
	if p := cfg.Pool; p != nil {
		if len(p.Assets) != len(p.Reserves) {
			return nil, errors.New("pool assets and reserves differ in length")
		}
		m.SetPool(p.Assets, p.Reserves, p.TotalSupply, p.Owned)
	}
	return m, nil
}

// Run executes the jobs of every strategy, strategies concurrently and jobs in
// order. A failed job is reported and does not stop the following ones.
func (r *Runner) Run(ctx context.Context) error {
	tasks := make([]func(ctx context.Context) error, 0, len(r.instances))
	for _, in := range r.instances {
		in := in
		tasks = append(tasks, func(ctx context.Context) error {
			for i, job := range in.jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := runJob(ctx, in.strategy, job)
				report := JobReport{Strategy: in.strategy.Name(), Index: i, Kind: job.Kind, Result: res}
				if err != nil {
					report.Error = err.Error()
					r.logger.Error("Job failed", "strategy", report.Strategy, "index", i, "kind", job.Kind, "error", err)
					r.alertFailure(ctx, report)
				} else {
					r.logger.Info("Job completed", "strategy", report.Strategy, "index", i, "kind", job.Kind)
				}
				r.record(report)
			}
			return nil
		})
	}

	if err := r.pool.RunAll(ctx, tasks); err != nil {
		return err
	}
	return r.failures()
}

func runJob(ctx context.Context, s *strategy.Strategy, job config.JobConfig) (interface{}, error) {
	switch job.Kind {
	case config.JobRebalance:
		return s.Rebalance(ctx, *job.Rebalance)
	case config.JobRequestedAmount:
		return s.MakeRequestedAmount(ctx, *job.Withdraw)
	case config.JobWithdrawUniversal:
		return s.WithdrawUniversal(ctx, *job.Withdraw)
	case config.JobConvertAfter:
		return s.ConvertAfterWithdraw(ctx, *job.Convert)
	case config.JobClosePosition:
		return s.ClosePositionUsingMainAsset(ctx, *job.Close)
	case config.JobLiquidate:
		return s.Liquidate(ctx, *job.Liquidate)
	}
	return nil, fmt.Errorf("unknown job kind %q", job.Kind)
}

func (r *Runner) alertFailure(ctx context.Context, report JobReport) {
	fields := map[string]string{
		"strategy": report.Strategy,
		"job":      fmt.Sprintf("%d", report.Index),
		"kind":     report.Kind,
	}
	if err := r.alerts.Alert(ctx, "Strategy job failed", report.Error, alert.Error, fields); err != nil {
		r.logger.Warn("Alert delivery incomplete", "error", err)
	}
}

func (r *Runner) record(report JobReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *Runner) failures() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, rep := range r.reports {
		if rep.Error != "" {
			errs = append(errs, fmt.Errorf("%s job %d (%s): %s", rep.Strategy, rep.Index, rep.Kind, rep.Error))
		}
	}
	return errors.Join(errs...)
}

// Reports returns the job outcomes in completion order
func (r *Runner) Reports() []JobReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JobReport(nil), r.reports...)
}

// Journal returns the store every strategy journals into
func (r *Runner) Journal() core.IJournalStore {
	return r.journal
}

// Close stops the worker pool and closes the journal
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.closeFn()
}
