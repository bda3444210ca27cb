package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOperationsTotal   = "converter_strategy_operations_total"
	MetricSkippedTotal      = "converter_strategy_skipped_total"
	MetricCallDuration      = "converter_strategy_call_duration_ms"
	MetricCallFailuresTotal = "converter_strategy_call_failures_total"
	MetricWalletBalance     = "converter_strategy_wallet_balance"
	MetricDebtOutstanding   = "converter_strategy_debt_outstanding"
	MetricObtainedAmount    = "converter_strategy_obtained_amount"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OperationsTotal   metric.Int64Counter
	SkippedTotal      metric.Int64Counter
	CallDuration      metric.Float64Histogram
	CallFailuresTotal metric.Int64Counter
	WalletBalance     metric.Float64ObservableGauge
	DebtOutstanding   metric.Float64ObservableGauge
	ObtainedAmount    metric.Float64Histogram

	// State for observable gauges, keyed by strategy then asset / pair
	mu         sync.RWMutex
	balanceMap map[string]map[string]float64
	debtMap    map[string]map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			balanceMap: make(map[string]map[string]float64),
			debtMap:    make(map[string]map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OperationsTotal, err = meter.Int64Counter(MetricOperationsTotal, metric.WithDescription("Executed repay/borrow/swap/pool_exit operations"))
	if err != nil {
		return err
	}

	m.SkippedTotal, err = meter.Int64Counter(MetricSkippedTotal, metric.WithDescription("Operations skipped below threshold or as unprofitable"))
	if err != nil {
		return err
	}

	m.CallDuration, err = meter.Float64Histogram(MetricCallDuration, metric.WithDescription("Duration of strategy engine calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.CallFailuresTotal, err = meter.Int64Counter(MetricCallFailuresTotal, metric.WithDescription("Strategy engine calls reverted by a fatal error"))
	if err != nil {
		return err
	}

	m.ObtainedAmount, err = meter.Float64Histogram(MetricObtainedAmount, metric.WithDescription("Target asset amount held after a withdrawal"))
	if err != nil {
		return err
	}

	m.WalletBalance, err = meter.Float64ObservableGauge(MetricWalletBalance, metric.WithDescription("Wallet balance after the last engine call"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for strategy, assets := range m.balanceMap {
				for asset, val := range assets {
					obs.Observe(val, metric.WithAttributes(attribute.String("strategy", strategy), attribute.String("asset", asset)))
				}
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.DebtOutstanding, err = meter.Float64ObservableGauge(MetricDebtOutstanding, metric.WithDescription("Outstanding borrowed amount per collateral/borrow pair"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for strategy, pairs := range m.debtMap {
				for pair, val := range pairs {
					obs.Observe(val, metric.WithAttributes(attribute.String("strategy", strategy), attribute.String("pair", pair)))
				}
			}
			return nil
		}))
	return err
}

// RecordOperation counts one executed operation
func (m *MetricsHolder) RecordOperation(ctx context.Context, strategy, kind string) {
	if m.OperationsTotal == nil {
		return
	}
	m.OperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy), attribute.String("kind", kind)))
}

// RecordSkip counts one gated no-op
func (m *MetricsHolder) RecordSkip(ctx context.Context, reason string) {
	if m.SkippedTotal == nil {
		return
	}
	m.SkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCall records latency and outcome of an engine call
func (m *MetricsHolder) RecordCall(ctx context.Context, strategy, call string, durationMs float64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("strategy", strategy), attribute.String("call", call))
	if m.CallDuration != nil {
		m.CallDuration.Record(ctx, durationMs, attrs)
	}
	if failed && m.CallFailuresTotal != nil {
		m.CallFailuresTotal.Add(ctx, 1, attrs)
	}
}

// RecordObtained records the target amount obtained by a withdrawal
func (m *MetricsHolder) RecordObtained(ctx context.Context, strategy, asset string, amount float64) {
	if m.ObtainedAmount == nil {
		return
	}
	m.ObtainedAmount.Record(ctx, amount, metric.WithAttributes(attribute.String("strategy", strategy), attribute.String("asset", asset)))
}

// SetBalances replaces the observed wallet balances of a strategy
func (m *MetricsHolder) SetBalances(strategy string, balances map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceMap[strategy] = balances
}

// SetDebts replaces the observed debts of a strategy
func (m *MetricsHolder) SetDebts(strategy string, debts map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debtMap[strategy] = debts
}

// GetBalances returns a copy of the observed balances of a strategy
func (m *MetricsHolder) GetBalances(strategy string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.balanceMap[strategy] {
		res[k] = v
	}
	return res
}
