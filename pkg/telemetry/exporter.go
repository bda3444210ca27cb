package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs only the Prometheus meter provider, for runs with tracing disabled
func InitMetrics() error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	if err := GetGlobalMetrics().InitMetrics(provider.Meter("converter_strategy")); err != nil {
		return fmt.Errorf("failed to initialize instruments: %w", err)
	}
	return nil
}
