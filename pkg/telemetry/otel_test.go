package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service")
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestSetupWithOptions_SpansWritten(t *testing.T) {
	var spans bytes.Buffer
	tel, err := SetupWithOptions(Options{ServiceName: "span-test", ServiceVersion: "v0.0.1", TraceOutput: &spans})
	require.NoError(t, err)

	_, span := GetTracer("span-test").Start(context.Background(), "rebalance")
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Contains(t, spans.String(), "rebalance")
}

func TestMetricsHolder_Recording(t *testing.T) {
	tel, err := SetupWithOptions(Options{ServiceName: "metrics-test"})
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	m := GetGlobalMetrics()
	ctx := context.Background()
	m.RecordOperation(ctx, "s1", "borrow")
	m.RecordSkip(ctx, "below_threshold")
	m.RecordCall(ctx, "s1", "rebalance", 1.5, false)
	m.RecordObtained(ctx, "s1", "USDC", 100)

	m.SetBalances("s1", map[string]float64{"USDC": 136, "WETH": 0.5})
	got := m.GetBalances("s1")
	assert.Equal(t, 136.0, got["USDC"])

	got["USDC"] = 0
	assert.Equal(t, 136.0, m.GetBalances("s1")["USDC"], "GetBalances must return a copy")
}

func TestMetricsHolder_UninitializedIsNoop(t *testing.T) {
	m := &MetricsHolder{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordOperation(ctx, "s", "swap")
		m.RecordSkip(ctx, "x")
		m.RecordCall(ctx, "s", "withdraw", 1, true)
		m.RecordObtained(ctx, "s", "USDC", 1)
	})
}
