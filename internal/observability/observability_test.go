package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, initReportInstruments(provider))
	return reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestRecordAPICallCountsByProviderAndOutcome(t *testing.T) {
	reader := setupTestMeter(t)
	ctx := context.Background()

	RecordAPICall(ctx, "openai", true)
	RecordAPICall(ctx, "openai", true)
	RecordAPICall(ctx, "openai", false)
	RecordAPICall(ctx, "google", true)

	m, found := findMetric(t, reader, "seo.external.api_call.total")
	require.True(t, found, "api call counter should be registered")

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byKey := map[string]int64{}
	for _, dp := range sum.DataPoints {
		provider, _ := dp.Attributes.Value(attribute.Key("api.provider"))
		success, _ := dp.Attributes.Value(attribute.Key("api.success"))
		byKey[provider.AsString()+"/"+success.Emit()] = dp.Value
	}

	assert.Equal(t, int64(2), byKey["openai/true"])
	assert.Equal(t, int64(1), byKey["openai/false"])
	assert.Equal(t, int64(1), byKey["google/true"])
}

func TestRecordReportDurationEmitsStatus(t *testing.T) {
	reader := setupTestMeter(t)
	ctx := context.Background()

	RecordReportDuration(ctx, "site-1", 1500*time.Millisecond, false)

	m, found := findMetric(t, reader, "seo.report.duration_ms")
	require.True(t, found)

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)

	dp := hist.DataPoints[0]
	status, _ := dp.Attributes.Value(attribute.Key("report.status"))
	assert.Equal(t, "error", status.AsString())
	assert.Equal(t, 1500.0, dp.Sum)
}

func TestRecordAPICallWithoutInit(t *testing.T) {
	prev := apiCallTotal
	apiCallTotal = nil
	defer func() { apiCallTotal = prev }()

	RecordAPICall(context.Background(), "openai", true)
}
