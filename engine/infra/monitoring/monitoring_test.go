package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// counterValue sums the samples of the gathered family starting with prefix
// whose labels include every pair in want.
func counterValue(t *testing.T, families []*dto.MetricFamily, prefix string, want map[string]string) float64 {
	t.Helper()
	var total float64
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for k, v := range want {
				if labels[k] != v {
					matched = false
					break
				}
			}
			if matched {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestMetrics(t *testing.T) {
	t.Run("Should record attempts fallbacks units and tasks", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		m, err := NewMetrics(provider.Meter("test"))
		require.NoError(t, err)
		ctx := t.Context()
		m.ProviderAttempt(ctx, "primary", OutcomeFailure)
		m.ProviderAttempt(ctx, "primary", OutcomeSuccess)
		m.FallbackInvoked(ctx, OutcomeSuccess)
		m.UnitCompleted(ctx, "reading", OutcomeSuccess, 2*time.Second)
		m.TaskCompleted(ctx, "PAPER", "SUCCEEDED", time.Minute)

		got := collect(t, reader)
		assert.Equal(t, int64(2), sumOf(t, got["examforge_provider_attempts_total"]))
		assert.Equal(t, int64(1), sumOf(t, got["examforge_provider_fallback_total"]))
		assert.Equal(t, int64(1), sumOf(t, got["examforge_unit_completed_total"]))
		assert.Equal(t, int64(1), sumOf(t, got["examforge_task_completed_total"]))
		hist, ok := got["examforge_unit_duration_seconds"].Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	})

	t.Run("Should accept calls on the no-op recorder", func(t *testing.T) {
		r := Nop()
		assert.NotPanics(t, func() {
			r.ProviderAttempt(t.Context(), "primary", OutcomeSuccess)
			r.TaskCompleted(t.Context(), "INTENSIVE", "FAILED", time.Second)
		})
	})
}

func TestService(t *testing.T) {
	t.Run("Should expose recorded metrics over HTTP", func(t *testing.T) {
		svc, err := NewMonitoringService(t.Context(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		defer svc.Shutdown(t.Context())
		svc.Recorder().TaskCompleted(t.Context(), "PAPER", "SUCCEEDED", time.Second)

		rec := httptest.NewRecorder()
		svc.ExporterHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "examforge_task_completed")
	})

	t.Run("Should register labeled counters with the Prometheus registry", func(t *testing.T) {
		svc, err := NewMonitoringService(t.Context(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		defer svc.Shutdown(t.Context())
		rec := svc.Recorder()
		rec.TaskCompleted(t.Context(), "PAPER", "SUCCEEDED", time.Second)
		rec.TaskCompleted(t.Context(), "PAPER", "FAILED", time.Second)
		rec.TaskCompleted(t.Context(), "INTENSIVE", "SUCCEEDED", time.Second)
		rec.ProviderAttempt(t.Context(), "fallback", OutcomeFailure)

		families, err := svc.registry.Gather()
		require.NoError(t, err)
		assert.Equal(t, 2.0, counterValue(t, families, "examforge_task_completed", map[string]string{"status": "SUCCEEDED"}))
		assert.Equal(t, 1.0, counterValue(t, families, "examforge_task_completed", map[string]string{"kind": "PAPER", "status": "FAILED"}))
		assert.Equal(t, 1.0, counterValue(t, families, "examforge_provider_attempts", map[string]string{"provider": "fallback"}))
	})

	t.Run("Should answer 503 when disabled", func(t *testing.T) {
		svc, err := NewMonitoringService(t.Context(), nil)
		require.NoError(t, err)
		assert.False(t, svc.IsInitialized())
		rec := httptest.NewRecorder()
		svc.ExporterHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Should validate the path", func(t *testing.T) {
		_, err := NewMonitoringService(t.Context(), &Config{Enabled: true, Path: "metrics"})
		assert.Error(t, err)
	})
}
