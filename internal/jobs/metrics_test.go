package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("access:warmup").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("access:warmup").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("access:warmup", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("access:warmup", "failure")))
	assert.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("access:warmup")))
}

func TestAddWarmed(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddWarmed(3)
	m.AddWarmed(0)
	m.AddWarmed(-1)
	assert.Equal(t, 3.0, counterValue(t, m.warmed))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddWarmed(2)
}
