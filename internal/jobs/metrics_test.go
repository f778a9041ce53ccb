package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	tr := m.Track("cooldown:purge")
	tr.Affected(3)
	assert.NoError(t, tr.End(nil))

	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("cooldown:purge").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("cooldown:purge", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("cooldown:purge", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("cooldown:purge")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.affected.WithLabelValues("cooldown:purge")))
}

func TestNilMetricsTrackerIsNoop(t *testing.T) {
	var m *Metrics
	tr := m.Track("rbac:sweep_expired")
	tr.Affected(10)
	assert.NoError(t, tr.End(nil))
}
