package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePublish(OutcomeSuccess)
	m.ObservePublish(OutcomeSuccess)
	m.ObservePublish(OutcomeFailed)
	m.ObserveCompensation("delete_repository", nil)
	m.ObserveCompensation("delete_repository", errors.New("boom"))
	m.ObserveProbeError("fail-open")
	m.ObserveStage("create_repository", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensations.WithLabelValues("delete_repository", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensations.WithLabelValues("delete_repository", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probeErrors.WithLabelValues("fail-open")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePublish(OutcomeSuccess)
		m.ObserveStage("x", time.Second)
		m.ObserveCompensation("x", nil)
		m.ObserveProbeError("fail-open")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObservePublish(OutcomeRejected)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pagehost_publish_total{outcome="rejected"} 1`)
}
