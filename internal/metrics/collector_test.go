package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEngine = errors.New("engine down")

func TestCollector_ObserveHTTP(t *testing.T) {
	t.Parallel()

	collector := NewCollector(prometheus.NewRegistry())

	collector.ObserveHTTP(http.MethodPost, "/{version}/generate-audio", http.StatusOK, 200*time.Millisecond)
	collector.ObserveHTTP(http.MethodPost, "/{version}/generate-audio", http.StatusOK, 100*time.Millisecond)
	collector.ObserveHTTP(http.MethodPost, "/{version}/generate-audio", http.StatusBadRequest, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues(http.MethodPost, "/{version}/generate-audio", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues(http.MethodPost, "/{version}/generate-audio", "400")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(collector.httpRequestDuration))
}

func TestCollector_ObserveEngine(t *testing.T) {
	t.Parallel()

	collector := NewCollector(prometheus.NewRegistry())

	collector.ObserveEngine("synthesize", "v2", time.Second, nil)
	collector.ObserveEngine("synthesize", "v2", time.Second, errEngine)

	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.engineCallsTotal.WithLabelValues("synthesize", "v2", ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.engineCallsTotal.WithLabelValues("synthesize", "v2", ResultFailure)), 0)
}

func TestCollector_ObserveArtifactAndSweep(t *testing.T) {
	t.Parallel()

	collector := NewCollector(prometheus.NewRegistry())

	collector.ObserveArtifact("v1", "generate", 3*time.Second)
	collector.ObserveArtifact("v1", "generate", 0)
	collector.ObserveSweep(4)
	collector.ObserveSweep(0)
	collector.ObserveJob(nil)

	assert.InDelta(t, 2, testutil.ToFloat64(collector.artifactsTotal.WithLabelValues("v1", "generate")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(collector.artifactsSwept), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(collector.workerJobsTotal.WithLabelValues(ResultSuccess)), 0)
}

func TestCollector_Nil(t *testing.T) {
	t.Parallel()

	var collector *Collector

	assert.NotPanics(t, func() {
		collector.ObserveHTTP(http.MethodGet, "/", http.StatusOK, time.Millisecond)
		collector.ObserveEngine("convert", "v1", time.Millisecond, nil)
		collector.ObserveArtifact("v1", "convert", time.Second)
		collector.ObserveSweep(1)
		collector.ObserveJob(errEngine)
	})
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	collector := NewCollector(prometheus.NewRegistry())
	collector.ObserveHTTP(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `openvoice_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
