// Package metrics exposes Prometheus metrics for the HTTP surface and the
// synthesis engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "openvoice"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector holds the service metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	engineCallsTotal   *prometheus.CounterVec
	engineCallDuration *prometheus.HistogramVec

	artifactsTotal  *prometheus.CounterVec
	audioDuration   *prometheus.HistogramVec
	artifactsSwept  prometheus.Counter
	workerJobsTotal *prometheus.CounterVec
}

// NewCollector registers the metrics with reg. Registering two collectors on
// the same registry panics.
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		gatherer: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		),
		engineCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "engine_calls_total",
				Help:      "Total number of inference engine calls",
			},
			[]string{"operation", "version", "result"},
		),
		engineCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "engine_call_duration_seconds",
				Help:      "Inference engine call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "version"},
		),
		artifactsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "artifacts_total",
				Help:      "Total number of audio artifacts produced",
			},
			[]string{"version", "operation"},
		),
		audioDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "audio_duration_seconds",
				Help:      "Duration of produced audio in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"version"},
		),
		artifactsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "artifacts_swept_total",
				Help:      "Total number of expired artifacts removed",
			},
		),
		workerJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "worker_jobs_total",
				Help:      "Total number of NATS jobs handled",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveHTTP records a finished request. route is the matched route pattern.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}

	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveEngine records one engine call.
func (c *Collector) ObserveEngine(operation, version string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}

	c.engineCallsTotal.WithLabelValues(operation, version, result(err)).Inc()
	c.engineCallDuration.WithLabelValues(operation, version).Observe(elapsed.Seconds())
}

// ObserveArtifact records a stored artifact. A zero duration is not observed.
func (c *Collector) ObserveArtifact(version, operation string, duration time.Duration) {
	if c == nil {
		return
	}

	c.artifactsTotal.WithLabelValues(version, operation).Inc()

	if duration > 0 {
		c.audioDuration.WithLabelValues(version).Observe(duration.Seconds())
	}
}

// ObserveSweep records removed artifacts.
func (c *Collector) ObserveSweep(removed int) {
	if c == nil || removed <= 0 {
		return
	}

	c.artifactsSwept.Add(float64(removed))
}

// ObserveJob records a handled worker job.
func (c *Collector) ObserveJob(err error) {
	if c == nil {
		return
	}

	c.workerJobsTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}

	return ResultSuccess
}
