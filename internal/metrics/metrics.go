// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so several collectors can coexist in one
// process. A nil *Collector records nothing.
type Collector struct {
	reg *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	attempts        prometheus.Histogram
	backendWins     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final stage.",
		}, []string{"stage", "success"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquisition_attempts",
			Help:      "Acquisition attempts used per lookup.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		backendWins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_winner_total",
			Help:      "Extraction arbitration winners by backend.",
		}, []string{"backend"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveRun records one pipeline run. mode is "lookup" or "file".
func (c *Collector) ObserveRun(mode, stage string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(stage, strconv.FormatBool(success)).Inc()
	c.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (c *Collector) ObserveAttempts(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.attempts.Observe(float64(n))
}

func (c *Collector) ObserveWinner(backend string) {
	if c == nil || backend == "" {
		return
	}
	c.backendWins.WithLabelValues(backend).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestTime.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Registry is exposed for tests and for registering extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }
