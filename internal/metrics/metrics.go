// Package metrics exposes Prometheus counters for the API, the inference
// gateway and the persist worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	predictions     *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	persisted       *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medscan_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_predictions_total",
			Help: "Inference calls by model type and outcome.",
		}, []string{"model_type", "outcome"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medscan_inference_latency_seconds",
			Help:    "Latency of calls to the inference endpoint.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_prediction_records_total",
			Help: "Prediction records handled by the persist worker.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscan_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.predictions,
		c.upstreamLatency,
		c.persisted,
		c.rateLimited,
	)
	return c
}

func (c *Collector) RecordHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordPrediction counts one inference call. outcome is "ok" or the
// failure kind.
func (c *Collector) RecordPrediction(modelType, outcome string, d time.Duration) {
	c.predictions.WithLabelValues(modelType, outcome).Inc()
	c.upstreamLatency.Observe(d.Seconds())
}

func (c *Collector) RecordPersisted(ok bool) {
	result := "stored"
	if !ok {
		result = "rejected"
	}
	c.persisted.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
