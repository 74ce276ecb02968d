// =================================
// File: internal/metrics/collector.go
// =================================
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "position_monitor"

// Collector owns the monitor's Prometheus metrics. All methods are safe on a
// nil receiver so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	polls            *prometheus.CounterVec
	lagEvents        prometheus.Counter
	recommendations  *prometheus.CounterVec
	orders           *prometheus.CounterVec
	personaDegraded  *prometheus.CounterVec
	sinkFailures     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestRetries   *prometheus.CounterVec
	trackedPositions prometheus.Gauge
	pollSeq          prometheus.Gauge
}

// NewCollector registers the metrics on reg. A fresh registry is created
// when reg is nil.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		gatherer: reg,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles by outcome (ok, degraded)",
		}, []string{"outcome"}),
		lagEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lag_events_total",
			Help:      "Poll cycles whose processing overran the interval",
		}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Recommendations emitted by verdict",
		}, []string{"verdict"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Exit orders by status",
		}, []string{"status"}),
		personaDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persona_degraded_total",
			Help:      "Persona evaluations replaced with a degraded hold",
		}, []string{"persona"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_sink_failures_total",
			Help:      "Event sink write failures",
		}, []string{"sink"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_request_duration_seconds",
			Help:      "Exchange request attempt latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"class", "result"}),
		requestRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_retries_total",
			Help:      "Exchange request retries by class and error kind",
		}, []string{"class", "kind"}),
		trackedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_positions",
			Help:      "Positions currently held in the cache",
		}),
		pollSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_seq",
			Help:      "Sequence number of the last poll",
		}),
	}

	reg.MustRegister(
		c.polls, c.lagEvents, c.recommendations, c.orders, c.personaDegraded,
		c.sinkFailures, c.requestDuration, c.requestRetries, c.trackedPositions, c.pollSeq,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObservePoll(pollSeq uint64, degraded bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	c.polls.WithLabelValues(outcome).Inc()
	c.pollSeq.Set(float64(pollSeq))
}

func (c *Collector) IncLag() {
	if c == nil {
		return
	}
	c.lagEvents.Inc()
}

func (c *Collector) IncRecommendation(verdict string) {
	if c == nil {
		return
	}
	c.recommendations.WithLabelValues(verdict).Inc()
}

func (c *Collector) IncOrder(status string) {
	if c == nil {
		return
	}
	c.orders.WithLabelValues(status).Inc()
}

func (c *Collector) IncPersonaDegraded(persona string) {
	if c == nil {
		return
	}
	c.personaDegraded.WithLabelValues(persona).Inc()
}

func (c *Collector) IncSinkFailure(sink string) {
	if c == nil {
		return
	}
	c.sinkFailures.WithLabelValues(sink).Inc()
}

// ObserveRequest records one exchange request attempt.
func (c *Collector) ObserveRequest(class string, d time.Duration, ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.requestDuration.WithLabelValues(class, result).Observe(d.Seconds())
}

func (c *Collector) IncRetry(class, kind string) {
	if c == nil {
		return
	}
	c.requestRetries.WithLabelValues(class, kind).Inc()
}

func (c *Collector) SetTrackedPositions(n int) {
	if c == nil {
		return
	}
	c.trackedPositions.Set(float64(n))
}
