package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"evguard/internal/model"
)

const namespace = "evguard"

const (
	DropMalformed    = "malformed"
	DropBackpressure = "backpressure"
)

// Collectors groups the Prometheus series exported by the detector. All methods are safe on a
// nil receiver so components can run without metrics.
type Collectors struct {
	eventsObserved   *prometheus.CounterVec
	ingestDropped    *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	observeLatency   *prometheus.HistogramVec
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		eventsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_observed_total",
			Help:      "Records evaluated by a detector.",
		}, []string{"stream"}),
		ingestDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_dropped_total",
			Help:      "Records dropped at ingress, by reason.",
		}, []string{"stream", "reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted, by rule.",
		}, []string{"rule"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_delivery_failed_total",
			Help:      "Alert forwards that failed or timed out, by forwarder.",
		}, []string{"forwarder"}),
		observeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "observe_duration_seconds",
			Help:      "Time spent evaluating and delivering one record.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"stream"}),
	}
	if reg != nil {
		reg.MustRegister(c.eventsObserved, c.ingestDropped, c.alerts, c.deliveryFailures, c.observeLatency)
	}
	return c
}

func (c *Collectors) Observed(stream model.Stream, took time.Duration) {
	if c == nil {
		return
	}
	c.eventsObserved.WithLabelValues(string(stream)).Inc()
	c.observeLatency.WithLabelValues(string(stream)).Observe(took.Seconds())
}

func (c *Collectors) Dropped(stream model.Stream, reason string) {
	if c == nil {
		return
	}
	c.ingestDropped.WithLabelValues(string(stream), reason).Inc()
}

func (c *Collectors) Alert(rule model.RuleID) {
	if c == nil {
		return
	}
	c.alerts.WithLabelValues(string(rule)).Inc()
}

func (c *Collectors) DeliveryFailed(forwarder string) {
	if c == nil {
		return
	}
	c.deliveryFailures.WithLabelValues(forwarder).Inc()
}
