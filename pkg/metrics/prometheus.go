package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	replaced    *prometheus.CounterVec
	subscribers prometheus.Gauge
	deliveries  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the hub metrics on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the hub metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalhub_envelopes_published_total",
				Help: "Envelopes accepted by the broadcast engine",
			},
			[]string{"kind"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalhub_envelopes_dropped_total",
				Help: "Envelopes dropped because a subscriber queue was full",
			},
			[]string{"kind"},
		),
		replaced: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalhub_envelopes_replaced_total",
				Help: "Queued market ticks evicted in favour of a newer tick",
			},
			[]string{"kind"},
		),
		subscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalhub_subscribers",
				Help: "Currently registered dashboard subscribers",
			},
		),
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalhub_delivery_attempts_total",
				Help: "Completed delivery attempts by destination and outcome",
			},
			[]string{"destination", "status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalhub_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalhub_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordPublished(kind string) {
	r.published.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordDropped(kind string) {
	r.dropped.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordReplaced(kind string) {
	r.replaced.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordSubscribers(n int) {
	r.subscribers.Set(float64(n))
}

// RecordDelivery counts a finished attempt against destination.
func (r *Recorder) RecordDelivery(destination, status string) {
	r.deliveries.WithLabelValues(destination, status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordPublished(string)        {}
func (Nop) RecordDropped(string)          {}
func (Nop) RecordReplaced(string)         {}
func (Nop) RecordSubscribers(int)         {}
func (Nop) RecordDelivery(string, string) {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
