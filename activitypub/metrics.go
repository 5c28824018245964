package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks federation traffic. A nil *Metrics records nothing.
type Metrics struct {
	Deliveries          *prometheus.CounterVec
	DeliveryLatency     prometheus.Histogram
	Fetches             *prometheus.CounterVec
	SignatureRejections *prometheus.CounterVec
	Ingestions          *prometheus.CounterVec
}

// NewMetrics creates and registers the federation metrics on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		Deliveries: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fedimag_deliveries_total",
			Help: "Outbound activity deliveries by result",
		}, []string{"result"}),
		DeliveryLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "fedimag_delivery_duration_seconds",
			Help:    "Time spent posting an activity to a remote inbox",
			Buckets: prometheus.DefBuckets,
		}),
		Fetches: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fedimag_remote_fetches_total",
			Help: "Remote document lookups by kind and result",
		}, []string{"kind", "result"}),
		SignatureRejections: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fedimag_signature_rejections_total",
			Help: "Inbound requests refused by the signature validator",
		}, []string{"reason"}),
		Ingestions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "fedimag_ingestions_total",
			Help: "Inbound objects by ingestion outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) delivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) deliveryTime(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryLatency.Observe(seconds)
}

func (m *Metrics) fetch(kind, result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) rejection(reason SignatureReason) {
	if m == nil {
		return
	}
	m.SignatureRejections.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) ingestion(outcome string) {
	if m == nil {
		return
	}
	m.Ingestions.WithLabelValues(outcome).Inc()
}
