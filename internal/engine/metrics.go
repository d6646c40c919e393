package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus instruments on a private registry so
// multiple engines (tests) never collide.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	registrationsTotal *prometheus.CounterVec
	refundsTotal       *prometheus.CounterVec
	depositQueueDepth  prometheus.Gauge
	refundQueueDepth   prometheus.Gauge
}

func newMetrics() *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basednames_requests_total",
		Help: "Intake requests by outcome",
	}, []string{"outcome"})

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basednames_registrations_total",
		Help: "Name registration attempts by status",
	}, []string{"status"})

	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basednames_refunds_total",
		Help: "Refund attempts by status",
	}, []string{"status"})

	depositDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "basednames_deposit_queue_depth",
		Help: "Items waiting on the deposit queue",
	})

	refundDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "basednames_refund_queue_depth",
		Help: "Items waiting on the refund queue",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(requests, registrations, refunds, depositDepth, refundDepth)

	return &Metrics{
		registry:           r,
		requestsTotal:      requests,
		registrationsTotal: registrations,
		refundsTotal:       refunds,
		depositQueueDepth:  depositDepth,
		refundQueueDepth:   refundDepth,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incRequest(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incRegistration(status string) {
	m.registrationsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) incRefund(status string) {
	m.refundsTotal.WithLabelValues(status).Inc()
}
