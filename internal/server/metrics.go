package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	intentsTotal       *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	laneInFlight       *prometheus.GaugeVec
	refreshFailures    prometheus.Counter
}

func newMetricsRegistry() *metricsRegistry {
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenbank_intents_total",
		Help: "User intents received, by kind and disposition",
	}, []string{"kind", "status"})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenbank_confirmations_total",
		Help: "Terminal transaction outcomes, by kind",
	}, []string{"kind", "outcome"})

	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenbank_lane_in_flight",
		Help: "Whether a lane currently holds a pending intent",
	}, []string{"lane"})

	refreshFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokenbank_refresh_failures_total",
		Help: "Cache refresh reads that failed and retained the previous value",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(intents, confirmations, inFlight, refreshFailures)

	return &metricsRegistry{
		registry:           r,
		intentsTotal:       intents,
		confirmationsTotal: confirmations,
		laneInFlight:       inFlight,
		refreshFailures:    refreshFailures,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incIntent(kind, status string) {
	m.intentsTotal.WithLabelValues(kind, status).Inc()
}

func (m *metricsRegistry) incConfirmation(kind, outcome string) {
	m.confirmationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *metricsRegistry) setLane(lane string, pending bool) {
	v := 0.0
	if pending {
		v = 1.0
	}
	m.laneInFlight.WithLabelValues(lane).Set(v)
}

func (m *metricsRegistry) incRefreshFailure() {
	m.refreshFailures.Inc()
}
