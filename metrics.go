package main

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics are exposed on /metrics so the generator itself can be scraped
// alongside whatever is ingesting its output.
type Metrics struct {
	Registry *prometheus.Registry

	emitted *prometheus.CounterVec
}

func NewMetrics(health *ProcessHealth) *Metrics {
	registry := prometheus.NewRegistry()

	emitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loggen",
		Name:      "emitted_total",
		Help:      "Access log lines emitted, by endpoint and simulated status.",
	}, []string{"endpoint", "status"})

	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "loggen",
		Name:      "active_routes",
		Help:      "Route schedulers currently running.",
	}, func() float64 {
		return float64(health.ActiveRoutes())
	})

	registry.MustRegister(
		emitted,
		active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry: registry,
		emitted:  emitted,
	}
}

// Observe counts one emitted entry. A nil Metrics is a noop.
func (m *Metrics) Observe(route *RouteSpec, entry *LogEntry) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(route.Path(), strconv.Itoa(entry.StatusCode)).Inc()
}
