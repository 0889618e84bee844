package registry

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	botsGauge    prometheus.Gauge
	reloadsTotal *prometheus.CounterVec
	metricsOnce  sync.Once
)

// initMetrics registers the registry metrics once per process.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer

		if testing.Testing() {
			// Use isolated registry in tests to avoid metric collisions
			registry = prometheus.NewRegistry()
		}

		botsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bottica",
			Subsystem: "registry",
			Name:      "bots",
			Help:      "Number of bots in the registry.",
		})

		reloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bottica",
			Subsystem: "registry",
			Name:      "file_loads_total",
			Help:      "Total number of configuration file loads by result.",
		}, []string{"result"})

		registry.MustRegister(botsGauge, reloadsTotal)
	})
}

func updateBots(n int) {
	if botsGauge != nil {
		botsGauge.Set(float64(n))
	}
}

func observeReload(result string) {
	if reloadsTotal != nil {
		reloadsTotal.WithLabelValues(result).Inc()
	}
}
