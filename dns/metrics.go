package dns

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lookupsTotal *prometheus.CounterVec
	metricsOnce  sync.Once
)

// initMetrics registers the lookup metrics once per process.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer

		if testing.Testing() {
			// Use isolated registry in tests to avoid metric collisions
			registry = prometheus.NewRegistry()
		}

		lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bottica",
			Subsystem: "dns",
			Name:      "lookups_total",
			Help:      "Total number of DNS lookups by kind and outcome.",
		}, []string{"kind", "status"})

		registry.MustRegister(lookupsTotal)
	})
}

func observeLookup(kind string, status Status) {
	if lookupsTotal != nil {
		lookupsTotal.WithLabelValues(kind, status.String()).Inc()
	}
}
