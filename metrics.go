package bottica

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultVerified   = "verified"
	resultRejected   = "rejected"
	resultUnknownBot = "unknown_bot"
)

var (
	verificationsTotal   *prometheus.CounterVec
	verificationDuration prometheus.Histogram
	metricsOnce          sync.Once
)

// initMetrics registers the verification metrics once per process.
func initMetrics() {
	metricsOnce.Do(func() {
		var registry prometheus.Registerer = prometheus.DefaultRegisterer

		if testing.Testing() {
			// Use isolated registry in tests to avoid metric collisions
			registry = prometheus.NewRegistry()
		}

		verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bottica",
			Name:      "verifications_total",
			Help:      "Total number of bot verifications by bot and result.",
		}, []string{"bot", "result"})

		verificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bottica",
			Name:      "verification_duration_seconds",
			Help:      "Time taken to verify a bot, including DNS lookups.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		})

		registry.MustRegister(verificationsTotal, verificationDuration)
	})
}

func observeVerification(bot, result string, d time.Duration) {
	if verificationsTotal == nil {
		return
	}
	verificationsTotal.WithLabelValues(bot, result).Inc()
	if result != resultUnknownBot {
		verificationDuration.Observe(d.Seconds())
	}
}
