package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilotdeck_upgrades_total",
			Help: "Total number of container upgrades by outcome",
		},
		[]string{"outcome"},
	)

	upgradeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pilotdeck_upgrade_duration_seconds",
			Help:    "Wall-clock duration of container upgrades",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	dependentWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pilotdeck_dependent_warnings_total",
			Help: "Total number of non-fatal dependent-container warnings",
		},
	)
)

// Upgrade outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RecordUpgrade records one finished upgrade attempt
func RecordUpgrade(outcome string, duration time.Duration) {
	upgradesTotal.WithLabelValues(outcome).Inc()
	upgradeDuration.Observe(duration.Seconds())
}

// RecordDependentWarnings adds to the dependent warning counter
func RecordDependentWarnings(count int) {
	if count > 0 {
		dependentWarningsTotal.Add(float64(count))
	}
}
