package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Heal outcome labels.
const (
	OutcomeResolved         = "resolved"
	OutcomeFailed           = "failed"
	OutcomeRateLimited      = "rate_limited"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeObserved         = "observed"
)

var (
	issuesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen_heal",
			Name:      "issues_detected_total",
			Help:      "Total issues detected, partitioned by issue type.",
		},
		[]string{"type"},
	)

	healsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen_heal",
			Name:      "heals_total",
			Help:      "Remediation attempts partitioned by outcome. Rate-limited and capacity skips are deliberate, not failures.",
		},
		[]string{"outcome"},
	)

	lastCheckTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lumen_heal",
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time of the last completed detection pass.",
		},
	)

	detectionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lumen_heal",
			Name:      "detection_seconds",
			Help:      "Detection pass latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)

	resolutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lumen_heal",
			Name:      "resolution_seconds",
			Help:      "End-to-end remediation latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)
)

// Register attaches lumen-heal collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		issuesDetectedTotal,
		healsTotal,
		lastCheckTimestamp,
		detectionSeconds,
		resolutionSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// IncIssueDetected counts one detected issue of the given type.
func IncIssueDetected(issueType string) {
	issuesDetectedTotal.WithLabelValues(issueType).Inc()
}

// ObserveHeal records a remediation outcome; pass a zero duration for skips
// that never reached execution.
func ObserveHeal(outcome string, duration time.Duration) {
	healsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeResolved || outcome == OutcomeFailed {
		if duration < 0 {
			duration = 0
		}
		resolutionSeconds.Observe(duration.Seconds())
	}
}

// ObserveDetection records the latency of one detection pass and refreshes
// the last-check gauge.
func ObserveDetection(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	detectionSeconds.Observe(duration.Seconds())
	lastCheckTimestamp.SetToCurrentTime()
}
