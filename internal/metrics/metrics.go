package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
Metrics Types:

- CounterVec: A counter with labels. Used for applied votes per poll and
  rejected votes per reason (duplicate, invalid_option, poll_unavailable,
  unknown_user).

- Histogram: Tracks the distribution of admission latency, so we see
  percentiles and not only the average.

- Gauge: The number of live subscribers. It goes up on join and down on
  leave or on a failed delivery.

Registration:
Everything is registered on the Registerer handed to NewMetrics. The server
passes the default registry (served on /metrics); tests pass a fresh
prometheus.NewRegistry() so several instances can coexist.
*/

type Metrics struct {
	VotesApplied     *prometheus.CounterVec
	VotesRejected    *prometheus.CounterVec
	AdmissionTime    *prometheus.HistogramVec
	Subscribers      prometheus.Gauge
	EventsDelivered  prometheus.Counter
	DeliveryFailures *prometheus.CounterVec
	StreamFailures   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VotesApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "votes_applied_total",
				Help:      "Total number of votes applied to a tally",
			},
			[]string{"poll_id"},
		),
		VotesRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "votes_rejected_total",
				Help:      "Total number of rejected vote attempts by reason",
			},
			[]string{"reason"},
		),
		AdmissionTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "vote_admission_seconds",
				Help:      "Histogram of vote admission times",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"outcome"},
		),
		Subscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "subscribers",
				Help:      "Number of live poll subscribers",
			},
		),
		EventsDelivered: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "events_delivered_total",
				Help:      "Total number of poll updates written to subscribers",
			},
		),
		DeliveryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "delivery_failures_total",
				Help:      "Total number of subscribers dropped after a failed delivery",
			},
			[]string{"cause"},
		),
		StreamFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "publish_failures_total",
				Help:      "Total number of applied votes that could not be written to the vote stream",
			},
		),
	}
}
