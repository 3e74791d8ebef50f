package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	slotsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "brokerd",
			Subsystem: "pool",
			Name:      "slots_active",
			Help:      "Currently leased process slots",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "brokerd",
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Requests waiting for a free slot",
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brokerd",
			Subsystem: "requests",
			Name:      "total",
			Help:      "Total requests by terminal state",
		},
		[]string{"state"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "brokerd",
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Duration from submission to terminal state",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(slotsActive, queueDepth, requestsTotal, requestDuration)
}

// observeOccupancy refreshes the pool gauges from a snapshot.
func observeOccupancy(active, queued int) {
	slotsActive.Set(float64(active))
	queueDepth.Set(float64(queued))
}

// observeTerminal records one request reaching a terminal state.
func observeTerminal(state RequestState, since time.Time) {
	requestsTotal.WithLabelValues(string(state)).Inc()
	requestDuration.WithLabelValues(string(state)).Observe(time.Since(since).Seconds())
}
