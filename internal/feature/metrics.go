package feature

import "github.com/prometheus/client_golang/prometheus"

var fallbackTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokerd",
		Subsystem: "fallback",
		Name:      "requests_total",
		Help:      "Feature requests by serving path (cli or remote)",
	},
	[]string{"feature", "path"},
)

func init() {
	prometheus.MustRegister(fallbackTotal)
}

func observeFallback(feature, path string) {
	fallbackTotal.WithLabelValues(feature, path).Inc()
}
