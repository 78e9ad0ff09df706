package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	categoryInserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmaster_category_inserts_total",
		Help: "Category insertions by outcome",
	}, []string{"backend", "outcome"})

	sourceUnloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmaster_source_unloads_total",
		Help: "Sources unloaded from the graph",
	}, []string{"backend"})

	matchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmaster_matches_total",
		Help: "Lookups by result (hit, miss, error)",
	}, []string{"backend", "result"})

	matchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphmaster_match_duration_seconds",
		Help:    "Lookup latency",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.1},
	}, []string{"backend"})
)

func observeInsert(backend string, o Outcome) {
	categoryInserts.WithLabelValues(backend, o.String()).Inc()
}

func observeMatch(backend string, start time.Time, m *Match, err error) {
	matchLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		matchResults.WithLabelValues(backend, "error").Inc()
	case m == nil:
		matchResults.WithLabelValues(backend, "miss").Inc()
	default:
		matchResults.WithLabelValues(backend, "hit").Inc()
	}
}
