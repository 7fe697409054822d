package heal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("selfheal.heal")

var (
	// attemptsTotal counts stage attempts.
	// Labels: strategy, outcome (accepted, rejected, panic)
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "selfheal",
		Subsystem: "heal",
		Name:      "attempts_total",
		Help:      "Healing stage attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	// resolveSeconds measures whole resolutions.
	// Labels: outcome (resolved, exhausted)
	resolveSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "selfheal",
		Subsystem: "heal",
		Name:      "resolve_seconds",
		Help:      "Time spent resolving a target",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	// confidence tracks scores returned by the scored strategies.
	// Labels: strategy
	confidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "selfheal",
		Subsystem: "heal",
		Name:      "confidence",
		Help:      "Distribution of strategy confidence scores",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.35, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	}, []string{"strategy"})
)
