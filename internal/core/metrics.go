package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "answer_engine",
		Name:      "turns_total",
		Help:      "Chat turns by transport mode and outcome",
	}, []string{"mode", "outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "answer_engine",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a chat turn from search to persistence",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"mode"})

	fragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "answer_engine",
		Name:      "fragments_total",
		Help:      "Generated text fragments received from the generation backend",
	})
)

func observeTurn(mode string, err error, elapsed time.Duration) {
	turnsTotal.WithLabelValues(mode, outcome(err)).Inc()
	turnDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return KindOf(err).String()
	}
}
