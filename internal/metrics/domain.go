package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ryanbastic/go-fieldmap/internal/circuitbreaker"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/storage"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Coordinator operations by outcome.",
		},
		[]string{"op", "result"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		},
		[]string{"breaker"},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "editing_sessions",
			Help:      "Editing sessions currently held in memory.",
		},
	)
)

// Result classifies an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case persist.IsValidation(err):
		return "invalid"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrForbidden):
		return "forbidden"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// Operations counts coordinator outcomes. It implements persist.Observer.
type Operations struct{}

func (Operations) ObserveOperation(op string, err error) {
	operationsTotal.WithLabelValues(op, Result(err)).Inc()
}

// BreakerStateChanged exports breaker transitions; pass it to
// circuitbreaker.OnStateChange.
func BreakerStateChanged(name string, _, to circuitbreaker.State) {
	breakerState.WithLabelValues(name).Set(float64(to))
}

// SessionOpened and SessionClosed track the editing session gauge.
func SessionOpened() { sessionsActive.Inc() }

func SessionClosed() { sessionsActive.Dec() }
