package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// bookingOutcomes counts create requests by outcome: confirmed, replayed,
	// contention, error or a rejection reason.
	bookingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_booking_requests_total",
			Help: "Booking create requests by outcome.",
		},
		[]string{"outcome"},
	)

	// reserveDuration observes the locked reservation step including retries.
	reserveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slotbook_reserve_duration_seconds",
			Help:    "Duration of the booking critical section, lock waits included.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// sideEffectAttempts counts saga step attempts by step and result.
	sideEffectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotbook_side_effect_attempts_total",
			Help: "Post-commit side effect attempts by step and result.",
		},
		[]string{"step", "result"},
	)
)

func init() {
	prometheus.MustRegister(bookingOutcomes, reserveDuration, sideEffectAttempts)
}
