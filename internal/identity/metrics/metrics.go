package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity registry.
type Metrics struct {
	IdentitiesCreated     prometheus.Counter
	IdentitiesVerified    prometheus.Counter
	IdentitiesDeactivated prometheus.Counter
	DuplicatesRejected    *prometheus.CounterVec
	MutationDuration      *prometheus.HistogramVec
}

// New creates a new Metrics instance with all registry metrics registered.
func New() *Metrics {
	return &Metrics{
		IdentitiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_identities_created_total",
			Help: "Total number of identities created",
		}),
		IdentitiesVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_identities_verified_total",
			Help: "Total number of verification events recorded",
		}),
		IdentitiesDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_identities_deactivated_total",
			Help: "Total number of identities deactivated",
		}),
		DuplicatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_identity_duplicates_rejected_total",
			Help: "Create/update attempts rejected by a uniqueness key",
		}, []string{"field"}),
		MutationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veriledger_identity_mutation_duration_seconds",
			Help:    "End-to-end duration of registry mutations, minting included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

// ObserveMutation records the duration of one registry mutation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMutation(operation string, start time.Time) {
	m.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementDuplicateRejected records a uniqueness rejection for field.
func (m *Metrics) IncrementDuplicateRejected(field string) {
	m.DuplicatesRejected.WithLabelValues(field).Inc()
}
