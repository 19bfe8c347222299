package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	BlocksMinted     prometheus.Counter
	MintDuration     prometheus.Histogram
	ChainValidations *prometheus.CounterVec
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		BlocksMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_blocks_minted_total",
			Help: "Total number of blocks appended to the chain",
		}),
		MintDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriledger_block_mint_duration_seconds",
			Help:    "Duration of admission-policy sealing per block",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		ChainValidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_chain_validations_total",
			Help: "Chain validation runs by result",
		}, []string{"result"}),
	}
}

// ObserveMint records a successful block mint and its sealing duration.
// Call with time.Now() at the start of the seal.
func (m *Metrics) ObserveMint(start time.Time) {
	m.BlocksMinted.Inc()
	m.MintDuration.Observe(time.Since(start).Seconds())
}

// IncrementValidation records a chain validation run.
func (m *Metrics) IncrementValidation(ok bool) {
	result := "ok"
	if !ok {
		result = "tampered"
	}
	m.ChainValidations.WithLabelValues(result).Inc()
}
