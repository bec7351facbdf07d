package billing

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the document engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	created         *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
}

// NewMetrics registers the billing collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_documents_created_total",
		Help: "Documents created partitioned by kind.",
	}, []string{"kind"})
	partial := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_partial_failures_total",
		Help: "Multi-step writes that persisted partially, by operation and compensation outcome.",
	}, []string{"op", "compensated"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_number_conflicts_total",
		Help: "Document number collisions retried by the service.",
	}, []string{"kind"})
	registerer.MustRegister(created, partial, conflicts)
	return &Metrics{created: created, partialFailures: partial, conflicts: conflicts}
}

func (m *Metrics) documentCreated(kind Kind) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) partialFailure(op string, compensated bool) {
	if m == nil {
		return
	}
	m.partialFailures.WithLabelValues(op, strconv.FormatBool(compensated)).Inc()
}

func (m *Metrics) numberConflict(kind Kind) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(string(kind)).Inc()
}
