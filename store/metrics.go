package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var StatementCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docstore",
	Subsystem: "store",
	Name:      "statements",
}, []string{"table", "op"})

var StatementErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docstore",
	Subsystem: "store",
	Name:      "statement_errors",
}, []string{"table", "op"})

var ConflictCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docstore",
	Subsystem: "store",
	Name:      "update_conflicts",
}, []string{"table"})

var StatementDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "docstore",
	Subsystem: "store",
	Name:      "statement_duration_ms",
	Buckets:   []float64{0.5, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
}, []string{"table", "op"})

// RegisterMetrics registers the store metrics with reg. Registering twice is
// not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{StatementCount, StatementErrors, ConflictCount, StatementDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
