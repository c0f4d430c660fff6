// Package metrics provides Prometheus metrics for batch jobs and the
// upstream and downstream APIs they call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
)

var (
	// JobRunsTotal tracks completed job runs.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Total number of job runs by job and result",
		},
		[]string{"job", "result"},
	)

	// JobDuration tracks job wall time in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tracker",
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Duration of job runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"job"},
	)

	// JobItemsTotal accumulates summary counters (inserted, skipped, created...).
	JobItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "job",
			Name:      "items_total",
			Help:      "Summary counters reported by job runs",
		},
		[]string{"job", "counter"},
	)

	// JobErrorsTotal tracks recorded unit failures by kind.
	JobErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "job",
			Name:      "errors_total",
			Help:      "Unit failures recorded in job summaries",
		},
		[]string{"job", "kind"},
	)

	// ExternalCallsTotal tracks calls to external APIs by outcome.
	ExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "external",
			Name:      "calls_total",
			Help:      "Calls to external APIs by service, operation and outcome",
		},
		[]string{"service", "operation", "outcome"},
	)
)

// RecordJob folds a finished summary into the job metrics.
func RecordJob(s *model.Summary) {
	if s == nil {
		return
	}
	result := "clean"
	if s.Failed() > 0 {
		result = "with_errors"
	}
	JobRunsTotal.WithLabelValues(s.Job, result).Inc()
	if !s.FinishedAt.IsZero() {
		JobDuration.WithLabelValues(s.Job).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}
	for counter, n := range s.Counts {
		JobItemsTotal.WithLabelValues(s.Job, counter).Add(float64(n))
	}
	kinds := make(map[model.ErrorKind]int)
	for _, e := range s.Errors {
		kinds[e.Kind]++
	}
	for kind, n := range kinds {
		JobErrorsTotal.WithLabelValues(s.Job, string(kind)).Add(float64(n))
	}
	if s.Dropped > 0 {
		JobErrorsTotal.WithLabelValues(s.Job, "dropped").Add(float64(s.Dropped))
	}
}

// RecordCall counts one external call, labelled by its classified outcome.
func RecordCall(service, operation string, err error) {
	ExternalCallsTotal.WithLabelValues(service, operation, resilience.Classify(err).String()).Inc()
}
