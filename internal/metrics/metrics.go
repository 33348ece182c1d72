// Package metrics exposes prometheus collectors for pipeline runs.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"ferroci/internal/core"
)

// Collector records run, job and step metrics. It implements core.Observer.
type Collector struct {
	runs     *prometheus.CounterVec
	jobs     *prometheus.CounterVec
	inFlight prometheus.Gauge
	steps    *prometheus.HistogramVec
}

var _ core.Observer = (*Collector)(nil)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ferroci",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ferroci",
			Name:      "jobs_total",
			Help:      "Finished jobs by state.",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ferroci",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running.",
		}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ferroci",
			Name:      "step_duration_seconds",
			Help:      "Step wall-clock duration by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"outcome"}),
	}
	for _, col := range []prometheus.Collector{c.runs, c.jobs, c.inFlight, c.steps} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) JobStarted(_ context.Context, _, _ string) {
	c.inFlight.Inc()
}

func (c *Collector) JobFinished(_ context.Context, _ string, outcome core.JobOutcome) {
	c.inFlight.Dec()
	status := core.JobSucceeded
	if !outcome.Succeeded() {
		status = core.JobFailed
	}
	c.jobs.WithLabelValues(string(status)).Inc()

	for _, s := range outcome.Steps {
		label := "success"
		if _, _, reason, failed := core.FailedStep(s.Err); failed {
			label = reason
		}
		c.steps.WithLabelValues(label).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}
}

// RunFinished counts a terminal run result.
func (c *Collector) RunFinished(res *core.RunResult) {
	c.runs.WithLabelValues(string(res.Status)).Inc()
}
