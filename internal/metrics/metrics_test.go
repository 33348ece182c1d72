package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferroci/internal/core"
)

func TestCollectorCountsJobsAndRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()

	c.JobStarted(ctx, "r1", "build")
	c.JobStarted(ctx, "r1", "lint")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inFlight))

	c.JobFinished(ctx, "r1", core.JobOutcome{Job: "build", Steps: []core.StepReport{
		{Index: 0, StartedAt: now, FinishedAt: now.Add(time.Second)},
	}})
	c.JobFinished(ctx, "r1", core.JobOutcome{Job: "lint", Err: &core.StepExitError{Job: "lint", ExitCode: 1},
		Steps: []core.StepReport{{Index: 0, Err: &core.StepExitError{Job: "lint", ExitCode: 1}}},
	})
	c.RunFinished(&core.RunResult{Status: core.RunJobFailure})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobs.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("job_failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.steps))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}
