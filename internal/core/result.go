package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RunStatus is the terminal result of a pipeline run.
type RunStatus string

const (
	RunSuccess    RunStatus = "success"
	RunStall      RunStatus = "stall"
	RunJobFailure RunStatus = "job_failure"
	RunCanceled   RunStatus = "canceled"
)

// JobReport is the per-job record of a run.
type JobReport struct {
	Name       string
	State      JobState
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepReport
	Err        error
}

// RunResult summarises one run. Completion (the job finished) and success are
// separate facts: a failed job is completed but not succeeded.
type RunResult struct {
	ID         string
	Status     RunStatus
	FailedJob  string
	Failure    error
	Jobs       map[string]*JobReport
	Rounds     int
	StartedAt  time.Time
	FinishedAt time.Time
}

func newRunResult(id string, p *Pipeline) *RunResult {
	r := &RunResult{ID: id, Jobs: make(map[string]*JobReport, p.Len()), StartedAt: time.Now()}
	for name := range p.Jobs {
		r.Jobs[name] = &JobReport{Name: name, State: JobPending}
	}
	return r
}

func (r *RunResult) namesWhere(keep func(*JobReport) bool) []string {
	var names []string
	for name, j := range r.Jobs {
		if keep(j) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Completed returns the jobs that finished, successfully or not.
func (r *RunResult) Completed() []string {
	return r.namesWhere(func(j *JobReport) bool { return j.State.Finished() })
}

// Succeeded returns the jobs whose steps all succeeded.
func (r *RunResult) Succeeded() []string {
	return r.namesWhere(func(j *JobReport) bool { return j.State == JobSucceeded })
}

// Failed returns every job that failed. Only the first one decides FailedJob.
func (r *RunResult) Failed() []string {
	return r.namesWhere(func(j *JobReport) bool { return j.State == JobFailed })
}

// Pending returns the jobs that never started.
func (r *RunResult) Pending() []string {
	return r.namesWhere(func(j *JobReport) bool { return j.State == JobPending })
}

// Duration is the wall-clock length of the run.
func (r *RunResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Err converts the result into an error, nil on success.
func (r *RunResult) Err() error {
	switch r.Status {
	case RunSuccess:
		return nil
	case RunJobFailure:
		return &JobFailureError{Job: r.FailedJob, Err: r.Failure}
	case RunCanceled:
		return ErrCanceled
	default:
		return fmt.Errorf("%w: no runnable job among %s (dependency cycle or unknown dependency)",
			ErrStall, strings.Join(r.Pending(), ", "))
	}
}
