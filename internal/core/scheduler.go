package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ferroci/internal/ctxlog"
)

// SchedulerOptions tunes dispatch.
type SchedulerOptions struct {
	// MaxParallel caps how many jobs run at once. Zero means no cap: every
	// runnable job gets its own goroutine and process immediately, so a graph
	// with many simultaneously runnable jobs spawns that many processes.
	MaxParallel int
	// PollInterval switches from waking on each job completion to re-scanning
	// on a fixed interval. Zero keeps the event-driven wake-up.
	PollInterval time.Duration
}

// Observer is notified as jobs start and finish. Calls come from the
// scheduler's coordinating goroutine, one at a time and in run order.
type Observer interface {
	JobStarted(ctx context.Context, runID, job string)
	JobFinished(ctx context.Context, runID string, outcome JobOutcome)
}

// Scheduler decides execution order of jobs and dispatches them concurrently.
type Scheduler struct {
	runner    JobRunner
	opts      SchedulerOptions
	observers []Observer
}

// NewScheduler creates a new scheduler that runs jobs with runner.
func NewScheduler(runner JobRunner, opts SchedulerOptions, observers ...Observer) *Scheduler {
	return &Scheduler{runner: runner, opts: opts, observers: observers}
}

// runState is owned by the coordinating goroutine of one Run call.
type runState struct {
	result    *RunResult
	pipeline  *Pipeline
	succeeded map[string]bool
	completed int
	inFlight  int
}

// runnable returns the pending jobs whose dependencies all succeeded, in name order.
// The map key is the job's identity; Name is set from it.
func (st *runState) runnable() []Job {
	var jobs []Job
	for _, name := range st.pipeline.Names() {
		if st.result.Jobs[name].State != JobPending {
			continue
		}
		job := st.pipeline.Jobs[name]
		if DependenciesSatisfied(job, st.succeeded) {
			job.Name = name
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Run executes the pipeline and returns once every dispatched job has finished.
//
// A job failure stops further dispatch, as does cancellation of ctx; jobs
// already running are waited for, never abandoned. When no job can run and
// none is running while some are still pending, the run stalls.
func (s *Scheduler) Run(ctx context.Context, p *Pipeline) *RunResult {
	return s.RunWithID(ctx, "", p)
}

// RunWithID is Run with a caller-chosen run identifier passed to observers.
func (s *Scheduler) RunWithID(ctx context.Context, runID string, p *Pipeline) *RunResult {
	logger := ctxlog.FromContext(ctx).With("run", runID)
	st := &runState{
		result:    newRunResult(runID, p),
		pipeline:  p,
		succeeded: make(map[string]bool, p.Len()),
	}

	var slots *semaphore.Weighted
	if s.opts.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(s.opts.MaxParallel))
	}

	// Buffered so a finishing task never blocks on the coordinator.
	events := make(chan JobOutcome, p.Len())
	jobCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()

	var ticker *time.Ticker
	if s.opts.PollInterval > 0 {
		ticker = time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
	}

	done := ctx.Done()
	stopping := false
	canceled := false

	handle := func(o JobOutcome) {
		st.inFlight--
		st.completed++
		rep := st.result.Jobs[o.Job]
		rep.StartedAt, rep.FinishedAt = o.StartedAt, o.FinishedAt
		rep.Steps, rep.Err = o.Steps, o.Err
		if o.Succeeded() {
			rep.State = JobSucceeded
			st.succeeded[o.Job] = true
			logger.Info("Job succeeded.", "job", o.Job, "duration", o.FinishedAt.Sub(o.StartedAt))
		} else {
			rep.State = JobFailed
			logger.Error("Job failed.", "job", o.Job, "error", o.Err)
			if st.result.FailedJob == "" {
				st.result.FailedJob, st.result.Failure = o.Job, o.Err
				if st.inFlight > 0 {
					logger.Warn("Stopping dispatch, waiting for running jobs.", "in_flight", st.inFlight)
				}
			}
			stopping = true
		}
		for _, obs := range s.observers {
			obs.JobFinished(ctx, runID, o)
		}
	}

	drain := func() {
		for {
			select {
			case o := <-events:
				handle(o)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-done:
			if !stopping {
				logger.Warn("Run canceled, waiting for running jobs.", "in_flight", st.inFlight)
			}
			stopping, canceled, done = true, true, nil
		default:
		}

		if !stopping {
			st.result.Rounds++
			for _, job := range st.runnable() {
				if slots != nil && !slots.TryAcquire(1) {
					break
				}
				st.result.Jobs[job.Name].State = JobRunning
				st.inFlight++
				logger.Info("Running job.", "job", job.Name)
				for _, obs := range s.observers {
					obs.JobStarted(ctx, runID, job.Name)
				}
				wg.Add(1)
				go func(job Job) {
					defer wg.Done()
					outcome := s.runner.RunJob(jobCtx, job)
					outcome.Job = job.Name
					if slots != nil {
						slots.Release(1)
					}
					events <- outcome
				}(job)
			}
		}

		if st.inFlight == 0 {
			break
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-done:
			}
			drain()
			continue
		}
		select {
		case o := <-events:
			handle(o)
			drain()
		case <-done:
		}
	}

	res := st.result
	switch {
	case res.FailedJob != "":
		res.Status = RunJobFailure
	case st.completed == p.Len():
		// every job finished even if ctx was canceled meanwhile
		res.Status = RunSuccess
	case canceled:
		res.Status = RunCanceled
	default:
		res.Status = RunStall
		logger.Error("No job can run; possible dependency cycle or unknown dependency.", "pending", res.Pending())
	}
	res.FinishedAt = time.Now()
	return res
}
