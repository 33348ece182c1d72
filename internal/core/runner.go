package core

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"ferroci/internal/ctxlog"
	"ferroci/internal/ledger"
	"ferroci/internal/storage"
	"ferroci/pkg/utils"
)

// RunObserver is told about every terminal run result.
type RunObserver interface {
	RunFinished(res *RunResult)
}

// Runner ties together Scheduler + Executor + step logs + ledger.
type Runner struct {
	Options    SchedulerOptions
	Shell      []string
	Dir        string
	Strict     bool                // validate dependencies before running instead of stalling
	LogStorage *storage.LogStorage // nil disables step log files
	Stream     io.Writer           // step output echoed as "[job] line", nil disables
	Ledger     *ledger.Ledger      // nil disables the audit ledger
	SigningKey ed25519.PrivateKey  // signs ledger entries
	Observers  []Observer
	NewRunID   func() string
}

func NewRunner() *Runner {
	return &Runner{Shell: DefaultShell(), NewRunID: uuid.NewString}
}

// RunPipeline executes the pipeline once. The error is only set when the run
// could not start; the outcome of the run itself is in the result.
func (r *Runner) RunPipeline(ctx context.Context, p *Pipeline) (*RunResult, error) {
	if r.Strict {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	runID := ""
	if r.NewRunID != nil {
		runID = r.NewRunID()
	}
	logger := ctxlog.FromContext(ctx).With("run", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Info("Starting pipeline.", "version", p.Version, "jobs", p.Len())

	var sinks MultiSink
	if r.LogStorage != nil {
		sinks = append(sinks, r.LogStorage)
	}
	if r.Stream != nil {
		sinks = append(sinks, NewStreamSink(r.Stream))
	}
	executor := &Executor{Shell: r.Shell, Dir: r.Dir, RunID: runID}
	if len(sinks) > 0 {
		executor.Sink = sinks
	}

	observers := append([]Observer(nil), r.Observers...)
	if r.Ledger != nil {
		observers = append(observers, &ledgerRecorder{runner: r})
	}

	res := NewScheduler(executor, r.Options, observers...).RunWithID(ctx, runID, p)

	if r.Ledger != nil {
		entry := ledger.NewEntry(runID, ledger.RunEntryJob, string(res.Status))
		entry.Reason = res.FailedJob
		r.appendEntry(ctx, entry)
	}
	for _, obs := range r.Observers {
		if ro, ok := obs.(RunObserver); ok {
			ro.RunFinished(res)
		}
	}

	if err := res.Err(); err != nil {
		logger.Error("Pipeline finished unsuccessfully.", "status", res.Status, "error", err)
	} else {
		logger.Info("Pipeline finished successfully.", "duration", res.Duration())
	}
	return res, nil
}

func (r *Runner) appendEntry(ctx context.Context, e *ledger.Entry) {
	logger := ctxlog.FromContext(ctx)
	if err := r.Ledger.Append(e, r.SigningKey); err != nil {
		logger.Warn("Cannot append ledger entry.", "job", e.Job, "error", err)
		return
	}
	logger.Debug("Ledger entry appended.", "index", e.Index, "hash", e.Hash[:16])
}

// stepLogHash combines the hashes of every step log written for a job.
func (r *Runner) stepLogHash(runID string, o JobOutcome) (string, error) {
	if r.LogStorage == nil || len(o.Steps) == 0 {
		return "", nil
	}
	hashes := make([]string, 0, len(o.Steps))
	for _, s := range o.Steps {
		h, err := utils.HashFile(r.LogStorage.Path(runID, o.Job, s.Index))
		if err != nil {
			return "", err
		}
		hashes = append(hashes, h)
	}
	return utils.HashBytes([]byte(strings.Join(hashes, "\n"))), nil
}

// ledgerRecorder appends one ledger entry per finished job.
type ledgerRecorder struct {
	runner *Runner
}

func (l *ledgerRecorder) JobStarted(context.Context, string, string) {}

func (l *ledgerRecorder) JobFinished(ctx context.Context, runID string, o JobOutcome) {
	status := JobSucceeded
	if !o.Succeeded() {
		status = JobFailed
	}
	entry := ledger.NewEntry(runID, o.Job, string(status))
	if index, step, reason, ok := FailedStep(o.Err); ok {
		entry.FailedStep = &index
		entry.Reason = reason + ": " + step
		var exit *StepExitError
		if errors.As(o.Err, &exit) && exit.Signal == "" {
			entry.Reason += " (exit " + strconv.Itoa(exit.ExitCode) + ")"
		}
	}
	hash, err := l.runner.stepLogHash(runID, o)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Cannot hash step logs.", "job", o.Job, "error", err)
	}
	entry.LogHash = hash
	l.runner.appendEntry(ctx, entry)
}
