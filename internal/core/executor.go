package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"ferroci/internal/ctxlog"
)

// ErrCommandNotFound is reported when the shell ran but could not find or execute the step's program.
var ErrCommandNotFound = errors.New("command not found")

// StepReport records the execution of a single step.
type StepReport struct {
	Index      int
	Step       string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Err        error
}

// JobOutcome is the result of running all steps of one job.
// Err is nil when every step succeeded, otherwise a *StepLaunchError or *StepExitError.
type JobOutcome struct {
	Job        string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepReport
	Err        error
}

// Succeeded reports whether all steps of the job succeeded.
func (o JobOutcome) Succeeded() bool { return o.Err == nil }

// JobRunner runs one job to completion.
type JobRunner interface {
	RunJob(ctx context.Context, job Job) JobOutcome
}

// Executor runs job steps through the platform shell.
type Executor struct {
	Shell []string // interpreter and its command flag, e.g. sh -c
	Dir   string   // working directory, empty for the current one
	Env   []string // extra environment appended to the process environment
	Sink  StepSink // receives step output, nil discards it
	RunID string   // passed to the sink to group step output
}

// DefaultShell returns the command interpreter for the current platform.
func DefaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}

func NewExecutor() *Executor {
	return &Executor{Shell: DefaultShell()}
}

// RunJob executes the job's steps in order and stops at the first failure.
func (e *Executor) RunJob(ctx context.Context, job Job) JobOutcome {
	logger := ctxlog.FromContext(ctx).With("job", job.Name)
	outcome := JobOutcome{Job: job.Name, StartedAt: time.Now()}

	for i, step := range job.Steps {
		logger.Debug("Running step.", "step", i, "command", step)
		report := e.RunStep(ctx, job.Name, i, step)
		outcome.Steps = append(outcome.Steps, report)
		if report.Err != nil {
			logger.Warn("Step failed.", "step", i, "command", step, "error", report.Err)
			outcome.Err = report.Err
			break
		}
		logger.Info("Step succeeded.", "step", i, "command", step, "duration", report.FinishedAt.Sub(report.StartedAt))
	}

	outcome.FinishedAt = time.Now()
	return outcome
}

// RunStep runs a single step and classifies its failure, if any.
// The command always runs to natural completion; logCtx only carries the logger.
func (e *Executor) RunStep(logCtx context.Context, jobName string, index int, step string) (report StepReport) {
	report = StepReport{Index: index, Step: step, StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	shell := e.Shell
	if len(shell) == 0 {
		shell = DefaultShell()
	}
	args := append(append([]string(nil), shell[1:]...), step)
	cmd := exec.Command(shell[0], args...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}

	out := e.openOutput(logCtx, jobName, index, step)
	defer out.Close()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		report.ExitCode = -1
		report.Err = &StepLaunchError{Job: jobName, Index: index, Step: step, Err: err}
		return report
	}

	err := cmd.Wait()
	if err == nil {
		return report
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		report.ExitCode = -1
		report.Err = &StepLaunchError{Job: jobName, Index: index, Step: step, Err: err}
		return report
	}

	code := exitErr.ExitCode()
	report.ExitCode = code
	switch {
	case code == -1:
		report.Err = &StepExitError{Job: jobName, Index: index, Step: step, ExitCode: code,
			Signal: strings.TrimPrefix(exitErr.ProcessState.String(), "signal: ")}
	case isNotFoundStatus(shell[0], code):
		report.Err = &StepLaunchError{Job: jobName, Index: index, Step: step,
			Err: fmt.Errorf("%w: %s exit status %d", ErrCommandNotFound, filepath.Base(shell[0]), code)}
	default:
		report.Err = &StepExitError{Job: jobName, Index: index, Step: step, ExitCode: code}
	}
	return report
}

func (e *Executor) openOutput(logCtx context.Context, jobName string, index int, step string) io.WriteCloser {
	if e.Sink == nil {
		return nopCloser{io.Discard}
	}
	w, err := e.Sink.OpenStep(e.RunID, jobName, index, step)
	if err != nil {
		ctxlog.FromContext(logCtx).Warn("Cannot open step output, discarding it.", "job", jobName, "step", index, "error", err)
		return nopCloser{io.Discard}
	}
	return w
}

// isNotFoundStatus reports the exit codes a shell uses when it cannot find or run a program.
func isNotFoundStatus(shell string, code int) bool {
	switch strings.TrimSuffix(strings.ToLower(filepath.Base(shell)), ".exe") {
	case "cmd":
		return code == 9009
	case "powershell", "pwsh":
		return false
	default:
		return code == 126 || code == 127
	}
}
