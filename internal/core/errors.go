package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPipeline   = errors.New("invalid pipeline")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
	ErrStall             = errors.New("pipeline stalled")
	ErrCanceled          = errors.New("run canceled")
)

// PipelineError wraps pipeline shape and validation failures.
type PipelineError struct {
	Kind error
	Msg  string
}

func (e *PipelineError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *PipelineError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &PipelineError{Kind: ErrInvalidPipeline, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	return &PipelineError{Kind: ErrCycle, Msg: strings.Join(path, " -> ")}
}

// StepLaunchError means the shell or the program named by the step could not be started.
type StepLaunchError struct {
	Job   string
	Index int
	Step  string
	Err   error
}

func (e *StepLaunchError) Error() string {
	return fmt.Sprintf("job %q step %d (%s): launch failed: %v", e.Job, e.Index, e.Step, e.Err)
}

func (e *StepLaunchError) Unwrap() error { return e.Err }

// StepExitError means the step ran but did not exit successfully.
// Signal is set instead of a meaningful ExitCode when the process was killed.
type StepExitError struct {
	Job      string
	Index    int
	Step     string
	ExitCode int
	Signal   string
}

func (e *StepExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("job %q step %d (%s): terminated by signal %s", e.Job, e.Index, e.Step, e.Signal)
	}
	return fmt.Sprintf("job %q step %d (%s): exit status %d", e.Job, e.Index, e.Step, e.ExitCode)
}

// JobFailureError is the run-level error reported when a job fails.
type JobFailureError struct {
	Job string
	Err error
}

func (e *JobFailureError) Error() string {
	return fmt.Sprintf("job %q failed: %v", e.Job, e.Err)
}

func (e *JobFailureError) Unwrap() error { return e.Err }

// FailedStep extracts the index and text of the failing step from a job error.
// ok is false when err does not come from a step.
func FailedStep(err error) (index int, step string, reason string, ok bool) {
	var launch *StepLaunchError
	if errors.As(err, &launch) {
		return launch.Index, launch.Step, "launch", true
	}
	var exit *StepExitError
	if errors.As(err, &exit) {
		return exit.Index, exit.Step, "exit", true
	}
	return 0, "", "", false
}
