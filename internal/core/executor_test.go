package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("steps below use POSIX shell syntax")
	}
}

func TestRunJobSucceeds(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	e := NewExecutor()
	e.Dir = dir

	outcome := e.RunJob(context.Background(), Job{Name: "build", Steps: []string{
		`echo "hello world" | tr a-z A-Z > out.txt`,
		`test "$(cat out.txt)" = "HELLO WORLD"`,
	}})

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "build", outcome.Job)
	require.Len(t, outcome.Steps, 2)
	assert.False(t, outcome.FinishedAt.Before(outcome.StartedAt))
}

func TestRunJobStopsAtFirstFailure(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	e := NewExecutor()
	e.Dir = dir

	outcome := e.RunJob(context.Background(), Job{Name: "test", Steps: []string{
		"touch s1",
		"exit 3",
		"touch s3",
	}})

	var exitErr *StepExitError
	require.ErrorAs(t, outcome.Err, &exitErr)
	assert.Equal(t, "test", exitErr.Job)
	assert.Equal(t, 1, exitErr.Index)
	assert.Equal(t, "exit 3", exitErr.Step)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Len(t, outcome.Steps, 2)

	assert.FileExists(t, filepath.Join(dir, "s1"))
	assert.NoFileExists(t, filepath.Join(dir, "s3"))
}

func TestRunStepClassifiesFailures(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()

	t.Run("missing program is a launch failure", func(t *testing.T) {
		report := NewExecutor().RunStep(ctx, "x", 0, "ferroci-no-such-program --flag")
		var launch *StepLaunchError
		require.ErrorAs(t, report.Err, &launch)
		assert.ErrorIs(t, report.Err, ErrCommandNotFound)
		assert.Equal(t, 127, report.ExitCode)
	})

	t.Run("missing interpreter is a launch failure", func(t *testing.T) {
		e := &Executor{Shell: []string{filepath.Join(t.TempDir(), "no-shell"), "-c"}}
		report := e.RunStep(ctx, "x", 0, "echo hi")
		var launch *StepLaunchError
		require.ErrorAs(t, report.Err, &launch)
		assert.ErrorIs(t, report.Err, os.ErrNotExist)
		assert.Equal(t, -1, report.ExitCode)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		report := NewExecutor().RunStep(ctx, "x", 2, "false")
		var exitErr *StepExitError
		require.ErrorAs(t, report.Err, &exitErr)
		assert.Equal(t, 1, exitErr.ExitCode)
		assert.Equal(t, 2, exitErr.Index)
		assert.Empty(t, exitErr.Signal)
	})

	t.Run("killed by signal", func(t *testing.T) {
		report := NewExecutor().RunStep(ctx, "x", 0, "kill -9 $$")
		var exitErr *StepExitError
		require.ErrorAs(t, report.Err, &exitErr)
		assert.Equal(t, "killed", exitErr.Signal)
		assert.ErrorContains(t, report.Err, "terminated by signal killed")
	})

	t.Run("environment is passed", func(t *testing.T) {
		e := NewExecutor()
		e.Env = []string{"FERROCI_STAGE=test"}
		report := e.RunStep(ctx, "x", 0, `test "$FERROCI_STAGE" = test`)
		assert.NoError(t, report.Err)
	})
}

func TestFailedStep(t *testing.T) {
	index, step, reason, ok := FailedStep(&JobFailureError{Job: "x", Err: &StepExitError{Index: 4, Step: "make"}})
	require.True(t, ok)
	assert.Equal(t, 4, index)
	assert.Equal(t, "make", step)
	assert.Equal(t, "exit", reason)

	_, _, reason, ok = FailedStep(&StepLaunchError{Index: 0, Step: "sh", Err: errors.New("boom")})
	require.True(t, ok)
	assert.Equal(t, "launch", reason)

	_, _, _, ok = FailedStep(errors.New("other"))
	assert.False(t, ok)
}

func TestIsNotFoundStatus(t *testing.T) {
	assert.True(t, isNotFoundStatus("sh", 127))
	assert.True(t, isNotFoundStatus("/bin/bash", 126))
	assert.False(t, isNotFoundStatus("sh", 1))
	assert.True(t, isNotFoundStatus(`C:\Windows\System32\cmd.exe`, 9009))
	assert.False(t, isNotFoundStatus("cmd", 127))
	assert.False(t, isNotFoundStatus("pwsh", 127))
}

func TestExecutorWritesToSink(t *testing.T) {
	skipOnWindows(t)
	var buf bytes.Buffer
	e := NewExecutor()
	e.Sink = NewStreamSink(&buf)

	outcome := e.RunJob(context.Background(), Job{Name: "build", Steps: []string{"echo one; echo two >&2", "printf tail"}})
	require.NoError(t, outcome.Err)
	assert.Equal(t, "[build] one\n[build] two\n[build] tail\n", buf.String())
}

func TestRunStepFinishesUnderCanceledContext(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExecutor()
	e.Dir = t.TempDir()

	report := e.RunStep(ctx, "build", 0, "sleep 0.05 && echo done > marker")

	require.NoError(t, report.Err)
	assert.Zero(t, report.ExitCode)
	data, err := os.ReadFile(filepath.Join(e.Dir, "marker"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(data))
}
