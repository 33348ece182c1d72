package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ferroci/internal/config"
	"ferroci/internal/core"
	"ferroci/internal/ctxlog"
	"ferroci/internal/ledger"
	"ferroci/internal/security"
	"ferroci/internal/storage"
)

type runFlags struct {
	maxParallel  int
	pollInterval time.Duration
	strict       bool
	logsDir      string
	ledgerPath   string
	noLedger     bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [pipeline]",
		Short: "Run a pipeline (default " + core.DefaultPipelineFile + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd, args, f)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&f.maxParallel, "max-parallel", 0, "maximum number of jobs running at once (0 = no limit)")
	flags.DurationVar(&f.pollInterval, "poll-interval", 0, "re-scan for runnable jobs on this interval instead of on each completion")
	flags.BoolVar(&f.strict, "strict", false, "reject unknown dependencies and cycles before running")
	flags.StringVar(&f.logsDir, "logs-dir", "", "directory for step logs (overrides config)")
	flags.StringVar(&f.ledgerPath, "ledger", "", "ledger file (overrides config)")
	flags.BoolVar(&f.noLedger, "no-ledger", false, "do not record the run in the ledger")
	return cmd
}

func pipelinePath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return core.DefaultPipelineFile
}

func (a *app) runPipeline(cmd *cobra.Command, args []string, f runFlags) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	cfg := a.cfg
	if flags.Changed("max-parallel") {
		cfg.MaxParallel = f.maxParallel
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if flags.Changed("logs-dir") {
		cfg.LogsDir = f.logsDir
	}
	if flags.Changed("ledger") {
		cfg.LedgerPath = f.ledgerPath
	}
	if f.noLedger {
		cfg.LedgerPath = ""
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	p, err := core.LoadPipeline(pipelinePath(args))
	if err != nil {
		return usageError(fmt.Errorf("load pipeline: %w", err))
	}

	runner, err := a.newRunner(cfg)
	if err != nil {
		return usageError(err)
	}
	runner.Strict = f.strict
	if cfg.StreamOutput {
		runner.Stream = a.out
	}

	res, err := runner.RunPipeline(ctx, p)
	if err != nil {
		return usageError(err)
	}
	renderSummary(a.out, res)
	if code := exitCode(res.Status); code != ExitOK {
		return &ExitError{Code: code, Message: res.Err().Error()}
	}
	return nil
}

// newRunner builds a runner with step logs and a signed ledger as configured.
func (a *app) newRunner(cfg config.Config) (*core.Runner, error) {
	runner := core.NewRunner()
	runner.Options = core.SchedulerOptions{MaxParallel: cfg.MaxParallel, PollInterval: cfg.PollInterval}
	if cfg.LogsDir != "" {
		runner.LogStorage = storage.NewLogStorage(cfg.LogsDir)
	}
	if cfg.LedgerPath == "" {
		return runner, nil
	}

	_, priv, created, err := security.EnsureKeyPair(cfg.KeysDir)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	if created {
		a.logger.Info("Generated ledger signing keys.", "dir", cfg.KeysDir)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		return nil, fmt.Errorf("ledger dir: %w", err)
	}
	l, err := ledger.OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	runner.Ledger = l
	runner.SigningKey = priv
	return runner, nil
}

func (a *app) runValidate(cmd *cobra.Command, args []string) error {
	path := pipelinePath(args)
	p, err := core.LoadPipeline(path)
	if err != nil {
		return usageError(fmt.Errorf("load pipeline: %w", err))
	}
	if err := p.Validate(); err != nil {
		ctxlog.FromContext(cmd.Context()).Debug("Pipeline rejected.", "path", path, "error", err)
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	renderValid(a.out, path, p)
	return nil
}
