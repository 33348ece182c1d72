package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"ferroci/internal/config"
	"ferroci/internal/ctxlog"
	"ferroci/internal/logging"
)

// app holds global flag values and what PersistentPreRunE builds from them.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
}

func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ferroci",
		Short: "Run dependency-ordered CI pipelines locally",
		Long: `ferroci runs the jobs of a pipeline file concurrently, starting each job
once every job it depends on has succeeded.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text, json or auto")

	// --- Pipelines ---
	rootCmd.AddCommand(newRunCmd(a)) // Defined in cmd_run.go
	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate [pipeline]",
		Short: "Load a pipeline and check its dependency graph",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runValidate, // Defined in cmd_run.go
	})

	// --- Server ---
	rootCmd.AddCommand(newServeCmd(a))  // Defined in cmd_serve.go
	rootCmd.AddCommand(newSubmitCmd(a)) // Defined in cmd_submit.go

	// --- Audit ---
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the run ledger",
	}
	ledgerCmd.AddCommand(
		&cobra.Command{
			Use:   "inspect [path]",
			Short: "Print every ledger entry",
			Args:  cobra.MaximumNArgs(1),
			RunE:  a.runLedgerInspect, // Defined in cmd_ledger.go
		},
		newLedgerVerifyCmd(a),
		&cobra.Command{
			Use:    "tamper <path> <index>",
			Short:  "Corrupt one entry to demonstrate verification",
			Hidden: true,
			Args:   cobra.ExactArgs(2),
			RunE:   a.runLedgerTamper,
		},
	)
	rootCmd.AddCommand(ledgerCmd)

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the ledger signing keys",
	}
	keysCmd.AddCommand(newKeysGenerateCmd(a)) // Defined in cmd_keys.go
	rootCmd.AddCommand(keysCmd)

	return rootCmd
}

// setup loads the config, applies global flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return usageError(err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, a.errOut)
	if err != nil {
		return usageError(err)
	}
	a.cfg = cfg
	a.logger = logger
	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
	return nil
}
