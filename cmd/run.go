package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joescharf/nwbbatch/internal/batch"
	"github.com/joescharf/nwbbatch/internal/catalog"
	"github.com/joescharf/nwbbatch/internal/config"
	"github.com/joescharf/nwbbatch/internal/engine"
	"github.com/joescharf/nwbbatch/internal/gate"
	"github.com/joescharf/nwbbatch/internal/models"
	"github.com/joescharf/nwbbatch/internal/output"
	"github.com/joescharf/nwbbatch/internal/runlock"
	"github.com/joescharf/nwbbatch/internal/store"
)

var (
	runConcurrency int
	runStub        bool
	runTimeout     time.Duration
	runExclude     []string
	runNoHistory   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Convert every configured session",
	Long: `Convert every configured session that has not been converted yet.

Sessions run on a fixed pool of workers (--concurrency). A failing session
never stops the others. Interrupting the command (Ctrl-C, SIGTERM or
'nwbbatch stop') stops dispatching new sessions; sessions already being
converted run to completion and the rest are reported as abandoned.

The command exits non-zero when any session failed or was abandoned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd)
	},
}

func init() {
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "j", 1, "Number of sessions converted at once")
	runCmd.Flags().BoolVar(&runStub, "stub", false, "Write small stub outputs for a quick test")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-session conversion timeout (0 for none)")
	runCmd.Flags().StringSliceVar(&runExclude, "exclude", nil, "Additional session names to exclude")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Do not record the run in the history database")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays explicitly set command-line flags on cfg.
func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("concurrency") {
		cfg.Concurrency = runConcurrency
	}
	if flags.Changed("stub") {
		cfg.Stub = runStub
	}
	if flags.Changed("timeout") {
		cfg.TaskTimeout = runTimeout
	}
	cfg.Exclude = append(cfg.Exclude, runExclude...)
}

func runRun(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireEngine(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would convert with %s (concurrency %d)", cfg.Engine.Command, cfg.Concurrency)
		return printPlan(cfg, "table", false)
	}

	lock := runlock.New(cfg.StateDir)
	if err := lock.Acquire(); err != nil {
		var held *runlock.HeldError
		if errors.As(err, &held) {
			return &models.ConfigurationError{Key: "state_dir", Msg: err.Error()}
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			ui.Warning("Release run lock: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if !runNoHistory {
		if st, err = getStore(); err != nil {
			ui.Warning("Run history disabled: %v", err)
			st = nil
		}
	}

	eng := engine.NewExecEngine(cfg.Engine.Command, cfg.Engine.Args...)
	if verbose {
		eng.Stderr = ui.ErrOut
	}

	report, err := executeBatch(ctx, cfg, eng, eng, st, newLogger())
	if err != nil {
		return err
	}

	printReport(report)

	if !report.OK() {
		c := report.Counts()
		return fmt.Errorf("batch finished with %d failed and %d abandoned sessions", c.Failed, c.Abandoned)
	}
	return nil
}

// executeBatch resolves the configured sessions and converts them. History
// is recorded in st when it is non-nil; a history error never fails the
// batch.
func executeBatch(ctx context.Context, cfg *config.Config, eng engine.Engine, insp engine.SourceInspector,
	st store.Store, log *slog.Logger) (*models.Report, error) {
	descs := catalog.Resolve(cfg.Sources())

	tc := batch.TaskConfig{
		Gate:     gate.New(cfg.BasePath),
		Composer: cfg.Composer(),
		Engine:   eng,
		Stub:     cfg.Stub,
		Timeout:  cfg.TaskTimeout,
		Logger:   log,
	}
	if cfg.Metadata.Inspect != "" {
		tc.Inspector = insp
		tc.InspectKind = models.SourceKind(cfg.Metadata.Inspect)
	}

	run := &models.Run{
		ID:          store.NewRunID(),
		BasePath:    cfg.BasePath,
		Concurrency: cfg.Concurrency,
		Stub:        cfg.Stub,
		StartedAt:   time.Now().UTC(),
	}
	// History writes must land even after the batch is cancelled.
	hctx := context.WithoutCancel(ctx)
	if st != nil {
		if err := st.CreateRun(hctx, run); err != nil {
			ui.Warning("Run history disabled: %v", err)
			st = nil
		}
	}

	onOutcome := func(i int, o models.Outcome) {
		ui.Info("%-24s %s %s", o.SessionID, output.StatusColor(string(o.Status)), o.Reason)
		if st == nil {
			return
		}
		if err := st.RecordOutcome(hctx, run.ID, i, o); err != nil {
			ui.Warning("Record outcome for %s: %v", o.SessionID, err)
		}
	}

	executor, err := batch.NewExecutor(batch.NewTask(tc), cfg.Concurrency,
		batch.WithLogger(log),
		batch.WithOutcomeFunc(onOutcome),
	)
	if err != nil {
		return nil, err
	}

	ui.Info("Converting %d sessions from %s", len(descs), cfg.BasePath)
	report := executor.Run(ctx, descs)
	report.RunID = run.ID

	if st != nil {
		finished := report.FinishedAt
		run.FinishedAt = &finished
		run.Counts = report.Counts()
		run.Cancelled = report.Cancelled
		if err := st.FinishRun(hctx, run); err != nil {
			ui.Warning("Finish run history: %v", err)
		}
	}
	return report, nil
}

// printReport renders the per-session table and the summary line.
func printReport(report *models.Report) {
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Session", "Status", "Duration", "Reason"})
	for _, o := range report.Outcomes {
		table.Append([]string{o.SessionID, output.StatusColor(string(o.Status)), output.FormatDuration(o.Duration), o.Reason})
	}
	_ = table.Render()
	fmt.Fprintln(ui.Out)

	summary := output.CountsSummary(report.Counts())
	switch {
	case report.Cancelled:
		ui.Warning("Batch cancelled: %s", summary)
	case report.OK():
		ui.Success("Batch finished: %s", summary)
	default:
		ui.Error("Batch finished: %s", summary)
	}
	if report.RunID != "" {
		ui.VerboseLog("Run ID: %s", report.RunID)
	}
}
