package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/nwbbatch/internal/models"
	"github.com/joescharf/nwbbatch/internal/output"
	"github.com/joescharf/nwbbatch/internal/store"
)

var (
	runsLimit    int
	runsStatus   string
	reportFormat string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the history of batch runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsListRun()
	},
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsListRun()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-session report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsShowRun(args[0])
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run report as JSON, CSV, or Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsExportRun(args[0])
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its outcomes from the history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsDeleteRun(args[0])
	},
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs (0 for all)")
	runsShowCmd.Flags().StringVar(&runsStatus, "status", "", "Only show sessions with this status")
	runsExportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func runsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	runs, err := s.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Base Path", "Jobs", "Result"})
	for _, r := range runs {
		result := output.CountsSummary(r.Counts)
		switch {
		case !r.Finished():
			result = output.Yellow("unfinished")
		case r.Cancelled:
			result += " (" + output.Yellow("cancelled") + ")"
		}
		table.Append([]string{r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.BasePath, strconv.Itoa(r.Concurrency), result})
	}
	return table.Render()
}

// loadRunReport fetches a run and its outcomes, optionally filtered by status.
func loadRunReport(ctx context.Context, s store.Store, id, status string) (*models.Run, []models.Outcome, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := s.ListOutcomes(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	if status == "" {
		return run, outcomes, nil
	}
	filtered := outcomes[:0]
	for _, o := range outcomes {
		if string(o.Status) == status {
			filtered = append(filtered, o)
		}
	}
	return run, filtered, nil
}

func runsShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	run, outcomes, err := loadRunReport(context.Background(), s, id, runsStatus)
	if err != nil {
		return err
	}

	ui.Info("Run %s", output.Cyan(run.ID))
	fmt.Fprintf(ui.Out, "  Base path:    %s\n", run.BasePath)
	fmt.Fprintf(ui.Out, "  Started:      %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(ui.Out, "  Duration:     %s\n", output.FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	fmt.Fprintf(ui.Out, "  Concurrency:  %d\n", run.Concurrency)
	fmt.Fprintf(ui.Out, "  Stub:         %t\n", run.Stub)
	fmt.Fprintf(ui.Out, "  Result:       %s\n", output.CountsSummary(run.Counts))
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Session", "Status", "Duration", "Reason"})
	for _, o := range outcomes {
		table.Append([]string{o.SessionID, output.StatusColor(string(o.Status)), output.FormatDuration(o.Duration), o.Reason})
	}
	return table.Render()
}

func runsExportRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	run, outcomes, err := loadRunReport(context.Background(), s, id, "")
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run      *models.Run      `json:"run"`
			Outcomes []models.Outcome `json:"outcomes"`
		}{run, outcomes})
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"Session", "Status", "Reason", "Output", "Started", "DurationMS"})
		for _, o := range outcomes {
			started := ""
			if !o.StartedAt.IsZero() {
				started = o.StartedAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			w.Write([]string{o.SessionID, string(o.Status), o.Reason, o.OutputPath, started,
				strconv.FormatInt(o.Duration.Milliseconds(), 10)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintf(ui.Out, "# Run %s\n", run.ID)
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "Base path: `%s`, %d succeeded, %d skipped, %d failed, %d abandoned\n",
			run.BasePath, run.Counts.Succeeded, run.Counts.Skipped, run.Counts.Failed, run.Counts.Abandoned)
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Session | Status | Reason |")
		fmt.Fprintln(ui.Out, "|---------|--------|--------|")
		for _, o := range outcomes {
			fmt.Fprintf(ui.Out, "| %s | %s | %s |\n", markdownCell(o.SessionID), o.Status, markdownCell(o.Reason))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func runsDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete run %s", run.ID)
		return nil
	}
	if err := s.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	ui.Success("Deleted run %s", run.ID)
	return nil
}

var markdownCellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

// markdownCell makes s safe inside one table cell: pipes are escaped and
// line breaks collapsed.
func markdownCell(s string) string {
	return strings.TrimSpace(markdownCellReplacer.Replace(s))
}
