package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/nwbbatch/internal/batch"
	"github.com/joescharf/nwbbatch/internal/catalog"
	"github.com/joescharf/nwbbatch/internal/config"
	"github.com/joescharf/nwbbatch/internal/gate"
	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/output"
)

var (
	planFormat   string
	planMetadata bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview what a run would do without converting anything",
	Long: `Resolve the configured sessions and check each one against the
filesystem, without invoking the conversion engine.

With --metadata, also print the metadata configured for each session (batch
and session overrides merged; engine defaults and source-derived fields are
only known during a run).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printPlan(cfg, planFormat, planMetadata)
	},
}

func init() {
	planCmd.Flags().StringVar(&planFormat, "format", "table", "Output format: table, json, yaml")
	planCmd.Flags().BoolVar(&planMetadata, "metadata", false, "Include the configured metadata of each session")
	rootCmd.AddCommand(planCmd)
}

// planSessions returns the plan for cfg.
func planSessions(cfg *config.Config) []batch.PlanItem {
	return batch.Plan(gate.New(cfg.BasePath), catalog.Resolve(cfg.Sources()))
}

type plannedSession struct {
	batch.PlanItem `yaml:",inline"`
	Metadata *metadata.Record `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func printPlan(cfg *config.Config, format string, withMetadata bool) error {
	items := planSessions(cfg)

	var composer *metadata.Composer
	if withMetadata {
		composer = cfg.Composer()
	}
	sessions := make([]plannedSession, len(items))
	for i, it := range items {
		sessions[i].PlanItem = it
		if composer != nil {
			rec := composer.Compose(it.SessionID, nil, nil)
			sessions[i].Metadata = &rec
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	case "yaml":
		enc := yaml.NewEncoder(ui.Out)
		enc.SetIndent(2)
		if err := enc.Encode(sessions); err != nil {
			return err
		}
		return enc.Close()
	case "table":
	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	if len(items) == 0 {
		ui.Info("No sessions configured")
		return nil
	}

	table := ui.Table([]string{"Session", "Action", "Output", "Note"})
	counts := map[string]int{}
	for _, it := range items {
		counts[it.Action]++
		note := it.Reason
		if len(it.MissingOptional) > 0 {
			note = fmt.Sprintf("optional sources missing: %v", it.MissingOptional)
		}
		table.Append([]string{it.SessionID, actionColor(it.Action), it.OutputPath, note})
	}
	_ = table.Render()
	fmt.Fprintln(ui.Out)
	ui.Info("%d to convert, %d to skip, %d failing input checks, %d abandoned",
		counts[batch.ActionConvert], counts[batch.ActionSkip], counts[batch.ActionFail], counts[batch.ActionAbandon])

	if withMetadata {
		fmt.Fprintln(ui.Out)
		enc := yaml.NewEncoder(ui.Out)
		enc.SetIndent(2)
		for _, s := range sessions {
			fmt.Fprintf(ui.Out, "# %s\n", s.SessionID)
			if err := enc.Encode(s.Metadata); err != nil {
				return err
			}
		}
		return enc.Close()
	}
	return nil
}

func actionColor(action string) string {
	switch action {
	case batch.ActionConvert:
		return output.Green(action)
	case batch.ActionSkip:
		return output.Cyan(action)
	case batch.ActionFail:
		return output.Red(action)
	default:
		return output.Yellow(action)
	}
}
