package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joescharf/nwbbatch/internal/batch"
	"github.com/joescharf/nwbbatch/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio, exposing the
run history and a read-only batch preview. Configure a client with:

  {
    "mcpServers": {
      "nwbbatch": { "command": "nwbbatch", "args": ["mcp"] }
    }
  }

Available tools: nwbbatch_list_runs, nwbbatch_run_report,
nwbbatch_session_status, nwbbatch_plan`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpPlan loads the configuration on every call so edits are picked up
// without restarting the server.
func mcpPlan(_ context.Context) ([]batch.PlanItem, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return planSessions(cfg), nil
}

func mcpRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := mcp.NewServer(s, mcpPlan, buildVersion)
	return srv.ServeStdio(ctx)
}
