package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/nwbbatch/internal/batch"
	"github.com/joescharf/nwbbatch/internal/models"
	"github.com/joescharf/nwbbatch/internal/store"
)

// PlanFunc previews the configured batch without running the engine.
type PlanFunc func(ctx context.Context) ([]batch.PlanItem, error)

// Server exposes batch run history and planning as MCP tools.
type Server struct {
	store   store.Store
	plan    PlanFunc
	version string
}

// NewServer creates the MCP server wrapper. plan may be nil, in which case
// the plan tool reports that no batch is configured.
func NewServer(s store.Store, plan PlanFunc, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, plan: plan, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("nwbbatch", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.runReportTool())
	srv.AddTool(s.sessionStatusTool())
	srv.AddTool(s.planTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// nwbbatch_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("nwbbatch_list_runs",
		mcp.WithDescription("List recent batch runs, newest first. Returns a JSON array with id, base_path, concurrency, stub, cancelled, counts and timestamps."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 20, 0 for all)")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return jsonResult(runs)
}

// nwbbatch_run_report
func (s *Server) runReportTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("nwbbatch_run_report",
		mcp.WithDescription("Get the report of one batch run: the run summary and one outcome per session in input order. Accepts a full run ID or a unique prefix."),
		mcp.WithString("run", mcp.Required(), mcp.Description("Run ID or unique ID prefix")),
		mcp.WithString("status", mcp.Description("Only include outcomes with this status"),
			mcp.Enum(string(models.StatusSucceeded), string(models.StatusSkipped), string(models.StatusFailed), string(models.StatusAbandoned))),
	)
	return tool, s.handleRunReport
}

func (s *Server) handleRunReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: run"), nil
	}
	status := request.GetString("status", "")

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcomes, err := s.store.ListOutcomes(ctx, run.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list outcomes: %v", err)), nil
	}

	filtered := make([]models.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if status == "" || string(o.Status) == status {
			filtered = append(filtered, o)
		}
	}

	return jsonResult(struct {
		Run      *models.Run      `json:"run"`
		Outcomes []models.Outcome `json:"outcomes"`
	}{run, filtered})
}

// nwbbatch_session_status
func (s *Server) sessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("nwbbatch_session_status",
		mcp.WithDescription("Get the most recent recorded outcome for a session across all runs."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session identifier (final path component of the primary input)")),
	)
	return tool, s.handleSessionStatus
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}
	o, err := s.store.LastOutcome(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(o)
}

// nwbbatch_plan
func (s *Server) planTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("nwbbatch_plan",
		mcp.WithDescription("Preview the configured batch without converting anything: for each session, whether it would be converted, skipped, abandoned or fail its input check."),
	)
	return tool, s.handlePlan
}

func (s *Server) handlePlan(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.plan == nil {
		return mcp.NewToolResultError("no batch is configured"), nil
	}
	items, err := s.plan(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to plan batch: %v", err)), nil
	}
	if items == nil {
		items = []batch.PlanItem{}
	}
	return jsonResult(items)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
