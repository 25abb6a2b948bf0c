package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"

	"github.com/constellate-io/constellate/internal/engine"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/internal/streaming"
	"github.com/constellate-io/constellate/internal/validation"
	"github.com/constellate-io/constellate/pkg/schema"
)

// RunDriver is the slice of the engine the MCP surface needs.
// Satisfied by *engine.Runner.
type RunDriver interface {
	Run(ctx context.Context, constellationID string, opts engine.RunOptions) (*schema.Run, error)
	ResumeRun(ctx context.Context, runID string, additional map[string]any, stream streaming.Stream) (*schema.Run, error)
	CancelRun(ctx context.Context, runID string, reason string) error
}

// ConstellateServerDeps holds the dependencies for creating a ConstellateServer.
type ConstellateServerDeps struct {
	Runner    RunDriver
	Store     store.Store
	Probes    *probes.Registry
	Validator *validation.ConstellationValidator
	Logger    *slog.Logger
}

// ConstellateServer wraps an MCP server with constellate-specific tool handlers.
type ConstellateServer struct {
	runner    RunDriver
	store     store.Store
	validator *validation.ConstellationValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	notifier  RunNotifier
	cron      cron.Parser
}

// NewConstellateServer creates a new ConstellateServer with all tools registered.
func NewConstellateServer(deps ConstellateServerDeps) *ConstellateServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	validator := deps.Validator
	if validator == nil {
		var directives validation.DirectiveLookup
		if deps.Store != nil {
			directives = &storeDirectiveLookup{store: deps.Store}
		}
		var probeLookup validation.ProbeLookup
		if deps.Probes != nil {
			probeLookup = deps.Probes
		}
		validator, _ = validation.NewConstellationValidator(directives, probeLookup)
	}

	s := &ConstellateServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: validator,
		logger:    logger,
		sessions:  NewSessionRegistry(),
		cron:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}

	mcpSrv := server.NewMCPServer(
		"constellate",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Constellate executes multi-agent workflows laid out as constellations of stars. Use constellate.run to launch a run, constellate.status to inspect it, constellate.resume to confirm a paused run, constellate.cancel to abort, constellate.define to register constellations, constellate.validate to dry-check a definition, constellate.schedule for recurring runs, constellate.query to list runs/events/constellations, and constellate.diagram to visualize a constellation or run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ConstellateServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ConstellateServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *ConstellateServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// storeDirectiveLookup satisfies validation.DirectiveLookup against the store.
type storeDirectiveLookup struct {
	store store.Store
}

func (l *storeDirectiveLookup) HasDirective(ctx context.Context, id string) bool {
	_, err := l.store.GetDirective(ctx, id)
	return err == nil
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("constellate.run",
		mcp.WithDescription("Execute a registered constellation. Blocks until the run completes, fails, or pauses for confirmation"),
		mcp.WithString("constellation_id", mcp.Required(), mcp.Description("ID of the constellation to execute")),
		mcp.WithString("query", mcp.Description("The original query driving the run")),
		mcp.WithObject("variables", mcp.Description("Initial run variables")),
		mcp.WithString("run_id", mcp.Description("Run ID to assign (default: generated)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("constellate.status",
		mcp.WithDescription("Get the state of a run, including per-node outputs"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("constellate.resume",
		mcp.WithDescription("Confirm and resume a run paused on a confirmation-gated node"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the paused run")),
		mcp.WithObject("variables", mcp.Description("Additional variables to merge before resuming")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("constellate.cancel",
		mcp.WithDescription("Cancel an in-flight or paused run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
		mcp.WithString("reason", mcp.Description("Why the run is being cancelled")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("constellate.define",
		mcp.WithDescription("Register a constellation definition. The definition is validated before it is stored"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Constellation definition object (stars, edges, execution constraints)")),
		mcp.WithObject("directives", mcp.Description("Directives referenced by the stars, keyed by directive ID: {id: {name, content}}")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("constellate.validate",
		mcp.WithDescription("Validate a constellation definition without storing it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Constellation definition object to check")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("constellate.schedule",
		mcp.WithDescription("Schedule a constellation to run on a cron expression"),
		mcp.WithString("constellation_id", mcp.Required(), mcp.Description("ID of the constellation to schedule")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Standard 5-field cron expression")),
		mcp.WithString("query", mcp.Description("Query to pass to each scheduled run")),
		mcp.WithObject("variables", mcp.Description("Variables to pass to each scheduled run")),
		mcp.WithBoolean("enabled", mcp.Description("Whether the job starts enabled (default: true)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("constellate.query",
		mcp.WithDescription("Query runs, events, constellations, directives, or scheduled jobs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events", "constellations", "directives", "scheduled_jobs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, constellation_id, since, limit, event_type, run_id, node_id, name, enabled, since_sequence)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("constellate.diagram",
		mcp.WithDescription("Generate a visual diagram of a constellation. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("constellation_id", mcp.Description("Constellation to diagram")),
		mcp.WithString("run_id", mcp.Description("Run to diagram (overlays per-node status by default)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
		mcp.WithBoolean("include_status", mcp.Description("Overlay runtime status when diagramming a run (default: true)")),
	)
}
