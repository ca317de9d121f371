package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/expressions"
	"github.com/Maughan-Lab/fabrial-sub000/internal/store"
)

// Controller gives the server access to the sequence currently running, and
// starts new ones.
type Controller interface {
	// Current returns the running sequence, or false when idle.
	Current() (*engine.SequenceRunner, bool)
	// Start launches the sequence file in the background and returns its run id.
	Start(file string) (string, error)
}

// ControlServerDeps holds the dependencies for creating a ControlServer.
type ControlServerDeps struct {
	Controller Controller
	Store      store.Store
	JQ         *expressions.JQEngine
	Logger     *slog.Logger
}

// ControlServer wraps an MCP server with the operator control tools.
type ControlServer struct {
	controller Controller
	store      store.Store
	jq         *expressions.JQEngine
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewControlServer creates a ControlServer with all tools registered.
func NewControlServer(deps ControlServerDeps) *ControlServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	jq := deps.JQ
	if jq == nil {
		jq = expressions.NewJQEngine()
	}

	s := &ControlServer{
		controller: deps.Controller,
		store:      deps.Store,
		jq:         jq,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"fabrial",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Fabrial runs laboratory sequences. Use fabrial.run to start a sequence file, fabrial.status to see the active step and any open prompt, fabrial.command to pause, unpause, skip or cancel, fabrial.respond to answer a prompt, and fabrial.history to list past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ControlServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ControlServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *ControlServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: commandTool(), Handler: s.handleCommand},
		{Tool: respondTool(), Handler: s.handleRespond},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("fabrial.run",
		mcp.WithDescription("Start a sequence file"),
		mcp.WithString("file", mcp.Required(), mcp.Description("Path of the sequence file (.json or .yaml)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("fabrial.status",
		mcp.WithDescription("Get the state of the running sequence"),
	)
}

func commandTool() mcp.Tool {
	return mcp.NewTool("fabrial.command",
		mcp.WithDescription("Send an operator command to the running sequence"),
		mcp.WithString("command", mcp.Required(),
			mcp.Enum(engine.CommandPause, engine.CommandUnpause, engine.CommandSkip, engine.CommandCancel),
			mcp.Description("Command to apply"),
		),
	)
}

func respondTool() mcp.Tool {
	return mcp.NewTool("fabrial.respond",
		mcp.WithDescription("Answer the open prompt of the running sequence"),
		mcp.WithString("choice", mcp.Required(), mcp.Description("One of the options offered by the prompt")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("fabrial.history",
		mcp.WithDescription("List past runs, or the events and step records of one run"),
		mcp.WithString("run_id", mcp.Description("Return events and step records of this run")),
		mcp.WithString("status", mcp.Description("Only runs that ended in this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 50)")),
		mcp.WithString("jq", mcp.Description("jq expression applied to the result")),
	)
}
