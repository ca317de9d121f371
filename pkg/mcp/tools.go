package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/expressions"
	"github.com/Maughan-Lab/fabrial-sub000/internal/store"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const defaultHistoryLimit = 50

// statusResult is the fabrial.status payload. Snapshot is nil when idle.
type statusResult struct {
	Running bool `json:"running"`
	*engine.Snapshot
}

// handleRun starts a sequence file in the background.
func (s *ControlServer) handleRun(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError("file is required"), nil
	}
	if s.controller == nil {
		return mcp.NewToolResultError("no controller configured"), nil
	}

	runID, startErr := s.controller.Start(file)
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}
	s.logger.Info("sequence started over mcp", "file", file, "run_id", runID)
	return marshalResult(map[string]any{"run_id": runID, "file": file})
}

// handleStatus reports the running sequence's snapshot.
func (s *ControlServer) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runner, ok := s.current()
	if !ok {
		return marshalResult(statusResult{})
	}
	snap := runner.Snapshot()
	return marshalResult(statusResult{Running: true, Snapshot: &snap})
}

// handleCommand applies pause, unpause, skip or cancel.
func (s *ControlServer) handleCommand(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("command is required"), nil
	}
	runner, ok := s.current()
	if !ok {
		return mcp.NewToolResultError("no sequence is running"), nil
	}

	applied, cmdErr := runner.Command(name)
	if cmdErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("command failed: %v", cmdErr)), nil
	}
	s.logger.Info("operator command", "command", name, "applied", applied, "run_id", runner.RunID())
	return marshalResult(map[string]any{
		"ok":      applied,
		"command": name,
		"run_id":  runner.RunID(),
		"status":  runner.Status(),
	})
}

// handleRespond answers the open prompt.
func (s *ControlServer) handleRespond(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	choice, err := req.RequireString("choice")
	if err != nil {
		return mcp.NewToolResultError("choice is required"), nil
	}
	runner, ok := s.current()
	if !ok {
		return mcp.NewToolResultError("no sequence is running"), nil
	}
	if respErr := runner.Respond(choice); respErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("respond failed: %v", respErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "choice": choice, "run_id": runner.RunID()})
}

// handleHistory lists runs, or details one run, optionally reshaped by jq.
func (s *ControlServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}

	var (
		result any
		err    error
	)
	if runID := req.GetString("run_id", ""); runID != "" {
		result, err = s.runDetail(ctx, runID)
	} else {
		result, err = s.listRuns(ctx, req)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", err)), nil
	}

	expr := req.GetString("jq", "")
	if expr == "" {
		return marshalResult(result)
	}
	outs, err := s.jq.FilterHistory(ctx, expr, result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("jq failed: %v", err)), nil
	}
	return marshalResult(expressions.Collapse(outs))
}

func (s *ControlServer) listRuns(ctx context.Context, req mcp.CallToolRequest) (map[string]any, error) {
	filter := store.RunFilter{Limit: extractInt(req.GetArguments(), "limit", defaultHistoryLimit)}
	if status := req.GetString("status", ""); status != "" {
		st := schema.Status(status)
		if !st.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown status %q", status)
		}
		filter.Status = st
	}
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"runs": runs}, nil
}

func (s *ControlServer) runDetail(ctx context.Context, runID string) (map[string]any, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListStepRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": run, "events": events, "steps": steps}, nil
}

// --- Internal helpers ---

func (s *ControlServer) current() (*engine.SequenceRunner, bool) {
	if s.controller == nil {
		return nil, false
	}
	return s.controller.Current()
}

// extractInt safely extracts an integer from a tool argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
