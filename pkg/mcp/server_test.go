package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewControlServer(t *testing.T) {
	s := NewControlServer(ControlServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.jq)
}

func TestToolRegistration(t *testing.T) {
	s := NewControlServer(ControlServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"fabrial.run",
		"fabrial.status",
		"fabrial.command",
		"fabrial.respond",
		"fabrial.history",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "fabrial.run", "Start a sequence file"},
		{"status", "fabrial.status", "Get the state of the running sequence"},
		{"command", "fabrial.command", "Send an operator command to the running sequence"},
		{"respond", "fabrial.respond", "Answer the open prompt of the running sequence"},
		{"history", "fabrial.history", "List past runs, or the events and step records of one run"},
	}

	s := NewControlServer(ControlServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
