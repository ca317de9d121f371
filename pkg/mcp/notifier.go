package mcp

import (
	"context"

	"github.com/Maughan-Lab/fabrial-sub000/internal/streaming"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// notifyMethod is the MCP logging notification method.
const notifyMethod = "notifications/message"

// broadcaster pushes a notification to every connected client.
type broadcaster interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// notifiedEvents are the events operators need to react to.
var notifiedEvents = []string{
	schema.EventPrompt,
	schema.EventPromptResolved,
	schema.EventError,
	schema.EventSequenceFinished,
}

// ForwardEvents pushes prompts, errors and sequence completion from hub to
// connected MCP clients until ctx ends.
func (s *ControlServer) ForwardEvents(ctx context.Context, hub streaming.EventHub) error {
	return forwardEvents(ctx, hub, s.mcpServer)
}

func forwardEvents(ctx context.Context, hub streaming.EventHub, out broadcaster) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{Types: notifiedEvents})
	if err != nil {
		return err
	}
	defer cancel()

	for ev := range events {
		out.SendNotificationToAllClients(notifyMethod, notification(ev))
	}
	return ctx.Err()
}

func notification(ev schema.Event) map[string]any {
	level := "info"
	switch ev.Type {
	case schema.EventError:
		level = "error"
	case schema.EventPrompt:
		level = "warning"
	}
	return map[string]any{
		"level":  level,
		"logger": "fabrial",
		"data":   ev,
	}
}
