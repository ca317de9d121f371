package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/internal/streaming"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (b *recordingBroadcaster) SendNotificationToAllClients(method string, params map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if method == notifyMethod {
		b.sent = append(b.sent, params)
	}
}

func (b *recordingBroadcaster) all() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.sent...)
}

func TestForwardEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	out := &recordingBroadcaster{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- forwardEvents(ctx, hub, out) }()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, time.Millisecond)

	ctxPub := context.Background()
	require.NoError(t, hub.Publish(ctxPub, schema.Event{Type: schema.EventStepStarted, Step: "Hold"}))
	require.NoError(t, hub.Publish(ctxPub, schema.Event{Type: schema.EventPrompt, Message: "Sample loaded?", Options: []string{"Yes"}}))
	require.NoError(t, hub.Publish(ctxPub, schema.Event{Type: schema.EventError, Message: "oven offline"}))

	require.Eventually(t, func() bool { return len(out.all()) == 2 }, time.Second, time.Millisecond)

	sent := out.all()
	assert.Equal(t, "warning", sent[0]["level"])
	assert.Equal(t, "Sample loaded?", sent[0]["data"].(schema.Event).Message)
	assert.Equal(t, "error", sent[1]["level"])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
	assert.Zero(t, hub.Subscribers())
}
