// Package streaming fans engine events out to live subscribers such as the
// console and the control server.
package streaming

import (
	"context"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID string   `json:"run_id,omitempty"`
	Types []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for live sequence events.
type EventHub interface {
	Publish(ctx context.Context, event schema.Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.Event, func(), error)
}
