package schema

import "time"

// Event type constants published by the engine.
const (
	EventSequenceStarted  = "sequence_started"
	EventSequenceFinished = "sequence_finished"

	EventStepStarted  = "step_started"
	EventStepStatus   = "step_status"
	EventStepFinished = "step_finished"
	EventStepSkipped  = "step_skipped"

	EventBackgroundStarted  = "background_started"
	EventBackgroundFinished = "background_finished"

	EventPrompt         = "prompt"
	EventPromptResolved = "prompt_resolved"
	EventError          = "error"
)

// Event is a single notification emitted while a sequence runs. Observers
// receive events after the state change they describe has committed.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Step      string    `json:"step,omitempty"`
	Directory string    `json:"directory,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Options   []string  `json:"options,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
