package store

import (
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Run is one execution of a sequence.
type Run struct {
	ID           string        `json:"id"`
	SequenceFile string        `json:"sequence_file,omitempty"`
	Status       schema.Status `json:"status"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Status schema.Status
	Since  *time.Time
	Limit  int
	Offset int
}

// Event is a persisted engine notification.
type Event struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Sequence  int64         `json:"sequence"`
	Type      string        `json:"type"`
	Step      string        `json:"step,omitempty"`
	Directory string        `json:"directory,omitempty"`
	Status    schema.Status `json:"status,omitempty"`
	Message   string        `json:"message,omitempty"`
	Options   []string      `json:"options,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// FromSchema converts an engine event into its persisted form.
func FromSchema(ev schema.Event) *Event {
	return &Event{
		RunID:     ev.RunID,
		Type:      ev.Type,
		Step:      ev.Step,
		Directory: ev.Directory,
		Status:    ev.Status,
		Message:   ev.Message,
		Options:   ev.Options,
		Timestamp: ev.Timestamp,
	}
}

// StepRecord is the stored copy of one step's metadata file.
type StepRecord struct {
	ID         int64             `json:"id"`
	RunID      string            `json:"run_id"`
	Directory  string            `json:"directory"`
	Step       string            `json:"step"`
	Status     schema.Status     `json:"status"`
	Metadata   map[string]string `json:"metadata"`
	RecordedAt time.Time         `json:"recorded_at"`
}
