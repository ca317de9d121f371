package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/instrument"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Step is a user-authored unit of experiment logic. Steps are supplied by the
// step registry and consumed by the engine only through this interface.
//
// Run must never block outside the Handle's Wait family: a step that sleeps on
// its own cannot be paused, skipped or canceled while it sleeps.
type Step interface {
	Name() string
	DirectoryName() string
	Run(h Handle, dataDir string) error
	Reset()
	Metadata() map[string]string
}

// BackgroundStep is implemented by steps that run on their own worker instead
// of the sequence goroutine.
type BackgroundStep interface {
	Step
	RunsInBackground() bool
}

// Composite is implemented by steps that own nested steps (for example a
// loop). The sequence hands the current children over right before running.
type Composite interface {
	Step
	SetChildren(children []Step)
}

// Sequence supplies steps in execution order.
type Sequence interface {
	Steps() []Step
}

// Handle is the orchestration context a step sees while it runs.
type Handle interface {
	// Wait blocks for at least d of unpaused time. It returns false as soon as
	// the process is canceled.
	Wait(d time.Duration) bool
	// WaitUnerror behaves like Wait; while error-paused it polls unerror and
	// resumes automatically once unerror reports true.
	WaitUnerror(d time.Duration, unerror func() bool) bool
	// ErrorPause moves the process into the error-paused state.
	ErrorPause() bool
	// Canceled reports whether cancellation was requested.
	Canceled() bool
	// Cancel requests cancellation of this process.
	Cancel()
	// SendMessage publishes a prompt with the allowed responses.
	SendMessage(text string, responses ...string)
	// WaitOnResponse blocks until a response to the last prompt arrives. It
	// returns false if the process was canceled first.
	WaitOnResponse() (string, bool)
	// CommunicateError reports a non-fatal problem to the operator.
	CommunicateError(err error)
	// RunNested runs a child step inside this process's directory.
	RunNested(step Step) (Outcome, error)
	// Status returns the current process status.
	Status() schema.Status
	Env() *Env
	Logger() *slog.Logger
	Context() context.Context
}

// Env is the explicit application context threaded into every step. It is
// built once per sequence run.
type Env struct {
	Instruments map[string]instrument.Instrument
}

// Instrument returns the named instrument.
func (e *Env) Instrument(name string) (instrument.Instrument, error) {
	if e == nil || e.Instruments == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInstrument, "instrument %q not configured", name)
	}
	inst, ok := e.Instruments[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInstrument, "instrument %q not configured", name)
	}
	return inst, nil
}

// MetadataWriter persists a process's run statistics next to its data.
type MetadataWriter interface {
	WriteMetadata(dir string, metadata map[string]string) error
}

// EventSink receives engine notifications. Implementations must not block
// for long; the sequence goroutine publishes synchronously.
type EventSink interface {
	Publish(ctx context.Context, event schema.Event) error
}

// Sinks fans an event out to several sinks. Errors are joined.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, event schema.Event) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isBackground(step Step) bool {
	bg, ok := step.(BackgroundStep)
	return ok && bg.RunsInBackground()
}
