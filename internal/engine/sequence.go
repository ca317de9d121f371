package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/Maughan-Lab/fabrial-sub000/internal/logging"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// SequenceRunner walks a Sequence and runs each step through a ProcessRunner.
// Its own status follows the same transition table as processes and ends in
// Completed, Canceled or Error.
type SequenceRunner struct {
	seq    Sequence
	runner *ProcessRunner
	status *StatusMachine
	logger *slog.Logger

	started  atomic.Bool
	canceled atomic.Bool
}

// NewSequenceRunner prepares seq for one run.
func NewSequenceRunner(seq Sequence, cfg RunnerConfig) *SequenceRunner {
	runner := NewProcessRunner(cfg)
	return &SequenceRunner{
		seq:    seq,
		runner: runner,
		status: NewStatusMachine(),
		logger: runner.logger,
	}
}

// Runner exposes the underlying process runner.
func (s *SequenceRunner) Runner() *ProcessRunner { return s.runner }

// RunID returns the correlation id of this run.
func (s *SequenceRunner) RunID() string { return s.runner.RunID() }

// Status returns the sequence status.
func (s *SequenceRunner) Status() schema.Status { return s.status.Status() }

// Run executes every step in order and blocks until the sequence ends.
// Cancelling ctx cancels the sequence. A panicking step ends the sequence in
// Error with a STEP_PANIC error; background processes are drained in every
// case before Run returns.
func (s *SequenceRunner) Run(ctx context.Context) (final schema.Status, err error) {
	if !s.started.CompareAndSwap(false, true) {
		return s.Status(), schema.NewError(schema.ErrCodeConflict, "sequence runner already used")
	}
	ctx = logging.WithRunID(ctx, s.RunID())
	s.runner.bind(ctx)
	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()

	s.status.Request(schema.StatusActive)
	s.logger.Info("sequence started")
	s.runner.publish(schema.Event{Type: schema.EventSequenceStarted, Status: schema.StatusActive})

	defer func() {
		rec := recover()
		s.runner.CancelBackgroundProcesses()

		if rec != nil {
			if fe, ok := rec.(*schema.FabrialError); ok && fe.Code == schema.ErrCodeFramework {
				s.finish(schema.StatusError, fe)
				panic(rec)
			}
			perr := schema.NewErrorf(schema.ErrCodeStepPanic, "step panicked: %v", rec).
				WithDetails(map[string]any{"stack": string(debug.Stack())})
			if cause, ok := rec.(error); ok {
				perr = perr.WithCause(cause)
			}
			final, err = schema.StatusError, perr
		}
		s.finish(final, err)
	}()

	final = schema.StatusCompleted
	for _, step := range s.seq.Steps() {
		if s.canceled.Load() {
			final = schema.StatusCanceled
			break
		}
		step.Reset()
		p := s.runner.NewProcess(step)
		outcome, runErr := s.runner.RunProcess(p, step.DirectoryName())
		if outcome == OutcomeFailed {
			return schema.StatusError, runErr
		}
		if !outcome.Continue() {
			final = schema.StatusCanceled
			break
		}
	}
	if final == schema.StatusCompleted && s.canceled.Load() {
		final = schema.StatusCanceled
	}
	return final, nil
}

func (s *SequenceRunner) finish(final schema.Status, err error) {
	s.status.Request(final)
	attrs := []any{slog.String("status", string(final))}
	ev := schema.Event{Type: schema.EventSequenceFinished, Status: final}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		ev.Message = err.Error()
	}
	s.logger.Info("sequence finished", attrs...)
	s.runner.publish(ev)
	s.runner.cfg.Observer.SequenceFinished(final)
}

// Cancel stops the sequence after the active step has been canceled.
func (s *SequenceRunner) Cancel() {
	s.canceled.Store(true)
	s.runner.stop()
}

// Pause pauses the active step.
func (s *SequenceRunner) Pause() bool { return s.runner.Pause() }

// Unpause resumes the active step.
func (s *SequenceRunner) Unpause() bool { return s.runner.Unpause() }

// Skip skips the active step (or the active child of a composite step).
func (s *SequenceRunner) Skip() bool { return s.runner.Skip() }

// Respond answers the active prompt.
func (s *SequenceRunner) Respond(choice string) error { return s.runner.Respond(choice) }

// Command applies a named operator command.
func (s *SequenceRunner) Command(name string) (bool, error) {
	switch name {
	case CommandPause:
		return s.Pause(), nil
	case CommandUnpause:
		return s.Unpause(), nil
	case CommandSkip:
		return s.Skip(), nil
	case CommandCancel:
		s.Cancel()
		return true, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown command %q", name)
	}
}

// Operator command names.
const (
	CommandPause   = "pause"
	CommandUnpause = "unpause"
	CommandSkip    = "skip"
	CommandCancel  = "cancel"
)

// Snapshot is a point-in-time view of a running sequence.
type Snapshot struct {
	RunID      string        `json:"run_id"`
	Status     schema.Status `json:"status"`
	Step       string        `json:"step,omitempty"`
	StepStatus schema.Status `json:"step_status,omitempty"`
	Directory  string        `json:"directory,omitempty"`
	Prompt     string        `json:"prompt,omitempty"`
	Options    []string      `json:"options,omitempty"`
	Background int           `json:"background"`
	Workers    WorkerStats   `json:"workers"`
}

// Snapshot captures the current state.
func (s *SequenceRunner) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:      s.RunID(),
		Status:     s.Status(),
		Background: s.runner.BackgroundCount(),
		Workers:    s.runner.Workers(),
	}
	if p := s.runner.Active(); p != nil {
		snap.Step = p.Step().Name()
		snap.StepStatus = p.Status()
		snap.Directory = p.Directory()
		if text, opts, ok := p.PendingPrompt(); ok {
			snap.Prompt = text
			snap.Options = opts
		}
	}
	return snap
}

func (s *SequenceRunner) String() string {
	return fmt.Sprintf("sequence %s (%s)", s.RunID(), s.Status())
}
