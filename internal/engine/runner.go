package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Maughan-Lab/fabrial-sub000/internal/databox"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Outcome tells the caller of RunProcess what to do next.
type Outcome int

const (
	// OutcomeContinue: the step finished (or went to the background).
	OutcomeContinue Outcome = iota
	// OutcomeSkipped: the operator skipped the step. The sequence goes on.
	OutcomeSkipped
	// OutcomeCanceled: the step was canceled. The sequence stops.
	OutcomeCanceled
	// OutcomeFailed: the engine could not run the step. The sequence stops in error.
	OutcomeFailed
)

// Continue reports whether the sequence should proceed to the next step.
func (o Outcome) Continue() bool {
	return o == OutcomeContinue || o == OutcomeSkipped
}

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Responses offered when a step returns an error.
const (
	ResponseSkip   = "Skip"
	ResponseCancel = "Cancel"
)

const (
	DefaultPollInterval  = 20 * time.Millisecond
	DefaultMaxIOFailures = 10
)

// Observer receives counters from the runners. internal/metrics implements it.
type Observer interface {
	StepFinished(step Step, outcome Outcome)
	SequenceFinished(status schema.Status)
	BackgroundChanged(delta int)
	BackgroundFailed(panicked bool)
	IOFailure()
}

type nopObserver struct{}

func (nopObserver) StepFinished(Step, Outcome)     {}
func (nopObserver) SequenceFinished(schema.Status) {}
func (nopObserver) BackgroundChanged(int)          {}
func (nopObserver) BackgroundFailed(bool)          {}
func (nopObserver) IOFailure()                     {}

// RunnerConfig configures a ProcessRunner.
type RunnerConfig struct {
	// BaseDir receives one numbered directory per top-level step.
	BaseDir string
	// PollInterval is the slice used by cooperative waits. Defaults to 20ms.
	PollInterval time.Duration
	// MaxIOFailures is the number of consecutive I/O failures after which the
	// sequence gives up. Defaults to 10.
	MaxIOFailures int

	Metadata MetadataWriter
	Events   EventSink
	Observer Observer
	Logger   *slog.Logger
	Env      *Env
	// RunID correlates events. A random one is generated when empty.
	RunID string
}

func (c *RunnerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxIOFailures <= 0 {
		c.MaxIOFailures = DefaultMaxIOFailures
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Env == nil {
		c.Env = &Env{}
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
}

// ProcessRunner creates step directories, runs processes and owns the set of
// live background processes. Operator commands reach the active foreground
// process through it.
type ProcessRunner struct {
	cfg    RunnerConfig
	logger *slog.Logger
	env    *Env
	pool   *WorkerPool

	mu      sync.Mutex
	counter int
	ctx     context.Context

	active databox.Box[*Process]

	bgMu       sync.Mutex
	background map[*Process]struct{}

	ioFailures atomic.Int64
	stopping   atomic.Bool
}

// NewProcessRunner creates a runner writing under cfg.BaseDir.
func NewProcessRunner(cfg RunnerConfig) *ProcessRunner {
	cfg.applyDefaults()
	r := &ProcessRunner{
		cfg:        cfg,
		logger:     cfg.Logger.With(slog.String("run_id", cfg.RunID)),
		env:        cfg.Env,
		background: make(map[*Process]struct{}),
	}
	r.pool = NewWorkerPool(r.backgroundDone)
	return r
}

func (r *ProcessRunner) backgroundDone(err error, panicked bool) {
	if err == nil {
		return
	}
	if panicked {
		r.logger.Error("background step panicked", slog.String("error", err.Error()))
	}
	r.cfg.Observer.BackgroundFailed(panicked)
}

// RunID returns the correlation id used for events.
func (r *ProcessRunner) RunID() string { return r.cfg.RunID }

// NewProcess wraps step in a fresh process bound to this runner.
func (r *ProcessRunner) NewProcess(step Step) *Process {
	return newProcess(r, step)
}

// RunProcess runs p in the next numbered directory "{n} {hint}". Foreground
// processes run to completion; background processes are started and left
// running. A step panic is not recovered here.
func (r *ProcessRunner) RunProcess(p *Process, hint string) (Outcome, error) {
	r.mu.Lock()
	r.counter++
	index := r.counter
	r.mu.Unlock()

	return r.runIn(p, nil, r.cfg.BaseDir, index, hint)
}

// runIn runs p in "{index} {hint}" under base. A foreground p becomes the
// active process (or parent's active child) only once it has started.
func (r *ProcessRunner) runIn(p, parent *Process, base string, index int, hint string) (Outcome, error) {
	dir := filepath.Join(base, fmt.Sprintf("%d %s", index, hint))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ferr := schema.NewErrorf(schema.ErrCodeResource, "create directory %q", filepath.Base(dir)).
			WithStep(p.step.Name()).
			WithCause(err)
		r.ioFailed()
		p.CommunicateError(ferr)
		r.cfg.Observer.StepFinished(p.step, OutcomeFailed)
		return OutcomeFailed, ferr
	}

	p.start(dir)
	if p.kind == KindBackground {
		return r.startBackground(p, dir)
	}

	slot := &r.active
	if parent != nil {
		slot = &parent.child
	}
	slot.Set(p)
	defer slot.Clear()
	if r.stopping.Load() || (parent != nil && parent.Canceled()) {
		p.Cancel()
	}
	return r.runForeground(p, dir)
}

func (r *ProcessRunner) runForeground(p *Process, dir string) (Outcome, error) {
	p.publish(schema.Event{Type: schema.EventStepStarted, Status: p.Status()})
	p.logger.Info("step started", slog.String("directory", dir))

	defer func() {
		if rec := recover(); rec != nil {
			p.stop()
			p.status.Request(schema.StatusError)
			r.cfg.Observer.StepFinished(p.step, OutcomeFailed)
			panic(rec)
		}
	}()

	runErr := p.step.Run(p, dir)
	if runErr != nil && !p.Canceled() {
		r.resolveStepError(p, runErr)
	}
	p.stop()
	return r.settle(p)
}

// resolveStepError asks the operator whether to skip the failed step or
// cancel the sequence.
func (r *ProcessRunner) resolveStepError(p *Process, err error) {
	p.logger.Warn("step returned error", slog.String("error", err.Error()))
	p.CommunicateError(err)
	p.status.Request(schema.StatusError)
	p.SendMessage(fmt.Sprintf("Step %q failed: %v", p.step.Name(), err), ResponseSkip, ResponseCancel)
	choice, ok := p.WaitOnResponse()
	if !ok {
		return
	}
	if choice == ResponseSkip {
		p.Skip()
		return
	}
	p.Cancel()
}

// settle commits the final status of a finished foreground process, writes
// its metadata and maps the result to an Outcome.
func (r *ProcessRunner) settle(p *Process) (Outcome, error) {
	var (
		outcome = OutcomeContinue
		err     error
	)
	if p.Canceled() {
		outcome = OutcomeCanceled
		if p.Skipped() {
			outcome = OutcomeSkipped
			p.publish(schema.Event{Type: schema.EventStepSkipped, Status: p.Status()})
		}
	} else {
		p.status.Request(schema.StatusCompleted)
		if werr := r.writeMetadata(p); werr != nil {
			if r.ioFailed() {
				outcome = OutcomeFailed
				err = werr
			}
			p.CommunicateError(werr)
		}
	}

	p.logger.Info("step finished", slog.String("status", string(p.Status())), slog.String("outcome", outcome.String()))
	p.publish(schema.Event{Type: schema.EventStepFinished, Status: p.Status()})
	r.cfg.Observer.StepFinished(p.step, outcome)
	return outcome, err
}

func (r *ProcessRunner) writeMetadata(p *Process) error {
	if r.cfg.Metadata == nil {
		return nil
	}
	if err := r.cfg.Metadata.WriteMetadata(p.Directory(), p.Metadata()); err != nil {
		return schema.NewError(schema.ErrCodeResource, "write metadata").WithStep(p.step.Name()).WithCause(err)
	}
	r.ioFailures.Store(0)
	return nil
}

// ioFailed counts one I/O failure and reports whether the limit was reached.
func (r *ProcessRunner) ioFailed() bool {
	r.cfg.Observer.IOFailure()
	return r.ioFailures.Add(1) >= int64(r.cfg.MaxIOFailures)
}

// IOFailures returns the current count of consecutive I/O failures.
func (r *ProcessRunner) IOFailures() int { return int(r.ioFailures.Load()) }

func (r *ProcessRunner) startBackground(p *Process, dir string) (Outcome, error) {
	r.bgMu.Lock()
	r.background[p] = struct{}{}
	r.bgMu.Unlock()
	r.cfg.Observer.BackgroundChanged(1)
	p.publish(schema.Event{Type: schema.EventBackgroundStarted, Status: p.Status()})

	err := r.pool.Submit(r.context(), func(ctx context.Context) error {
		defer r.forget(p)
		defer p.markFinished()
		defer func() {
			if rec := recover(); rec != nil {
				p.stop()
				p.status.Request(schema.StatusError)
				p.publish(schema.Event{Type: schema.EventBackgroundFinished, Status: p.Status()})
				panic(rec)
			}
		}()

		runErr := p.step.Run(p, dir)
		p.stop()
		var failed error
		switch {
		case p.Canceled():
		case runErr != nil:
			failed = runErr
			p.CommunicateError(runErr)
			p.status.Request(schema.StatusError)
		default:
			p.status.Request(schema.StatusCompleted)
			if werr := r.writeMetadata(p); werr != nil {
				r.ioFailed()
				p.CommunicateError(werr)
			}
		}
		p.publish(schema.Event{Type: schema.EventBackgroundFinished, Status: p.Status()})
		return failed
	})
	if err != nil {
		r.forget(p)
		p.status.Request(schema.StatusError)
		p.markFinished()
		return OutcomeFailed, schema.NewError(schema.ErrCodeFramework, "start background process").
			WithStep(p.step.Name()).WithCause(err)
	}
	return OutcomeContinue, nil
}

func (r *ProcessRunner) forget(p *Process) {
	r.bgMu.Lock()
	_, ok := r.background[p]
	delete(r.background, p)
	r.bgMu.Unlock()
	if ok {
		r.cfg.Observer.BackgroundChanged(-1)
	}
}

// CancelBackgroundProcesses cancels every live background process and polls
// until all of them have finished, then shuts the workers down. Background
// steps started afterwards fail with ErrPoolShutdown.
func (r *ProcessRunner) CancelBackgroundProcesses() {
	r.pool.Close()
	r.bgMu.Lock()
	live := make([]*Process, 0, len(r.background))
	for p := range r.background {
		live = append(live, p)
	}
	r.bgMu.Unlock()

	for _, p := range live {
		p.Cancel()
	}
	for len(live) > 0 {
		remaining := live[:0]
		for _, p := range live {
			select {
			case <-p.Finished():
				r.forget(p)
			default:
				remaining = append(remaining, p)
			}
		}
		live = remaining
		if len(live) > 0 {
			time.Sleep(r.cfg.PollInterval)
		}
	}
	r.pool.Shutdown()
}

// Workers returns the counters of the background workers.
func (r *ProcessRunner) Workers() WorkerStats { return r.pool.Stats() }

// BackgroundCount returns the number of live background processes.
func (r *ProcessRunner) BackgroundCount() int {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	return len(r.background)
}

// Active returns the running foreground process, or nil.
func (r *ProcessRunner) Active() *Process {
	return r.active.Get()
}

// Pause forwards to the active foreground process. No-op when none runs.
func (r *ProcessRunner) Pause() bool {
	if p := r.Active(); p != nil {
		return p.Pause()
	}
	return false
}

// Unpause forwards to the active foreground process.
func (r *ProcessRunner) Unpause() bool {
	if p := r.Active(); p != nil {
		return p.Unpause()
	}
	return false
}

// Skip forwards to the active foreground process. It reports whether the
// innermost running unit accepted the skip.
func (r *ProcessRunner) Skip() bool {
	if p := r.Active(); p != nil {
		return p.skip()
	}
	return false
}

// Cancel cancels the active foreground process and reports whether it is
// now canceled.
func (r *ProcessRunner) Cancel() bool {
	if p := r.Active(); p != nil {
		p.Cancel()
		return p.Canceled()
	}
	return false
}

// stop cancels the active process and every foreground process started
// after it.
func (r *ProcessRunner) stop() {
	r.stopping.Store(true)
	r.Cancel()
}

// Respond answers the prompt of the active foreground process.
func (r *ProcessRunner) Respond(choice string) error {
	p := r.Active()
	if p == nil {
		return schema.NewError(schema.ErrCodeConflict, "no step is running")
	}
	return p.Respond(choice)
}

func (r *ProcessRunner) bind(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

func (r *ProcessRunner) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

func (r *ProcessRunner) publish(ev schema.Event) {
	if r.cfg.Events == nil {
		return
	}
	ev.RunID = r.cfg.RunID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := r.cfg.Events.Publish(r.context(), ev); err != nil {
		r.logger.Warn("publish event failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}
