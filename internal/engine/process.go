package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/databox"
	"github.com/Maughan-Lab/fabrial-sub000/internal/logging"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Kind says where a process runs.
type Kind int

const (
	// KindForeground processes run synchronously on the sequence goroutine.
	KindForeground Kind = iota
	// KindBackground processes run on their own worker until finished or canceled.
	KindBackground
)

func (k Kind) String() string {
	if k == KindBackground {
		return "background"
	}
	return "foreground"
}

// Metadata keys written for every process.
const (
	MetaStep      = "step"
	MetaStatus    = "status"
	MetaStartTime = "start_time"
	MetaEndTime   = "end_time"
	MetaDuration  = "duration_s"
)

// prompt is the pending question a process is waiting on.
type prompt struct {
	text    string
	options []string
}

// Process executes one Step once. It is created right before the step runs
// and discarded right after.
type Process struct {
	step   Step
	kind   Kind
	runner *ProcessRunner
	status *StatusMachine
	logger *slog.Logger

	response databox.Box[string]
	pending  databox.Box[*prompt]
	child    databox.Box[*Process]

	mu        sync.Mutex
	dir       string
	startedAt time.Time
	endedAt   time.Time
	nested    int

	skipped    atomic.Bool
	finished   chan struct{}
	finishOnce sync.Once
}

func newProcess(r *ProcessRunner, step Step) *Process {
	p := &Process{
		step:     step,
		runner:   r,
		status:   NewStatusMachine(),
		finished: make(chan struct{}),
	}
	if isBackground(step) {
		p.kind = KindBackground
	}
	p.logger = r.logger.With(slog.String("step", step.Name()), slog.String("kind", p.kind.String()))
	p.status.OnChange(func(from, to schema.Status) {
		p.logger.Debug("status changed", slog.String("from", string(from)), slog.String("to", string(to)))
		p.publish(schema.Event{Type: schema.EventStepStatus, Status: to})
	})
	return p
}

// Step returns the wrapped step.
func (p *Process) Step() Step { return p.step }

// Kind reports whether the process runs in the foreground or background.
func (p *Process) Kind() Kind { return p.kind }

// Status returns the current status.
func (p *Process) Status() schema.Status { return p.status.Status() }

// Directory returns the assigned data directory, empty before the runner assigns one.
func (p *Process) Directory() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// Finished is closed once a background process is done or canceled.
func (p *Process) Finished() <-chan struct{} { return p.finished }

// Skipped reports whether cancellation came from a skip rather than a cancel.
func (p *Process) Skipped() bool { return p.skipped.Load() }

func (p *Process) Env() *Env            { return p.runner.env }
func (p *Process) Logger() *slog.Logger { return p.logger }

// Context is the run context carrying this process's correlation IDs.
func (p *Process) Context() context.Context {
	ctx := logging.WithStep(p.runner.context(), p.step.Name())
	if dir := p.Directory(); dir != "" {
		ctx = logging.WithDirectory(ctx, dir)
	}
	return ctx
}

func (p *Process) Canceled() bool {
	return p.status.Status() == schema.StatusCanceled
}

// Cancel requests cancellation of this process and of any nested child.
func (p *Process) Cancel() {
	if c := p.child.Get(); c != nil {
		c.Cancel()
	}
	p.status.Request(schema.StatusCanceled)
	if p.kind == KindBackground {
		p.markFinished()
	}
}

// Skip cancels only the innermost running unit. For a plain process that is
// the process itself; a composite forwards the skip to its active child.
func (p *Process) Skip() { p.skip() }

func (p *Process) skip() bool {
	if c := p.child.Get(); c != nil {
		return c.skip()
	}
	p.skipped.Store(true)
	p.Cancel()
	return p.Canceled()
}

// Pause suspends the innermost running unit. Background processes cannot be paused.
func (p *Process) Pause() bool {
	if p.kind == KindBackground {
		return false
	}
	if c := p.child.Get(); c != nil {
		return c.Pause()
	}
	return p.status.RequestIf(func(s schema.Status) bool { return s == schema.StatusActive }, schema.StatusPaused)
}

// Unpause resumes a paused or error-paused unit.
func (p *Process) Unpause() bool {
	if p.kind == KindBackground {
		return false
	}
	if c := p.child.Get(); c != nil {
		return c.Unpause()
	}
	return p.status.RequestIf(func(s schema.Status) bool { return s.IsPaused() }, schema.StatusActive)
}

// ErrorPause moves the process into error-paused.
func (p *Process) ErrorPause() bool {
	if p.kind == KindBackground {
		return false
	}
	return p.status.Request(schema.StatusErrorPaused)
}

// Wait blocks for at least d of unpaused time, polling in short slices so
// commands from other goroutines are observed quickly.
func (p *Process) Wait(d time.Duration) bool {
	return p.WaitUnerror(d, nil)
}

// WaitUnerror is Wait that, while error-paused, polls unerror every slice
// and returns the process to active the moment it reports true.
func (p *Process) WaitUnerror(d time.Duration, unerror func() bool) bool {
	if p.kind == KindBackground {
		return p.backgroundWait(d)
	}
	slice := p.runner.cfg.PollInterval
	remaining := d
	for {
		switch st := p.status.Status(); st {
		case schema.StatusCanceled:
			return false
		case schema.StatusErrorPaused:
			if unerror != nil && unerror() {
				p.status.RequestIf(func(s schema.Status) bool { return s == schema.StatusErrorPaused }, schema.StatusActive)
				continue
			}
			if !p.sleep(slice) {
				return false
			}
		case schema.StatusPaused:
			if !p.sleep(slice) {
				return false
			}
		default:
			if remaining <= 0 {
				return true
			}
			start := time.Now()
			if !p.sleep(min(slice, remaining)) {
				return false
			}
			remaining -= time.Since(start)
		}
	}
}

// backgroundWait only checks for cancellation.
func (p *Process) backgroundWait(d time.Duration) bool {
	slice := p.runner.cfg.PollInterval
	deadline := time.Now().Add(d)
	for {
		if p.Canceled() {
			return false
		}
		left := time.Until(deadline)
		if left <= 0 {
			return true
		}
		if !p.sleep(min(slice, left)) {
			return false
		}
	}
}

// sleep waits for d or until the run context ends, in which case the process
// is canceled.
func (p *Process) sleep(d time.Duration) bool {
	ctx := p.runner.context()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		p.Cancel()
		return false
	}
}

// SendMessage publishes a prompt. Any stale response is discarded.
func (p *Process) SendMessage(text string, responses ...string) {
	p.response.Clear()
	p.pending.Set(&prompt{text: text, options: slices.Clone(responses)})
	p.publish(schema.Event{Type: schema.EventPrompt, Message: text, Options: responses})
}

// WaitOnResponse polls the response slot until an answer arrives or the
// process is canceled.
func (p *Process) WaitOnResponse() (string, bool) {
	slice := p.runner.cfg.PollInterval
	for {
		if p.Canceled() {
			p.pending.Clear()
			return "", false
		}
		if v, ok := p.response.TryTake(slice); ok {
			p.pending.Clear()
			p.publish(schema.Event{Type: schema.EventPromptResolved, Message: v})
			return v, true
		}
		if err := p.runner.context().Err(); err != nil {
			p.Cancel()
		}
	}
}

// Respond answers the innermost pending prompt. It rejects answers that are
// not among the offered options; a prompt with no options accepts anything.
func (p *Process) Respond(choice string) error {
	if c := p.child.Get(); c != nil {
		return c.Respond(choice)
	}
	pr := p.pending.Get()
	if pr == nil {
		return schema.NewError(schema.ErrCodeConflict, "no prompt is waiting for a response").WithStep(p.step.Name())
	}
	if len(pr.options) > 0 && !slices.Contains(pr.options, choice) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid response %q: not in %v", choice, pr.options).
			WithStep(p.step.Name())
	}
	p.response.Set(choice)
	return nil
}

// PendingPrompt returns the text and options of the innermost open prompt.
func (p *Process) PendingPrompt() (string, []string, bool) {
	if c := p.child.Get(); c != nil {
		if text, opts, ok := c.PendingPrompt(); ok {
			return text, opts, true
		}
	}
	pr := p.pending.Get()
	if pr == nil {
		return "", nil, false
	}
	return pr.text, slices.Clone(pr.options), true
}

// CommunicateError reports a problem without stopping the process.
func (p *Process) CommunicateError(err error) {
	p.logger.Warn("step reported error", slog.String("error", err.Error()))
	p.publish(schema.Event{Type: schema.EventError, Message: err.Error()})
}

// RunNested runs step as a child of p, in a numbered subdirectory of p's
// directory. Commands sent to p reach the child while it runs.
func (p *Process) RunNested(step Step) (Outcome, error) {
	if p.kind == KindBackground {
		return OutcomeFailed, schema.NewError(schema.ErrCodeFramework, "background processes cannot run nested steps").
			WithStep(p.step.Name())
	}
	if p.Canceled() {
		return OutcomeCanceled, nil
	}
	step.Reset()
	child := p.runner.NewProcess(step)

	p.mu.Lock()
	p.nested++
	index := p.nested
	base := p.dir
	p.mu.Unlock()

	return p.runner.runIn(child, p, base, index, step.DirectoryName())
}

// Metadata returns run statistics merged with the step's own fields.
func (p *Process) Metadata() map[string]string {
	p.mu.Lock()
	started, ended := p.startedAt, p.endedAt
	p.mu.Unlock()
	if ended.IsZero() {
		ended = time.Now()
	}

	md := map[string]string{
		MetaStep:      p.step.Name(),
		MetaStatus:    string(p.Status()),
		MetaStartTime: started.Format(time.RFC3339Nano),
		MetaEndTime:   ended.Format(time.RFC3339Nano),
		MetaDuration:  strconv.FormatFloat(ended.Sub(started).Seconds(), 'f', 3, 64),
	}
	for k, v := range p.step.Metadata() {
		md[k] = v
	}
	return md
}

func (p *Process) start(dir string) {
	p.mu.Lock()
	p.dir = dir
	p.startedAt = time.Now()
	p.mu.Unlock()
	p.status.Request(schema.StatusActive)
}

func (p *Process) stop() {
	p.mu.Lock()
	p.endedAt = time.Now()
	p.mu.Unlock()
}

func (p *Process) markFinished() {
	p.finishOnce.Do(func() { close(p.finished) })
}

func (p *Process) publish(ev schema.Event) {
	ev.Step = p.step.Name()
	ev.Directory = p.Directory()
	p.runner.publish(ev)
}

func (p *Process) String() string {
	return fmt.Sprintf("%s process %q (%s)", p.kind, p.step.Name(), p.Status())
}

var _ Handle = (*Process)(nil)
