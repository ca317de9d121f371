package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const testPoll = 2 * time.Millisecond

// fakeStep is a configurable Step double.
type fakeStep struct {
	name     string
	dir      string
	run      func(h Handle, dir string) error
	bg       bool
	meta     map[string]string
	children []Step

	mu     sync.Mutex
	resets int
	runs   int
}

func newStep(name string, run func(h Handle, dir string) error) *fakeStep {
	return &fakeStep{name: name, dir: name, run: run}
}

func (s *fakeStep) Name() string           { return s.name }
func (s *fakeStep) DirectoryName() string  { return s.dir }
func (s *fakeStep) RunsInBackground() bool { return s.bg }

func (s *fakeStep) Metadata() map[string]string { return s.meta }

func (s *fakeStep) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *fakeStep) Run(h Handle, dir string) error {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run(h, dir)
}

func (s *fakeStep) SetChildren(children []Step) { s.children = children }

func (s *fakeStep) counts() (resets, runs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets, s.runs
}

type stepList []Step

func (l stepList) Steps() []Step { return l }

// recordingMetadata records every WriteMetadata call.
type recordingMetadata struct {
	mu      sync.Mutex
	records []metadataRecord
	err     error
}

type metadataRecord struct {
	dir  string
	data map[string]string
}

func (m *recordingMetadata) WriteMetadata(dir string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, metadataRecord{dir: dir, data: data})
	return nil
}

func (m *recordingMetadata) all() []metadataRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]metadataRecord(nil), m.records...)
}

// recordingSink records published events.
type recordingSink struct {
	mu     sync.Mutex
	events []schema.Event
}

func (s *recordingSink) Publish(_ context.Context, ev schema.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) ofType(typ string) []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type failingSink struct{}

func (failingSink) Publish(context.Context, schema.Event) error { return errors.New("sink down") }

func testConfig(t *testing.T) (RunnerConfig, *recordingMetadata, *recordingSink) {
	t.Helper()
	md := &recordingMetadata{}
	sink := &recordingSink{}
	return RunnerConfig{
		BaseDir:      t.TempDir(),
		PollInterval: testPoll,
		Metadata:     md,
		Events:       sink,
		RunID:        "run-test",
	}, md, sink
}

// waitActive blocks until the runner's active process runs the named step.
func waitActive(t *testing.T, r *ProcessRunner, name string) *Process {
	t.Helper()
	var p *Process
	require.Eventually(t, func() bool {
		p = r.Active()
		return p != nil && p.Step().Name() == name && p.Status() == schema.StatusActive
	}, 2*time.Second, time.Millisecond)
	return p
}

// waitPrompt blocks until the active process has an open prompt.
func waitPrompt(t *testing.T, r *ProcessRunner) (string, []string) {
	t.Helper()
	var (
		text string
		opts []string
	)
	require.Eventually(t, func() bool {
		p := r.Active()
		if p == nil {
			return false
		}
		var ok bool
		text, opts, ok = p.PendingPrompt()
		return ok
	}, 2*time.Second, time.Millisecond)
	return text, opts
}

// waitUntilCanceled is a step body that polls until canceled.
func waitUntilCanceled(h Handle, _ string) error {
	for h.Wait(time.Millisecond) {
	}
	return nil
}
