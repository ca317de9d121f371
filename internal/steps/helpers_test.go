package steps

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/instrument"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const testPoll = 2 * time.Millisecond

type recordingMetadata struct {
	mu   sync.Mutex
	dirs []string
	data []map[string]string
}

func (m *recordingMetadata) WriteMetadata(dir string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs = append(m.dirs, dir)
	m.data = append(m.data, data)
	return nil
}

func (m *recordingMetadata) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirs)
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	return reg
}

func build(t *testing.T, reg *Registry, stepType, payload string) engine.Step {
	t.Helper()
	step, err := reg.Build(stepType, json.RawMessage(payload))
	require.NoError(t, err)
	return step
}

func testRunner(t *testing.T, insts map[string]instrument.Instrument) (*engine.ProcessRunner, engine.RunnerConfig, *recordingMetadata) {
	t.Helper()
	md := &recordingMetadata{}
	cfg := engine.RunnerConfig{
		BaseDir:      t.TempDir(),
		PollInterval: testPoll,
		Metadata:     md,
		Env:          &engine.Env{Instruments: insts},
		RunID:        "run-test",
	}
	return engine.NewProcessRunner(cfg), cfg, md
}

type result struct {
	outcome engine.Outcome
	err     error
}

// runAsync runs step on r and delivers the outcome on the returned channel.
func runAsync(r *engine.ProcessRunner, step engine.Step) <-chan result {
	done := make(chan result, 1)
	go func() {
		out, err := r.RunProcess(r.NewProcess(step), step.DirectoryName())
		done <- result{out, err}
	}()
	return done
}

func await(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("step did not finish")
		return result{}
	}
}

func waitStatus(t *testing.T, r *engine.ProcessRunner, want schema.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		p := r.Active()
		return p != nil && p.Status() == want
	}, 2*time.Second, time.Millisecond)
}

func waitPrompt(t *testing.T, r *engine.ProcessRunner) (string, []string) {
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
