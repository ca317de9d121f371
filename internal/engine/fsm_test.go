package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// hookRecorder records transitions for assertions.
type hookRecorder struct {
	mu    sync.Mutex
	calls [][2]schema.Status
}

func (h *hookRecorder) hook(from, to schema.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, [2]schema.Status{from, to})
}

func (h *hookRecorder) Calls() [][2]schema.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([][2]schema.Status, len(h.calls))
	copy(cp, h.calls)
	return cp
}

func TestStatusMachine_SeededInactive(t *testing.T) {
	m := NewStatusMachine()
	assert.Equal(t, schema.StatusInactive, m.Status())
}

func TestStatusMachine_ValidSequence(t *testing.T) {
	m := NewStatusMachine()
	rec := &hookRecorder{}
	m.OnChange(rec.hook)

	require.True(t, m.Request(schema.StatusActive))
	require.True(t, m.Request(schema.StatusPaused))
	require.True(t, m.Request(schema.StatusActive))
	require.True(t, m.Request(schema.StatusCompleted))

	assert.Equal(t, [][2]schema.Status{
		{schema.StatusInactive, schema.StatusActive},
		{schema.StatusActive, schema.StatusPaused},
		{schema.StatusPaused, schema.StatusActive},
		{schema.StatusActive, schema.StatusCompleted},
	}, rec.Calls())
}

func TestStatusMachine_RejectedTransitionIsSilent(t *testing.T) {
	m := NewStatusMachine()
	rec := &hookRecorder{}
	m.OnChange(rec.hook)

	assert.False(t, m.Request(schema.StatusPaused))
	assert.Equal(t, schema.StatusInactive, m.Status())
	assert.Empty(t, rec.Calls())

	require.True(t, m.Request(schema.StatusActive))
	require.True(t, m.Request(schema.StatusErrorPaused))
	assert.False(t, m.Request(schema.StatusPaused))
	assert.False(t, m.Request(schema.StatusError))
	assert.Equal(t, schema.StatusErrorPaused, m.Status())
}

func TestStatusMachine_SelfTransitionDoesNotNotify(t *testing.T) {
	m := NewStatusMachine()
	rec := &hookRecorder{}
	m.OnChange(rec.hook)

	require.True(t, m.Request(schema.StatusActive))
	require.True(t, m.Request(schema.StatusActive), "active accepts any target")
	assert.Len(t, rec.Calls(), 1)
}

func TestStatusMachine_KeyedHook(t *testing.T) {
	m := NewStatusMachine()
	var resumed int
	m.OnAfter(schema.StatusErrorPaused, schema.StatusActive, func(_, _ schema.Status) { resumed++ })

	m.Request(schema.StatusActive)
	m.Request(schema.StatusPaused)
	m.Request(schema.StatusActive)
	assert.Equal(t, 0, resumed)

	m.Request(schema.StatusErrorPaused)
	m.Request(schema.StatusActive)
	assert.Equal(t, 1, resumed)
}

func TestStatusMachine_RequestIf(t *testing.T) {
	m := NewStatusMachine()
	m.Request(schema.StatusActive)

	ok := m.RequestIf(func(s schema.Status) bool { return s.IsPaused() }, schema.StatusActive)
	assert.False(t, ok, "predicate blocks unpause of a running process")

	m.Request(schema.StatusPaused)
	ok = m.RequestIf(func(s schema.Status) bool { return s.IsPaused() }, schema.StatusActive)
	assert.True(t, ok)
	assert.Equal(t, schema.StatusActive, m.Status())
}

func TestStatusMachine_ConcurrentRequests(t *testing.T) {
	m := NewStatusMachine()
	m.Request(schema.StatusActive)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Request(schema.StatusPaused)
			} else {
				m.Request(schema.StatusActive)
			}
		}(i)
	}
	wg.Wait()
	assert.True(t, m.Status().Valid())
}
