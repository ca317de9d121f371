package engine

import (
	"sync"

	"github.com/Maughan-Lab/fabrial-sub000/internal/databox"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// TransitionHook is called after a status change commits.
type TransitionHook func(from, to schema.Status)

type hookKey struct {
	from, to schema.Status
}

// StatusMachine owns one Status value and only lets it change through
// schema.Transition. The value lives in a databox so any goroutine can read it
// while the owner keeps mutating it.
type StatusMachine struct {
	state databox.Box[schema.Status]

	mu    sync.Mutex
	any   []TransitionHook
	keyed map[hookKey][]TransitionHook
}

// NewStatusMachine returns a machine seeded at StatusInactive.
func NewStatusMachine() *StatusMachine {
	m := &StatusMachine{keyed: make(map[hookKey][]TransitionHook)}
	m.state.Set(schema.StatusInactive)
	return m
}

// Status returns the current value.
func (m *StatusMachine) Status() schema.Status {
	return m.state.Get()
}

// OnChange registers a hook called after every committed change.
func (m *StatusMachine) OnChange(hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.any = append(m.any, hook)
}

// OnAfter registers a hook called after one specific transition.
func (m *StatusMachine) OnAfter(from, to schema.Status, hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hookKey{from, to}
	m.keyed[key] = append(m.keyed[key], hook)
}

// Request asks for a transition to the given status. It reports whether the
// transition table accepted it; rejected requests leave the value unchanged.
func (m *StatusMachine) Request(to schema.Status) bool {
	return m.RequestIf(nil, to)
}

// RequestIf is Request guarded by a predicate on the current value, evaluated
// under the same write lock as the transition.
func (m *StatusMachine) RequestIf(pred func(schema.Status) bool, to schema.Status) bool {
	var from schema.Status
	accepted := false
	m.state.Update(func(cur schema.Status) schema.Status {
		from = cur
		if pred != nil && !pred(cur) {
			return cur
		}
		next, ok := schema.Transition(cur, to)
		accepted = ok
		return next
	})
	if accepted && from != to {
		m.notify(from, to)
	}
	return accepted
}

// notify runs hooks outside the state lock, at most once per change.
func (m *StatusMachine) notify(from, to schema.Status) {
	m.mu.Lock()
	hooks := make([]TransitionHook, 0, len(m.any)+len(m.keyed[hookKey{from, to}]))
	hooks = append(hooks, m.keyed[hookKey{from, to}]...)
	hooks = append(hooks, m.any...)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(from, to)
	}
}
