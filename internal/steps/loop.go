package steps

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/expressions"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const TypeLoop = "loop"

type loopPayload struct {
	Name       string         `json:"name,omitempty"`
	Iterations int            `json:"iterations,omitempty"`
	While      string         `json:"while,omitempty"`
	Vars       map[string]any `json:"vars,omitempty"`
}

// Loop runs its nested steps repeatedly, each pass in the loop's own
// directory. It stops after Iterations passes, or once While turns false;
// with both set, whichever comes first.
type Loop struct {
	p        loopPayload
	expr     *expressions.ExprEngine
	children []engine.Step

	completed atomic.Int64
}

func loopConstructor(ee *expressions.ExprEngine) Constructor {
	return func(payload json.RawMessage) (engine.Step, error) {
		var p loopPayload
		if err := decodePayload(TypeLoop, payload, &p, true); err != nil {
			return nil, err
		}
		if p.Iterations < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "loop: iterations must not be negative, got %d", p.Iterations)
		}
		if p.Iterations == 0 && p.While == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "loop: iterations or while is required")
		}
		s := &Loop{p: p, expr: ee}
		if p.While != "" {
			if err := ee.CompileCondition(p.While); err != nil {
				return nil, schema.NewError(schema.ErrCodeValidation, "loop: while").WithCause(err)
			}
		}
		return s, nil
	}
}

func (s *Loop) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	if s.p.Iterations > 0 {
		return fmt.Sprintf("Loop x%d", s.p.Iterations)
	}
	return "Loop"
}

func (s *Loop) DirectoryName() string { return directoryName(s.Name()) }
func (s *Loop) Type() string          { return TypeLoop }

func (s *Loop) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *Loop) SetChildren(children []engine.Step) { s.children = children }
func (s *Loop) Reset()                             { s.completed.Store(0) }

func (s *Loop) Metadata() map[string]string {
	return map[string]string{"iterations_completed": fmt.Sprint(s.completed.Load())}
}

func (s *Loop) env(iteration int, elapsed time.Duration) expressions.LoopEnv {
	return expressions.LoopEnv{
		Iteration:  iteration,
		Iterations: s.p.Iterations,
		Elapsed:    elapsed.Seconds(),
		Vars:       s.p.Vars,
	}
}

func (s *Loop) Run(h engine.Handle, _ string) error {
	start := time.Now()
	for i := 0; s.p.Iterations == 0 || i < s.p.Iterations; i++ {
		// Checkpoint so that pause and cancel land between passes.
		if !h.Wait(0) {
			return nil
		}
		if s.p.While != "" {
			more, err := s.expr.Holds(s.p.While, s.env(i, time.Since(start)))
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		for _, child := range s.children {
			out, err := h.RunNested(child)
			if err != nil {
				return err
			}
			if out == engine.OutcomeCanceled {
				h.Cancel()
				return nil
			}
		}
		s.completed.Store(int64(i + 1))
	}
	return nil
}
