package steps

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/expressions"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const TypeWaitUntil = "wait_until"

type waitUntilPayload struct {
	Name           string         `json:"name,omitempty"`
	Instrument     string         `json:"instrument"`
	Condition      string         `json:"condition"`
	Target         float64        `json:"target,omitempty"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty"`
	PollSeconds    float64        `json:"poll_seconds,omitempty"`
	Vars           map[string]any `json:"vars,omitempty"`
}

// WaitUntil polls an instrument until a CEL condition over its reading holds.
// The condition sees reading, target, elapsed (seconds of unpaused time) and vars.
type WaitUntil struct {
	p   waitUntilPayload
	cel *expressions.CELEngine

	mu      sync.Mutex
	polls   int
	elapsed time.Duration
	met     bool
	last    float64
}

func waitUntilConstructor(cel *expressions.CELEngine) Constructor {
	return func(payload json.RawMessage) (engine.Step, error) {
		var p waitUntilPayload
		if err := decodePayload(TypeWaitUntil, payload, &p, true); err != nil {
			return nil, err
		}
		if p.Instrument == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "wait_until: instrument is required")
		}
		if err := cel.Compile(p.Condition); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "wait_until: condition").WithCause(err)
		}
		return &WaitUntil{p: p, cel: cel}, nil
	}
}

func (s *WaitUntil) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	return fmt.Sprintf("Wait until %s", s.p.Condition)
}

func (s *WaitUntil) DirectoryName() string { return directoryName(s.Name()) }
func (s *WaitUntil) Type() string          { return TypeWaitUntil }

func (s *WaitUntil) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *WaitUntil) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls, s.elapsed, s.met, s.last = 0, 0, false, 0
}

func (s *WaitUntil) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{
		"condition":     s.p.Condition,
		"condition_met": fmt.Sprint(s.met),
		"polls":         fmt.Sprint(s.polls),
		"elapsed":       formatFloat(s.elapsed.Seconds()),
		"last_reading":  formatFloat(s.last),
	}
}

func (s *WaitUntil) Run(h engine.Handle, _ string) error {
	inst, err := h.Env().Instrument(s.p.Instrument)
	if err != nil {
		return err
	}
	poll := pollOr(s.p.PollSeconds)
	timeout := seconds(s.p.TimeoutSeconds)

	for {
		v, _, ok := readOrErrorPause(h, s.p.Instrument, inst, poll)
		if !ok {
			return nil
		}

		s.mu.Lock()
		s.polls++
		s.last = v
		elapsed := s.elapsed
		s.mu.Unlock()

		met, err := expressions.EvaluateBool(h.Context(), s.cel, s.p.Condition, map[string]any{
			expressions.VarReading: v,
			expressions.VarTarget:  s.p.Target,
			expressions.VarElapsed: elapsed.Seconds(),
			expressions.VarVars:    s.p.Vars,
		})
		if err != nil {
			return err
		}
		if met {
			s.mu.Lock()
			s.met = true
			s.mu.Unlock()
			return nil
		}
		if timeout > 0 && elapsed >= timeout {
			return schema.NewErrorf(schema.ErrCodeStepFailed,
				"condition %q not met after %s", s.p.Condition, timeout).WithStep(s.Name())
		}

		if !h.Wait(poll) {
			return nil
		}
		s.mu.Lock()
		s.elapsed += poll
		s.mu.Unlock()
	}
}
