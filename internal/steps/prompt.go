package steps

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const (
	TypePrompt         = "prompt"
	TypeCancelSequence = "cancel_sequence"
)

const defaultPromptOption = "Continue"

type promptPayload struct {
	Name     string   `json:"name,omitempty"`
	Message  string   `json:"message"`
	Options  []string `json:"options,omitempty"`
	CancelOn []string `json:"cancel_on,omitempty"`
}

// Prompt shows the operator a message and waits for one of its options.
// Choosing an option listed in CancelOn cancels the sequence.
type Prompt struct {
	p promptPayload

	mu     sync.Mutex
	choice string
}

func newPrompt(payload json.RawMessage) (engine.Step, error) {
	var p promptPayload
	if err := decodePayload(TypePrompt, payload, &p, true); err != nil {
		return nil, err
	}
	if p.Message == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "prompt: message is required")
	}
	for _, c := range p.CancelOn {
		if !slices.Contains(p.options(), c) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "prompt: cancel_on %q is not one of the options", c)
		}
	}
	return &Prompt{p: p}, nil
}

func (p promptPayload) options() []string {
	if len(p.Options) == 0 {
		return []string{defaultPromptOption}
	}
	return p.Options
}

func (s *Prompt) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	return "Prompt"
}

func (s *Prompt) DirectoryName() string { return directoryName(s.Name()) }
func (s *Prompt) Type() string          { return TypePrompt }

func (s *Prompt) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *Prompt) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.choice = ""
}

func (s *Prompt) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{"message": s.p.Message, "choice": s.choice}
}

func (s *Prompt) Run(h engine.Handle, _ string) error {
	h.SendMessage(s.p.Message, s.p.options()...)
	choice, ok := h.WaitOnResponse()
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.choice = choice
	s.mu.Unlock()
	h.Logger().Info("operator responded", "choice", choice)
	if slices.Contains(s.p.CancelOn, choice) {
		h.Cancel()
	}
	return nil
}

type cancelPayload struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// CancelSequence stops the sequence when reached.
type CancelSequence struct {
	p cancelPayload
}

func newCancelSequence(payload json.RawMessage) (engine.Step, error) {
	var p cancelPayload
	if err := decodePayload(TypeCancelSequence, payload, &p, false); err != nil {
		return nil, err
	}
	return &CancelSequence{p: p}, nil
}

func (s *CancelSequence) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	return "Cancel sequence"
}

func (s *CancelSequence) DirectoryName() string       { return directoryName(s.Name()) }
func (s *CancelSequence) Type() string                { return TypeCancelSequence }
func (s *CancelSequence) Reset()                      {}
func (s *CancelSequence) Metadata() map[string]string { return nil }

func (s *CancelSequence) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *CancelSequence) Run(h engine.Handle, _ string) error {
	msg := s.p.Message
	if msg == "" {
		msg = "sequence canceled by step"
	}
	h.Logger().Info(msg)
	h.Cancel()
	return nil
}
