package steps

import (
	"encoding/json"
	"fmt"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const TypeHold = "hold"

type holdPayload struct {
	Name    string  `json:"name,omitempty"`
	Seconds float64 `json:"seconds"`
}

// Hold waits for a fixed amount of unpaused time.
type Hold struct {
	p holdPayload
}

func NewHold(seconds float64) *Hold {
	return &Hold{p: holdPayload{Seconds: seconds}}
}

func newHold(payload json.RawMessage) (engine.Step, error) {
	var p holdPayload
	if err := decodePayload(TypeHold, payload, &p, true); err != nil {
		return nil, err
	}
	if p.Seconds < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "hold: seconds must not be negative, got %v", p.Seconds)
	}
	return &Hold{p: p}, nil
}

func (s *Hold) Name() string {
	if s.p.Name != "" {
		return s.p.Name
	}
	return fmt.Sprintf("Hold %ss", formatFloat(s.p.Seconds))
}

func (s *Hold) DirectoryName() string { return directoryName(s.Name()) }
func (s *Hold) Type() string          { return TypeHold }
func (s *Hold) Reset()                {}

func (s *Hold) Payload() (json.RawMessage, error) { return encodePayload(s.p) }

func (s *Hold) Metadata() map[string]string {
	return map[string]string{"hold_seconds": formatFloat(s.p.Seconds)}
}

func (s *Hold) Run(h engine.Handle, _ string) error {
	h.Wait(seconds(s.p.Seconds))
	return nil
}
