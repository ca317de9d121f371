package tree

import (
	"encoding/json"
	"fmt"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
)

// stubStep is a serializable step used to build trees in tests.
type stubStep struct {
	typ      string
	Label    string `json:"label"`
	Seconds  int    `json:"seconds,omitempty"`
	children []engine.Step
}

func (s *stubStep) Name() string                      { return s.Label }
func (s *stubStep) DirectoryName() string             { return s.Label }
func (s *stubStep) Run(engine.Handle, string) error   { return nil }
func (s *stubStep) Reset()                            {}
func (s *stubStep) Metadata() map[string]string       { return nil }
func (s *stubStep) Type() string                      { return s.typ }
func (s *stubStep) Payload() (json.RawMessage, error) { return json.Marshal(s) }

// stubLoop additionally accepts nested steps.
type stubLoop struct{ stubStep }

func (s *stubLoop) SetChildren(children []engine.Step) { s.children = children }

func leaf(label string) *Node {
	return NewSequence(&stubStep{typ: "hold", Label: label, Seconds: 1})
}

func loop(label string, children ...*Node) *Node {
	return NewSequence(&stubLoop{stubStep{typ: "loop", Label: label}}, children...)
}

// stubFactory builds stubs and also reports registry facts for validation.
type stubFactory struct{}

func (stubFactory) Build(stepType string, payload json.RawMessage) (engine.Step, error) {
	switch stepType {
	case "hold":
		s := &stubStep{typ: stepType}
		return s, json.Unmarshal(payload, s)
	case "loop":
		s := &stubLoop{stubStep{typ: stepType}}
		return s, json.Unmarshal(payload, &s.stubStep)
	default:
		return nil, fmt.Errorf("unknown step type %q", stepType)
	}
}

func (stubFactory) Has(t string) bool           { return t == "hold" || t == "loop" }
func (stubFactory) IsComposite(t string) bool   { return t == "loop" }
func (stubFactory) PayloadSchema(string) []byte { return nil }

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

// opaqueStep is a step without a serialized form.
type opaqueStep struct{}

func (opaqueStep) Name() string                    { return "opaque" }
func (opaqueStep) DirectoryName() string           { return "opaque" }
func (opaqueStep) Run(engine.Handle, string) error { return nil }
func (opaqueStep) Reset()                          {}
func (opaqueStep) Metadata() map[string]string     { return nil }
