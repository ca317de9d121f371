// Package steps holds the step registry and the built-in step types a
// sequence file can name.
package steps

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/tree"
	"github.com/Maughan-Lab/fabrial-sub000/internal/validation"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Constructor builds a step from its serialized payload.
type Constructor func(payload json.RawMessage) (engine.Step, error)

// Definition describes one step type.
type Definition struct {
	Type        string
	Description string
	// Schema is the JSON Schema of the payload. Empty means any payload.
	Schema    json.RawMessage
	Composite bool
	New       Constructor
}

// Info is a summary of a registered step type for listing.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite,omitempty"`
}

// Registry is the thread-safe mapping from step type to constructor.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a step type. Returns error on duplicate type.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "step type is empty")
	}
	if def.New == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "step type %q has no constructor", def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Get retrieves a definition by type.
func (r *Registry) Get(stepType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[stepType]
	if !ok {
		return Definition{}, schema.NewErrorf(schema.ErrCodeNotFound, "step type %q not registered", stepType)
	}
	return def, nil
}

// Build constructs a step of the given type.
func (r *Registry) Build(stepType string, payload json.RawMessage) (engine.Step, error) {
	def, err := r.Get(stepType)
	if err != nil {
		return nil, err
	}
	return def.New(payload)
}

// Has checks if a step type is registered.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[stepType]
	return ok
}

// IsComposite reports whether the type takes nested steps.
func (r *Registry) IsComposite(stepType string) bool {
	def, err := r.Get(stepType)
	return err == nil && def.Composite
}

// PayloadSchema returns the payload schema of a type, or nil.
func (r *Registry) PayloadSchema(stepType string) []byte {
	def, err := r.Get(stepType)
	if err != nil {
		return nil
	}
	return def.Schema
}

// List returns info for all registered types, sorted by type.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.defs))
	for _, d := range r.defs {
		infos = append(infos, Info{Type: d.Type, Description: d.Description, Composite: d.Composite})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

var (
	_ tree.Factory           = (*Registry)(nil)
	_ validation.StepLookup = (*Registry)(nil)
)
