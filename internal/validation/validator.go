package validation

import (
	"encoding/json"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Validator checks sequence documents before they are decoded into a tree.
// Uses JSON Schema Draft 2020-12 for document structure and step payloads.
type Validator interface {
	ValidateDocument(doc *schema.Document) error
	ValidatePayload(payload json.RawMessage, payloadSchema []byte) error
}

// StepLookup answers questions about registered step types. The step
// registry implements it.
type StepLookup interface {
	Has(stepType string) bool
	IsComposite(stepType string) bool
	PayloadSchema(stepType string) []byte
}
