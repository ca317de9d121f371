package validation

import (
	"encoding/json"
	"errors"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// DocumentValidator orchestrates the validation pipeline for sequence files:
// 1. Structural (JSON Schema)
// 2. Semantic (step types registered, children only under categories and composites)
// 3. Payload (each step payload against its type's JSON Schema)
type DocumentValidator struct {
	jsonSchema *JSONSchemaValidator
	steps      StepLookup
}

// NewDocumentValidator creates a DocumentValidator.
// lookup may be nil to skip step type checks.
func NewDocumentValidator(lookup StepLookup) (*DocumentValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DocumentValidator{
		jsonSchema: jsv,
		steps:      lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and payload stages are skipped.
func (dv *DocumentValidator) Validate(doc *schema.Document) *schema.Report {
	if doc == nil {
		r := &schema.Report{}
		r.Fail("/", schema.ErrCodeValidation, "sequence document is nil")
		return r
	}

	report := validateStructural(dv.jsonSchema.ValidateDocument(doc))
	if !report.OK() {
		return report
	}

	report.Include(validateSemantic(doc, dv.steps))

	if report.OK() && dv.steps != nil {
		report.Include(dv.validatePayloads(&doc.Root, "root"))
	}
	return report
}

// ValidateValue runs only the structural stage on a raw decoded value. Codecs
// call it before decoding so that type errors are reported with the document's
// own locations.
func (dv *DocumentValidator) ValidateValue(value any) *schema.Report {
	return validateStructural(dv.jsonSchema.ValidateValue(value))
}

// ValidateDocument runs the full pipeline and returns the result as an error.
func (dv *DocumentValidator) ValidateDocument(doc *schema.Document) error {
	return dv.Validate(doc).Err()
}

// ValidatePayload delegates to the underlying JSONSchemaValidator.
func (dv *DocumentValidator) ValidatePayload(payload json.RawMessage, payloadSchema []byte) error {
	return dv.jsonSchema.ValidatePayload(payload, payloadSchema)
}

func (dv *DocumentValidator) validatePayloads(node *schema.NodeRecord, path string) *schema.Report {
	report := &schema.Report{}
	walkRecords(node, path, func(n *schema.NodeRecord, p string) {
		if n.Kind != schema.NodeKindSequence {
			return
		}
		if err := dv.jsonSchema.ValidatePayload(n.Payload, dv.steps.PayloadSchema(n.Type)); err != nil {
			appendViolations(report, p+".payload", err)
		}
	})
	return report
}

// validateStructural converts a JSON Schema error into a report.
func validateStructural(err error) *schema.Report {
	report := &schema.Report{}
	if err != nil {
		appendViolations(report, "/", err)
	}
	return report
}

func appendViolations(report *schema.Report, path string, err error) {
	var fe *schema.FabrialError
	if !errors.As(err, &fe) {
		report.Fail(path, schema.ErrCodeValidation, "%s", err.Error())
		return
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			report.Fail(path, schema.ErrCodeValidation, "%s", v)
		}
		return
	}
	report.Fail(path, schema.ErrCodeValidation, "%s", fe.Message)
}

var (
	_ Validator = (*DocumentValidator)(nil)
	_ Validator = (*JSONSchemaValidator)(nil)
)
