package steps

import (
	"encoding/json"

	"github.com/Maughan-Lab/fabrial-sub000/internal/expressions"
)

// Engines are the expression engines built-in steps compile against.
type Engines struct {
	CEL  *expressions.CELEngine
	Expr *expressions.ExprEngine
}

// NewEngines creates fresh expression engines.
func NewEngines() (Engines, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return Engines{}, err
	}
	return Engines{CEL: cel, Expr: expressions.NewExprEngine()}, nil
}

// RegisterBuiltins registers all built-in step types in the given registry.
func RegisterBuiltins(reg *Registry, engines Engines) error {
	all := []Definition{
		{
			Type:        TypeHold,
			Description: "Wait for a fixed number of seconds",
			Schema:      holdSchema,
			New:         newHold,
		},
		{
			Type:        TypeSetTemperature,
			Description: "Drive an instrument to a setpoint and wait until it is stable",
			Schema:      setTemperatureSchema,
			New:         newSetTemperature,
		},
		{
			Type:        TypeWaitUntil,
			Description: "Poll an instrument until a CEL condition holds",
			Schema:      waitUntilSchema,
			New:         waitUntilConstructor(engines.CEL),
		},
		{
			Type:        TypeLoop,
			Description: "Repeat nested steps",
			Schema:      loopSchema,
			Composite:   true,
			New:         loopConstructor(engines.Expr),
		},
		{
			Type:        TypePrompt,
			Description: "Ask the operator to choose an option",
			Schema:      promptSchema,
			New:         newPrompt,
		},
		{
			Type:        TypeRecord,
			Description: "Sample an instrument to CSV in the background",
			Schema:      recordSchema,
			New:         newRecord,
		},
		{
			Type:        TypeCancelSequence,
			Description: "Cancel the running sequence",
			Schema:      cancelSchema,
			New:         newCancelSequence,
		},
	}
	for _, d := range all {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry holding every built-in type.
func NewDefaultRegistry() (*Registry, error) {
	engines, err := NewEngines()
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, engines); err != nil {
		return nil, err
	}
	return reg, nil
}

var (
	holdSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"seconds": {"type": "number", "minimum": 0}
		},
		"required": ["seconds"],
		"additionalProperties": false
	}`)

	setTemperatureSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"instrument": {"type": "string", "minLength": 1},
			"target": {"type": "number"},
			"tolerance": {"type": "number", "minimum": 0},
			"stable_seconds": {"type": "number", "minimum": 0},
			"poll_seconds": {"type": "number", "minimum": 0}
		},
		"required": ["instrument", "target"],
		"additionalProperties": false
	}`)

	waitUntilSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"instrument": {"type": "string", "minLength": 1},
			"condition": {"type": "string", "minLength": 1},
			"target": {"type": "number"},
			"timeout_seconds": {"type": "number", "minimum": 0},
			"poll_seconds": {"type": "number", "minimum": 0},
			"vars": {"type": "object"}
		},
		"required": ["instrument", "condition"],
		"additionalProperties": false
	}`)

	loopSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"iterations": {"type": "integer", "minimum": 0},
			"while": {"type": "string"},
			"vars": {"type": "object"}
		},
		"anyOf": [
			{"required": ["iterations"]},
			{"required": ["while"]}
		],
		"additionalProperties": false
	}`)

	promptSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"message": {"type": "string", "minLength": 1},
			"options": {"type": "array", "items": {"type": "string", "minLength": 1}, "uniqueItems": true},
			"cancel_on": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["message"],
		"additionalProperties": false
	}`)

	recordSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"instrument": {"type": "string", "minLength": 1},
			"interval_seconds": {"type": "number", "minimum": 0},
			"file": {"type": "string", "minLength": 1}
		},
		"required": ["instrument"],
		"additionalProperties": false
	}`)

	cancelSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"message": {"type": "string"}
		},
		"additionalProperties": false
	}`)
)
