package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// JQEngine runs jq filters over run history for the history command and the
// control server. Filters see no environment variables. It is safe for
// concurrent use.
type JQEngine struct {
	programs programs[*gojq.Code]
}

// NewJQEngine creates a jq engine.
func NewJQEngine() *JQEngine {
	return &JQEngine{}
}

// Name returns the engine identifier.
func (e *JQEngine) Name() string {
	return "jq"
}

// FilterHistory runs expression over history and returns every output in
// order. history is any JSON-encodable value, such as a list of runs or one
// run with its events; it goes through its JSON form first, so field names
// follow the json tags and numbers are float64 as jq expects.
func (e *JQEngine) FilterHistory(ctx context.Context, expression string, history any) ([]any, error) {
	data, err := json.Marshal(history)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "history is not JSON-encodable").WithCause(err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode history").WithCause(err)
	}
	return e.run(ctx, expression, input)
}

// Evaluate runs expression with data as the input object. No output is nil,
// one output is returned as is and several are returned as []any.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	outs, err := e.run(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	return Collapse(outs), nil
}

// Collapse turns the outputs of a filter into a single JSON value.
func Collapse(outs []any) any {
	switch len(outs) {
	case 0:
		return nil
	case 1:
		return outs[0]
	default:
		return outs
	}
}

func (e *JQEngine) run(ctx context.Context, expression string, input any) ([]any, error) {
	code, err := e.code(expression)
	if err != nil {
		return nil, err
	}
	var outs []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			return outs, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, evalError("jq", expression, err)
		}
		outs = append(outs, v)
	}
}

func (e *JQEngine) code(expression string) (*gojq.Code, error) {
	if err := checkSource("jq", expression); err != nil {
		return nil, err
	}
	return e.programs.get(expression, func() (*gojq.Code, error) {
		query, err := gojq.Parse(expression)
		if err != nil {
			return nil, compileError("jq", expression, err)
		}
		code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileError("jq", expression, err)
		}
		return code, nil
	})
}

var _ Engine = (*JQEngine)(nil)
