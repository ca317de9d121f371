// Package expressions evaluates the small programs that sequence files and
// operators write: CEL conditions on instrument readings, Expr loop
// conditions and jq filters over run history.
package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Engine evaluates an expression against a set of named values.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// EvaluateBool evaluates expression and requires a boolean result.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"%s expression %q returned %s, want bool", e.Name(), expression, typeName(out)).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

// programs caches compiled programs by key. A key is compiled once; failed
// compilations are not cached.
type programs[P any] struct {
	mu sync.Mutex
	m  map[string]P
}

func (c *programs[P]) get(key string, compile func() (P, error)) (P, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.m[key]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		return p, err
	}
	if c.m == nil {
		c.m = make(map[string]P)
	}
	c.m[key] = p
	return p, nil
}

func (c *programs[P]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func checkSource(lang, expression string) error {
	if expression == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", lang)
	}
	return nil
}

// compileError reports a malformed expression as a VALIDATION_ERROR.
func compileError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot compile %q: %v", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExpression, "%s: evaluating %q: %v", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
