package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CEL variable names available to instrument conditions.
const (
	VarReading   = "reading"
	VarTarget    = "target"
	VarElapsed   = "elapsed"
	VarIteration = "iteration"
	VarVars      = "vars"
)

// CELEngine evaluates the conditions of wait_until steps. It is safe for
// concurrent use.
type CELEngine struct {
	env      *cel.Env
	programs programs[cel.Program]
}

// NewCELEngine creates a new CEL expression engine with a sandboxed environment.
// The environment exposes:
//   - reading:   double            the latest instrument reading
//   - target:    double            the payload's target value
//   - elapsed:   double            seconds since the step started
//   - iteration: int               the enclosing loop iteration, 0 outside loops
//   - vars:      map(string, dyn)  free-form values from the payload
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarReading, cel.DoubleType),
		cel.Variable(VarTarget, cel.DoubleType),
		cel.Variable(VarElapsed, cel.DoubleType),
		cel.Variable(VarIteration, cel.IntType),
		cel.Variable(VarVars, cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{env: env}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile checks expression without evaluating it. Steps call it when their
// payload is loaded so that typos fail before the sequence starts.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against data. Missing variables take their zero
// value.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, evalError("cel", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if err := checkSource("cel", expression); err != nil {
		return nil, err
	}
	return e.programs.get(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, compileError("cel", expression, issues.Err())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError("cel", expression, err)
		}
		return prg, nil
	})
}

// buildActivation fills in zero values so that CEL never sees an unbound
// variable, and widens Go numeric types to the ones the environment declares.
func buildActivation(data map[string]any) map[string]any {
	activation := map[string]any{
		VarReading:   0.0,
		VarTarget:    0.0,
		VarElapsed:   0.0,
		VarIteration: int64(0),
		VarVars:      map[string]any{},
	}
	for _, key := range []string{VarReading, VarTarget, VarElapsed} {
		if f, ok := toFloat(data[key]); ok {
			activation[key] = f
		}
	}
	if i, ok := toInt(data[VarIteration]); ok {
		activation[VarIteration] = i
	}
	if m, ok := data[VarVars].(map[string]any); ok && m != nil {
		activation[VarVars] = m
	}
	return activation
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

var _ Engine = (*CELEngine)(nil)
