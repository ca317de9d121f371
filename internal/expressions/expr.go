package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// LoopEnv is what a loop's while condition can see.
type LoopEnv struct {
	// Iteration is the zero-based pass about to start.
	Iteration int `expr:"iteration"`
	// Iterations is the configured pass limit, 0 when unbounded.
	Iterations int `expr:"iterations"`
	// Elapsed is the number of seconds since the loop started.
	Elapsed float64        `expr:"elapsed"`
	Vars    map[string]any `expr:"vars"`
}

// ExprEngine evaluates loop conditions written in expr-lang. Conditions are
// type-checked against LoopEnv when compiled, so unknown names and non-bool
// results fail when the sequence is loaded. It is safe for concurrent use.
type ExprEngine struct {
	conditions programs[*vm.Program]
	dynamic    programs[*vm.Program]
}

// NewExprEngine creates an Expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// CompileCondition checks a loop condition without running it.
func (e *ExprEngine) CompileCondition(expression string) error {
	_, err := e.condition(expression)
	return err
}

// Holds reports whether the loop condition is true for env.
func (e *ExprEngine) Holds(expression string, env LoopEnv) (bool, error) {
	prg, err := e.condition(expression)
	if err != nil {
		return false, err
	}
	if env.Vars == nil {
		env.Vars = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false, evalError("expr", expression, err)
	}
	return out.(bool), nil
}

func (e *ExprEngine) condition(expression string) (*vm.Program, error) {
	if err := checkSource("expr", expression); err != nil {
		return nil, err
	}
	return e.conditions.get(expression, func() (*vm.Program, error) {
		prg, err := expr.Compile(expression, expr.Env(LoopEnv{}), expr.AsBool())
		if err != nil {
			return nil, compileError("expr", expression, err)
		}
		return prg, nil
	})
}

// Evaluate runs expression with the keys of data as variables. Names that are
// not in data evaluate to nil.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if err := checkSource("expr", expression); err != nil {
		return nil, err
	}
	prg, err := e.dynamic.get(expression, func() (*vm.Program, error) {
		prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError("expr", expression, err)
		}
		return prg, nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
