package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCEL_Name(t *testing.T) {
	assert.Equal(t, "cel", newCEL(t).Name())
}

func TestCEL_InstrumentCondition(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	cases := []struct {
		name string
		expr string
		data map[string]any
		want bool
	}{
		{"within tolerance", "reading >= target - 0.5 && reading <= target + 0.5",
			map[string]any{"reading": 99.8, "target": 100.0}, true},
		{"outside tolerance", "reading >= target - 0.5", map[string]any{"reading": 90.0, "target": 100.0}, false},
		{"int widened", "reading > 10.0", map[string]any{"reading": 11}, true},
		{"elapsed", "elapsed > 5.0", map[string]any{"elapsed": 6.5}, true},
		{"iteration", "iteration == 2", map[string]any{"iteration": 2}, true},
		{"vars", "vars.mode == 'ramp'", map[string]any{"vars": map[string]any{"mode": "ramp"}}, true},
		{"defaults", "reading == 0.0 && iteration == 0", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateBool(ctx, e, tc.expr, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCEL_CompileErrors(t *testing.T) {
	e := newCEL(t)

	err := e.Compile("reading >")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = e.Compile("unknown_var > 1.0")
	require.Error(t, err)

	err = e.Compile("")
	require.Error(t, err)

	assert.NoError(t, e.Compile("reading > target"))
}

func TestCEL_NonBoolResult(t *testing.T) {
	e := newCEL(t)
	_, err := EvaluateBool(context.Background(), e, "reading + 1.0", map[string]any{"reading": 1.0})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))
}

func TestCEL_EvaluationError(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "vars.missing > 1", map[string]any{"vars": map[string]any{}})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExpression))
}

func TestCEL_CachesPrograms(t *testing.T) {
	e := newCEL(t)
	require.NoError(t, e.Compile("reading > 1.0"))
	require.NoError(t, e.Compile("reading > 1.0"))
	assert.Equal(t, 1, e.programs.len())
}
