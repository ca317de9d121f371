package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_EmptyIsOK(t *testing.T) {
	r := &Report{}
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
}

func TestReport_Fail(t *testing.T) {
	r := &Report{}
	r.Fail("root.children[0].type", ErrCodeNotFound, "step type %q not registered", "melt")

	assert.False(t, r.OK())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, Problem{
		Path:    "root.children[0].type",
		Code:    ErrCodeNotFound,
		Message: `step type "melt" not registered`,
	}, r.Errors[0])
}

func TestReport_WarningsAloneAreOK(t *testing.T) {
	r := &Report{}
	r.Warn("root.children[1]", "empty category")

	assert.True(t, r.OK())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, ErrCodeValidation, r.Warnings[0].Code)
	assert.NoError(t, r.Err())
}

func TestReport_Include(t *testing.T) {
	r := &Report{}
	r.Fail("/", ErrCodeValidation, "bad version")

	other := &Report{}
	other.Fail("root.children[0]", ErrCodeOutOfRange, "too deep")
	other.Warn("root", "sequence contains no steps")

	r.Include(other)
	r.Include(nil)

	assert.Len(t, r.Errors, 2)
	assert.Len(t, r.Warnings, 1)
}

func TestReport_ErrSingle(t *testing.T) {
	r := &Report{}
	r.Fail("root.children[0].payload", ErrCodeValidation, "seconds must be >= 0")

	err := r.Err()
	require.Error(t, err)
	var fe *FabrialError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrCodeValidation, fe.Code)
	assert.Equal(t, "root.children[0].payload: seconds must be >= 0", fe.Message)
	assert.Equal(t, r.Errors, fe.Details["errors"])
}

func TestReport_ErrListsEveryLocation(t *testing.T) {
	r := &Report{}
	r.Fail("root.children[0].type", ErrCodeNotFound, "unknown type")
	r.Fail("root.children[2].payload", ErrCodeValidation, "missing target")
	r.Warn("root", "just a warning")

	var fe *FabrialError
	require.ErrorAs(t, r.Err(), &fe)
	assert.Contains(t, fe.Message, "2 errors")
	assert.Contains(t, fe.Message, "root.children[0].type: unknown type")
	assert.Contains(t, fe.Message, "root.children[2].payload: missing target")
	assert.Len(t, fe.Details["warnings"], 1)
}
