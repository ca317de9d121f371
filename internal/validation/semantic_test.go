package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// mockStepLookup implements StepLookup for tests.
type mockStepLookup struct {
	registered map[string]bool
	composite  map[string]bool
	schemas    map[string][]byte
}

func (m *mockStepLookup) Has(name string) bool             { return m.registered[name] }
func (m *mockStepLookup) IsComposite(name string) bool     { return m.composite[name] }
func (m *mockStepLookup) PayloadSchema(name string) []byte { return m.schemas[name] }

func newMockLookup(names ...string) *mockStepLookup {
	m := &mockStepLookup{
		registered: make(map[string]bool),
		composite:  map[string]bool{"loop": true},
		schemas:    map[string][]byte{"hold": []byte(holdSchema)},
	}
	for _, n := range names {
		m.registered[n] = true
	}
	return m
}

func TestSemantic_RegisteredTypes(t *testing.T) {
	doc := document(seqNode("hold", `{"seconds": 1}`))
	result := validateSemantic(doc, newMockLookup("hold"))
	assert.True(t, result.OK())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_UnregisteredType(t *testing.T) {
	doc := document(catNode("Group", seqNode("melt", `{}`)))
	result := validateSemantic(doc, newMockLookup("hold"))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "root.children[0].children[0].type", result.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeNotFound, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "melt")
}

func TestSemantic_NilLookupSkipsTypeCheck(t *testing.T) {
	doc := document(seqNode("melt", `{}`))
	result := validateSemantic(doc, nil)
	assert.True(t, result.OK())
}

func TestSemantic_LeafWithChildren(t *testing.T) {
	doc := document(seqNode("hold", `{"seconds": 1}`, seqNode("hold", `{"seconds": 1}`)))
	result := validateSemantic(doc, newMockLookup("hold"))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "root.children[0].children", result.Errors[0].Path)
}

func TestSemantic_CompositeWithoutChildrenWarns(t *testing.T) {
	doc := document(seqNode("loop", `{"iterations": 2}`))
	result := validateSemantic(doc, newMockLookup("loop"))
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "root.children[0].children", result.Warnings[0].Path)
}

func TestSemantic_EmptyCategoryAndEmptyDocumentWarn(t *testing.T) {
	result := validateSemantic(document(catNode("")), newMockLookup())
	assert.True(t, result.OK())
	paths := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		paths = append(paths, w.Path)
	}
	assert.ElementsMatch(t, []string{"root.children[0].name", "root.children[0].children", "root"}, paths)
}
