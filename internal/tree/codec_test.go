package tree

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/internal/validation"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

func sampleTree() *Node {
	return NewCategory("root",
		NewCategory("Anneal",
			leaf("Preheat"),
			loop("Cycle", leaf("Dwell")),
		),
		leaf("Cool"),
	)
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	dv, err := validation.NewDocumentValidator(stubFactory{})
	require.NoError(t, err)
	return NewCodec(stubFactory{}, dv)
}

func TestEncode_Shape(t *testing.T) {
	rec, err := Encode(sampleTree())
	require.NoError(t, err)

	assert.Equal(t, schema.NodeKindCategory, rec.Kind)
	require.Len(t, rec.Children, 2)
	anneal := rec.Children[0]
	assert.Equal(t, "Anneal", anneal.Name)
	assert.Empty(t, anneal.Payload)
	require.Len(t, anneal.Children, 2)

	cycle := anneal.Children[1]
	assert.Equal(t, schema.NodeKindSequence, cycle.Kind)
	assert.Equal(t, "loop", cycle.Type)
	assert.JSONEq(t, `{"label":"Cycle"}`, string(cycle.Payload))
	require.Len(t, cycle.Children, 1)
	assert.JSONEq(t, `{"label":"Dwell","seconds":1}`, string(cycle.Children[0].Payload))
}

func TestEncode_NonSerializableStep(t *testing.T) {
	root := NewCategory("root", NewSequence(opaqueStep{}))
	_, err := Encode(root)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestRoundTrip_Record(t *testing.T) {
	codec := newTestCodec(t)
	src := sampleTree()

	rec, err := Encode(src)
	require.NoError(t, err)
	decoded, err := codec.Decode(rec)
	require.NoError(t, err)

	assert.True(t, Equal(src, decoded))

	anneal, err := decoded.Child(0)
	require.NoError(t, err)
	cycle, err := anneal.Child(1)
	require.NoError(t, err)
	assert.Same(t, anneal, cycle.Parent())
	assert.Equal(t, "Cycle", cycle.Name())
	assert.Equal(t, 1, cycle.Len())
}

func TestRoundTrip_Formats(t *testing.T) {
	codec := newTestCodec(t)
	src := sampleTree()

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := codec.Marshal(src, format)
			require.NoError(t, err)

			decoded, err := codec.Unmarshal(data, format)
			require.NoError(t, err)
			assert.True(t, Equal(src, decoded))
		})
	}
}

func TestEqual_DetectsDifferences(t *testing.T) {
	a := sampleTree()
	b := sampleTree()
	assert.True(t, Equal(a, b))

	require.NoError(t, b.Append(leaf("Extra")))
	assert.False(t, Equal(a, b))

	c := sampleTree()
	c.Children()[0].SetName("Sinter")
	assert.False(t, Equal(a, c))
}

func TestUnmarshal_YAMLDocument(t *testing.T) {
	codec := newTestCodec(t)
	doc := `
version: 1
root:
  kind: category
  name: root
  children:
    - kind: sequence
      type: hold
      payload: {label: Soak, seconds: 30}
    - kind: sequence
      type: loop
      payload: {label: Repeat}
      children:
        - kind: sequence
          type: hold
          payload: {label: Inner, seconds: 2}
`
	root, err := codec.Unmarshal([]byte(doc), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, 2, root.Len())

	steps := root.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "Soak", steps[0].Name())
	assert.Equal(t, 30, steps[0].(*stubStep).Seconds)
	require.Len(t, steps[1].(*stubLoop).children, 1)
}

func TestUnmarshal_RejectsInvalidDocuments(t *testing.T) {
	codec := newTestCodec(t)

	cases := map[string]string{
		"unknown field":   `{"version":1,"root":{"kind":"category","colour":"red"}}`,
		"missing version": `{"root":{"kind":"category"}}`,
		"unknown type":    `{"version":1,"root":{"kind":"category","children":[{"kind":"sequence","type":"melt"}]}}`,
		"leaf children":   `{"version":1,"root":{"kind":"category","children":[{"kind":"sequence","type":"hold","payload":{"label":"a"},"children":[{"kind":"sequence","type":"hold"}]}]}}`,
		"not json":        `{"version":`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Unmarshal([]byte(doc), FormatJSON)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation), "%v", err)
		})
	}
}

func TestUnmarshal_WithoutValidator(t *testing.T) {
	codec := NewCodec(stubFactory{}, nil)
	_, err := codec.Unmarshal([]byte(`{"version":1,"root":{"kind":"category","children":[{"kind":"sequence","type":"melt"}]}}`), FormatJSON)
	require.Error(t, err, "the factory still rejects unknown types")
	assert.Contains(t, err.Error(), "root.children[0]")
}

func TestLoadSave(t *testing.T) {
	codec := newTestCodec(t)
	dir := t.TempDir()

	for _, name := range []string{"seq.json", "seq.yaml", "seq.yml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, codec.Save(path, sampleTree()))

		loaded, err := codec.Load(path)
		require.NoError(t, err)
		assert.True(t, Equal(sampleTree(), loaded), name)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")

	raw, err := os.ReadFile(filepath.Join(dir, "seq.json"))
	require.NoError(t, err)
	var doc schema.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, schema.DocumentVersion, doc.Version)
}

func TestCheck_ReturnsWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq.json")
	doc := `{"version":1,"root":{"kind":"category","children":[
		{"kind":"category","name":"Later"},
		{"kind":"sequence","type":"hold","payload":{"label":"Soak","seconds":1}}]}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	root, warnings, err := newTestCodec(t).Check(path)
	require.NoError(t, err)
	assert.Equal(t, 2, root.Len())
	require.Len(t, warnings, 1)
	assert.Equal(t, "root.children[0].children: empty category", warnings[0].String())
}

func TestCheck_ErrorsNameTheirLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq.json")
	doc := `{"version":1,"root":{"kind":"category","children":[
		{"kind":"sequence","type":"melt"},
		{"kind":"sequence","type":"anneal"}]}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, _, err := newTestCodec(t).Check(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root.children[0].type")
	assert.Contains(t, err.Error(), "root.children[1].type")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := newTestCodec(t).Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeResource))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a/b.YAML"))
	assert.Equal(t, FormatYAML, FormatFor("b.yml"))
	assert.Equal(t, FormatJSON, FormatFor("b.json"))
	assert.Equal(t, FormatJSON, FormatFor("b"))
}
