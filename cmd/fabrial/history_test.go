package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/internal/store"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

func sampleRuns() map[string]any {
	return map[string]any{"runs": []*store.Run{
		{ID: "run-1", SequenceFile: "anneal.yaml", Status: schema.StatusCompleted},
		{ID: "run-2", SequenceFile: "anneal.yaml", Status: schema.StatusCanceled},
	}}
}

func TestEmitJSON_NoFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, emitJSON(t.Context(), &buf, map[string]any{"ok": true}, ""))
	assert.Equal(t, "{\n  \"ok\": true\n}\n", buf.String())
}

func TestEmitJSON_SingleOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, emitJSON(t.Context(), &buf, sampleRuns(), `[.runs[] | select(.status == "canceled") | .id]`))
	assert.Equal(t, "[\n  \"run-2\"\n]\n", buf.String())
}

func TestEmitJSON_OneDocumentPerOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, emitJSON(t.Context(), &buf, sampleRuns(), ".runs[] | .id"))
	assert.Equal(t, "\"run-1\"\n\"run-2\"\n", buf.String())
}

func TestEmitJSON_BadFilter(t *testing.T) {
	var buf bytes.Buffer
	err := emitJSON(t.Context(), &buf, sampleRuns(), ".runs[")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Empty(t, buf.String())
}
