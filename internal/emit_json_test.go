package internal

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEmitterEnvelope(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf, "")

	require.NoError(t, e.EmitHeader(2, 1, false))
	require.NoError(t, e.EmitRow("customers", map[string]any{"id": 1, "email": "a@example.com"}, nil))
	require.NoError(t, e.EmitRow("customers", map[string]any{"id": 2, "email": nil}, map[string]bool{"email": true}))
	require.NoError(t, e.EmitDeferredUpdates(nil))
	require.NoError(t, e.EmitFooter())

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))

	metadata := envelope["metadata"].(map[string]any)
	assert.Equal(t, float64(2), metadata["row_count"])
	assert.Equal(t, float64(1), metadata["table_count"])

	tables := envelope["tables"].(map[string]any)
	rows := tables["customers"].([]any)
	require.Len(t, rows, 2)
	second := rows[1].(map[string]any)
	assert.Nil(t, second["email"])
}
