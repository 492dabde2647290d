package internal

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVEmitterCombinedFileHasTableNameColumn(t *testing.T) {
	var buf bytes.Buffer
	e := NewCSVEmitter(&buf, "", map[string][]string{"customers": {"id", "email"}})

	require.NoError(t, e.EmitHeader(1, 1, false))
	require.NoError(t, e.EmitRow("customers", map[string]any{"id": 1, "email": "a@example.com"}, nil))
	require.NoError(t, e.EmitRow("customers", map[string]any{"id": 2, "email": "redacted"}, map[string]bool{"email": true}))
	require.NoError(t, e.EmitFooter())

	reader := csv.NewReader(strings.NewReader(buf.String()))
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"table_name", "id", "email"}, records[0])
	assert.Equal(t, []string{"customers", "1", "a@example.com"}, records[1])
	assert.Equal(t, []string{"customers", "2", ""}, records[2], "nullColumns forces an empty field regardless of the row's value")
}

func TestCSVEmitterFallsBackToSortedKeysWithoutColumnOrder(t *testing.T) {
	var buf bytes.Buffer
	e := NewCSVEmitter(&buf, "", nil)

	require.NoError(t, e.EmitRow("orders", map[string]any{"total": 9.5, "id": 1}, nil))
	require.NoError(t, e.EmitFooter())

	reader := csv.NewReader(strings.NewReader(buf.String()))
	records, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"table_name", "id", "total"}, records[0])
}

func TestCSVEmitterDeferredUpdatesIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	e := NewCSVEmitter(&buf, "", nil)
	assert.NoError(t, e.EmitDeferredUpdates(nil))
}
