package internal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lychee-technology/refslice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLEmitterWritesTransactionalInsertsAndCommit(t *testing.T) {
	var buf bytes.Buffer
	e := NewSQLEmitter(&buf, DialectPostgres, true, false, map[string][]string{"customers": {"id", "email"}})

	require.NoError(t, e.EmitHeader(1, 1, false))
	require.NoError(t, e.EmitRow("customers", map[string]any{"id": 1, "email": "a@example.com"}, nil))
	require.NoError(t, e.EmitDeferredUpdates(nil))
	require.NoError(t, e.EmitFooter())

	out := buf.String()
	assert.Contains(t, out, "BEGIN;")
	assert.Contains(t, out, `INSERT INTO "customers" ("id", "email") VALUES (1, 'a@example.com');`)
	assert.Contains(t, out, "COMMIT;")
}

func TestSQLEmitterOmitsTransactionWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	e := NewSQLEmitter(&buf, DialectPostgres, false, false, nil)
	require.NoError(t, e.EmitHeader(0, 0, false))
	require.NoError(t, e.EmitFooter())
	assert.NotContains(t, buf.String(), "BEGIN;")
	assert.NotContains(t, buf.String(), "COMMIT;")
}

func TestSQLEmitterDropTables(t *testing.T) {
	var buf bytes.Buffer
	e := NewSQLEmitter(&buf, DialectMySQL, false, true, map[string][]string{"orders": {"id"}})
	require.NoError(t, e.EmitHeader(0, 1, false))
	assert.Contains(t, buf.String(), "DROP TABLE IF EXISTS `orders`;")
}

func TestSQLEmitterRowForcesNullColumns(t *testing.T) {
	var buf bytes.Buffer
	e := NewSQLEmitter(&buf, DialectPostgres, false, false, map[string][]string{"customers": {"id", "email"}})
	require.NoError(t, e.EmitRow("customers", map[string]any{"id": 1, "email": "secret"}, map[string]bool{"email": true}))
	assert.Contains(t, buf.String(), `VALUES (1, NULL);`)
}

func TestSQLEmitterDeferredUpdates(t *testing.T) {
	var buf bytes.Buffer
	e := NewSQLEmitter(&buf, DialectPostgres, false, false, nil)

	updates := []refslice.DeferredUpdate{
		{Table: "categories", PKColumns: []string{"id"}, PKValues: []any{2}, FKColumn: "parent_id", FKValue: 1},
	}
	require.NoError(t, e.EmitDeferredUpdates(updates))

	out := buf.String()
	assert.True(t, strings.Contains(out, `UPDATE "categories" SET "parent_id" = 1 WHERE "id" = 2;`))
}

func TestSQLEmitterDeferredUpdatesEmptyIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	e := NewSQLEmitter(&buf, DialectPostgres, false, false, nil)
	require.NoError(t, e.EmitDeferredUpdates(nil))
	assert.Empty(t, buf.String())
}
