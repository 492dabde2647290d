package refslice

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSubsetRendersSQLViaSuppliedEmitter(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	newAdapter := func(ctx context.Context, databaseURL string) (DatabaseAdapter, error) {
		return adapter, nil
	}
	newSQLEmitter := func(buf *bytes.Buffer) RecordEmitter {
		return &stubBufferEmitter{buf: buf}
	}

	out, err := ExtractSubset(context.Background(), "postgres://ignored", "orders.id=1", 3, DirectionUp, newAdapter, newSQLEmitter)
	require.NoError(t, err)
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "customers")
}

func TestExtractSubsetWithoutEmitterReportsRowCounts(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	newAdapter := func(ctx context.Context, databaseURL string) (DatabaseAdapter, error) {
		return adapter, nil
	}

	out, err := ExtractSubset(context.Background(), "postgres://ignored", "orders.id=1", 3, DirectionUp, newAdapter, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "extracted")
	assert.Contains(t, out, "2 rows")
}

func TestExtractSubsetPropagatesConnectError(t *testing.T) {
	newAdapter := func(ctx context.Context, databaseURL string) (DatabaseAdapter, error) {
		return nil, assertErr
	}

	_, err := ExtractSubset(context.Background(), "postgres://ignored", "orders.id=1", 3, DirectionUp, newAdapter, nil)
	require.Error(t, err)
	rerr, ok := err.(*RefsliceError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeConnection, rerr.Type)
}

// stubBufferEmitter writes a minimal, order-recording line per table/row
// so tests can assert which tables were emitted without depending on the
// real SQL emitter's literal-formatting rules.
type stubBufferEmitter struct {
	buf *bytes.Buffer
}

func (e *stubBufferEmitter) EmitHeader(rowCount, tableCount int, hasCycles bool) error { return nil }

func (e *stubBufferEmitter) EmitRow(table string, row map[string]any, nullColumns map[string]bool) error {
	e.buf.WriteString(table + "\n")
	return nil
}

func (e *stubBufferEmitter) EmitDeferredUpdates(updates []DeferredUpdate) error { return nil }

func (e *stubBufferEmitter) EmitFooter() error { return nil }

var assertErr = &RefsliceError{Type: ErrorTypeConnection, Message: "boom"}
