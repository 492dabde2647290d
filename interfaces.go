package refslice

import "context"

// ProgressCallback is invoked at each extraction stage. current/total
// are stage-specific (e.g. BFS frontier size, rows streamed in a
// chunk) and may both be zero for stages with no natural count.
// Recovered from original_source's core/engine.py ProgressCallback,
// dropped by the distilled spec.
type ProgressCallback func(stage, message string, current, total int)

// RowChunk is a batch of rows yielded by chunked fetches, each row a
// column-name to value map.
type RowChunk = []map[string]any

// DatabaseAdapter is the contract every database backend implements,
// per SPEC_FULL.md §4.1. All methods assume a live connection and,
// where noted, an active snapshot transaction.
type DatabaseAdapter interface {
	Connect(ctx context.Context, url string) error
	Close(ctx context.Context) error

	// GetSchema introspects the database and returns a fully populated
	// SchemaGraph. schemaName is adapter-specific (e.g. a Postgres
	// schema); empty means the adapter's default.
	GetSchema(ctx context.Context, schemaName string) (*SchemaGraph, error)

	// FetchRows streams rows matching a raw predicate. whereClause is
	// re-validated before any quoting occurs (defense in depth).
	FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error)

	// FetchByPK streams rows whose PK is in pkValues, batched so the
	// number of bound parameters per query stays under the adapter's
	// limit.
	FetchByPK(ctx context.Context, table string, pkColumns []string, pkValues [][]any) ([]map[string]any, error)

	// FetchByPKChunked yields rows in chunks of at most chunkSize so
	// memory stays O(chunkSize). The adapters in this module issue one
	// batched FetchByPK query per chunk; none uses a server-side cursor.
	FetchByPKChunked(ctx context.Context, table string, pkColumns []string, pkValues [][]any, chunkSize int, fn func(RowChunk) error) error

	// FetchFKValues returns the distinct non-null target-PK tuples
	// referenced by fk.SourceColumns for the given source rows.
	FetchFKValues(ctx context.Context, table string, fk ForeignKey, sourcePKValues [][]any) ([][]any, error)

	// FetchReferencingPKs returns the PKs of rows in fk.SourceTable
	// whose fk.SourceColumns match any of targetPKValues.
	FetchReferencingPKs(ctx context.Context, fk ForeignKey, targetPKValues [][]any) ([][]any, error)

	// FetchAllPKs returns every PK in table (passthrough tables only).
	FetchAllPKs(ctx context.Context, table string, pkColumns []string) ([][]any, error)

	BeginSnapshot(ctx context.Context) error
	EndSnapshot(ctx context.Context) error
}

// RecordEmitter writes a fully-resolved extraction to an output
// artifact: SQL script, JSON, or CSV (SPEC_FULL.md §4.9).
type RecordEmitter interface {
	// EmitHeader writes the artifact preamble.
	EmitHeader(rowCount, tableCount int, hasCycles bool) error
	// EmitRow writes one row of a table, forcing nullColumns to NULL.
	EmitRow(table string, row map[string]any, nullColumns map[string]bool) error
	// EmitDeferredUpdates writes the deferred UPDATE tail.
	EmitDeferredUpdates(updates []DeferredUpdate) error
	// EmitFooter writes the artifact closer.
	EmitFooter() error
}
