package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/refslice"
)

// BreakerAdapter wraps a refslice.DatabaseAdapter with the package's
// CircuitBreaker, tripping after repeated failures so a flapping or
// unreachable source database fails fast across seeds instead of the
// orchestrator hammering a dead connection, per SPEC_FULL.md §4.10.
// Connect, GetSchema and the Fetch* methods are guarded; Close,
// BeginSnapshot and EndSnapshot pass straight through to the wrapped
// adapter.
type BreakerAdapter struct {
	refslice.DatabaseAdapter
	breaker *CircuitBreaker
}

// WrapWithCircuitBreaker returns adapter wrapped with a breaker that
// opens after threshold failures within window, staying open for
// openDuration. A threshold <= 0 disables wrapping and returns adapter
// unchanged.
func WrapWithCircuitBreaker(adapter refslice.DatabaseAdapter, threshold int, window, openDuration time.Duration) refslice.DatabaseAdapter {
	if threshold <= 0 {
		return adapter
	}
	cb := NewCircuitBreaker(threshold, window, openDuration)
	SetGlobalAdapterCircuitBreaker(cb)
	return &BreakerAdapter{DatabaseAdapter: adapter, breaker: cb}
}

func (b *BreakerAdapter) guard() error {
	if b.breaker.IsOpen() {
		return refslice.NewConnectionError("circuit breaker open", fmt.Errorf("too many recent adapter failures, failing fast"))
	}
	return nil
}

func (b *BreakerAdapter) record(err error) error {
	if err != nil {
		b.breaker.RecordFailure()
	} else {
		b.breaker.RecordSuccess()
	}
	return err
}

func (b *BreakerAdapter) Connect(ctx context.Context, url string) error {
	if err := b.guard(); err != nil {
		return err
	}
	return b.record(b.DatabaseAdapter.Connect(ctx, url))
}

func (b *BreakerAdapter) GetSchema(ctx context.Context, schemaName string) (*refslice.SchemaGraph, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	schema, err := b.DatabaseAdapter.GetSchema(ctx, schemaName)
	return schema, b.record(err)
}

func (b *BreakerAdapter) FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	rows, err := b.DatabaseAdapter.FetchRows(ctx, table, whereClause, params)
	return rows, b.record(err)
}

func (b *BreakerAdapter) FetchByPK(ctx context.Context, table string, pkColumns []string, pkValues [][]any) ([]map[string]any, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	rows, err := b.DatabaseAdapter.FetchByPK(ctx, table, pkColumns, pkValues)
	return rows, b.record(err)
}

func (b *BreakerAdapter) FetchByPKChunked(ctx context.Context, table string, pkColumns []string, pkValues [][]any, chunkSize int, fn func(refslice.RowChunk) error) error {
	if err := b.guard(); err != nil {
		return err
	}
	return b.record(b.DatabaseAdapter.FetchByPKChunked(ctx, table, pkColumns, pkValues, chunkSize, fn))
}

func (b *BreakerAdapter) FetchFKValues(ctx context.Context, table string, fk refslice.ForeignKey, sourcePKValues [][]any) ([][]any, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	vals, err := b.DatabaseAdapter.FetchFKValues(ctx, table, fk, sourcePKValues)
	return vals, b.record(err)
}

func (b *BreakerAdapter) FetchReferencingPKs(ctx context.Context, fk refslice.ForeignKey, targetPKValues [][]any) ([][]any, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	vals, err := b.DatabaseAdapter.FetchReferencingPKs(ctx, fk, targetPKValues)
	return vals, b.record(err)
}

func (b *BreakerAdapter) FetchAllPKs(ctx context.Context, table string, pkColumns []string) ([][]any, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	vals, err := b.DatabaseAdapter.FetchAllPKs(ctx, table, pkColumns)
	return vals, b.record(err)
}
