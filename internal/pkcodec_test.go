package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveBatchSize(t *testing.T) {
	assert.Equal(t, 1000, EffectiveBatchSize(1000, 1))
	assert.Equal(t, 500, EffectiveBatchSize(1000, 2))
	assert.Equal(t, 1, EffectiveBatchSize(1000, 5000), "floors at 1 when arity exceeds the limit")
	assert.Equal(t, 1000, EffectiveBatchSize(1000, 0), "treats non-positive arity as 1")
}

func TestChunkPKValues(t *testing.T) {
	values := [][]any{{1}, {2}, {3}, {4}, {5}}
	batches := ChunkPKValues(values, 2)
	assert.Equal(t, [][][]any{{{1}, {2}}, {{3}, {4}}, {{5}}}, batches)
}

func TestChunkPKValuesNonPositiveBatchSize(t *testing.T) {
	values := [][]any{{1}, {2}}
	batches := ChunkPKValues(values, 0)
	assert.Equal(t, [][][]any{{{1}}, {{2}}}, batches)
}

func TestChunkPKValuesHundredThousandIdentitiesIssuesExactlyOneHundredBatches(t *testing.T) {
	values := make([][]any, 100000)
	for i := range values {
		values[i] = []any{i}
	}
	batchSize := EffectiveBatchSize(1000, 1)
	batches := ChunkPKValues(values, batchSize)
	assert.Len(t, batches, 100)
	for _, b := range batches {
		assert.Len(t, b, 1000)
	}
}

func TestBuildINClausePostgres(t *testing.T) {
	clause, args := BuildINClause(DialectPostgres, "id", [][]any{{1}, {2}, {3}}, 1)
	assert.Equal(t, `"id" IN ($1, $2, $3)`, clause)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestBuildINClauseMySQL(t *testing.T) {
	clause, args := BuildINClause(DialectMySQL, "id", [][]any{{1}, {2}}, 1)
	assert.Equal(t, "`id` IN (?, ?)", clause)
	assert.Equal(t, []any{1, 2}, args)
}

func TestBuildORAndClauseCompositeKey(t *testing.T) {
	clause, args := BuildORAndClause(DialectSQLite, []string{"tenant_id", "id"}, [][]any{{1, 10}, {1, 11}}, 1)
	assert.Equal(t, `("tenant_id" = ? AND "id" = ?) OR ("tenant_id" = ? AND "id" = ?)`, clause)
	assert.Equal(t, []any{1, 10, 1, 11}, args)
}

func TestBuildPKFilterDispatchesByArity(t *testing.T) {
	clause, _ := BuildPKFilter(DialectPostgres, []string{"id"}, [][]any{{1}}, 1)
	assert.Contains(t, clause, "IN (")

	clause, _ = BuildPKFilter(DialectPostgres, []string{"a", "b"}, [][]any{{1, 2}}, 1)
	assert.Contains(t, clause, "AND")
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"weird""col"`, quoteIdent(DialectPostgres, `weird"col`))
	assert.Equal(t, "`weird``col`", quoteIdent(DialectMySQL, "weird`col"))
}
