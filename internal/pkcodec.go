package internal

import (
	"fmt"
	"strings"
)

// pkcodec.go builds the positional, batched OR-of-AND-equality clauses
// SPEC_FULL.md §4.1 requires for composite PK/FK lookups. Adapted from
// the teacher's dirtyids.go, which built a single-column UUID
// VALUES-list fragment for a DuckDB template; this generalizes the same
// idea (render a batch of identity tuples into a SQL fragment) to
// arbitrary-arity PKs across three SQL dialects instead of one
// UUID-keyed template placeholder.

// EffectiveBatchSize returns paramLimit divided by the PK's arity,
// floored at 1 — the batch size rule from SPEC_FULL.md §4.1.
func EffectiveBatchSize(paramLimit, arity int) int {
	if arity < 1 {
		arity = 1
	}
	size := paramLimit / arity
	if size < 1 {
		size = 1
	}
	return size
}

// ChunkPKValues splits pkValues into batches of at most batchSize tuples.
func ChunkPKValues(pkValues [][]any, batchSize int) [][][]any {
	if batchSize <= 0 {
		batchSize = 1
	}
	var batches [][][]any
	for i := 0; i < len(pkValues); i += batchSize {
		end := i + batchSize
		if end > len(pkValues) {
			end = len(pkValues)
		}
		batches = append(batches, pkValues[i:end])
	}
	return batches
}

// Placeholder styles for the three supported dialects.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// nextPlaceholder returns the next bound-parameter placeholder for the
// given dialect and advances paramIndex for Postgres's numbered style.
func nextPlaceholder(dialect string, paramIndex *int) string {
	if dialect == DialectPostgres {
		p := fmt.Sprintf("$%d", *paramIndex)
		*paramIndex++
		return p
	}
	return "?"
}

// BuildINClause builds `col IN (?, ?, …)` (or `$1, $2, …` for Postgres)
// for a single-column PK batch.
func BuildINClause(dialect, column string, batch [][]any, paramIndex int) (clause string, args []any) {
	placeholders := make([]string, len(batch))
	args = make([]any, len(batch))
	idx := paramIndex
	for i, tuple := range batch {
		placeholders[i] = nextPlaceholder(dialect, &idx)
		args[i] = tuple[0]
	}
	clause = quoteIdent(dialect, column) + " IN (" + strings.Join(placeholders, ", ") + ")"
	return clause, args
}

// BuildORAndClause builds an OR-of-AND-equality clause for a composite
// PK/FK batch: `(a = ? AND b = ?) OR (a = ? AND b = ?) OR …`. Columns
// are paired positionally with each tuple's values — never a Cartesian
// product.
func BuildORAndClause(dialect string, columns []string, batch [][]any, paramIndex int) (clause string, args []any) {
	groups := make([]string, len(batch))
	args = make([]any, 0, len(batch)*len(columns))
	idx := paramIndex
	for i, tuple := range batch {
		conds := make([]string, len(columns))
		for j, col := range columns {
			conds[j] = fmt.Sprintf("%s = %s", quoteIdent(dialect, col), nextPlaceholder(dialect, &idx))
			args = append(args, tuple[j])
		}
		groups[i] = "(" + strings.Join(conds, " AND ") + ")"
	}
	clause = strings.Join(groups, " OR ")
	return clause, args
}

// BuildPKFilter dispatches to BuildINClause or BuildORAndClause
// depending on the PK's arity.
func BuildPKFilter(dialect string, pkColumns []string, batch [][]any, paramIndex int) (clause string, args []any) {
	if len(pkColumns) == 1 {
		return BuildINClause(dialect, pkColumns[0], batch, paramIndex)
	}
	return BuildORAndClause(dialect, pkColumns, batch, paramIndex)
}

// quoteIdent quotes a bare identifier per dialect: double quotes for
// Postgres/SQLite, backticks for MySQL.
func quoteIdent(dialect, name string) string {
	if dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
