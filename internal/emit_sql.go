package internal

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lychee-technology/refslice"
)

// SQLEmitter writes a single SQL artifact: comment preamble, BEGIN;,
// INSERTs grouped by table, the deferred UPDATE tail, COMMIT;. Grounded
// on SPEC_FULL.md §4.9's "Persisted state layout" and the teacher's
// pattern of building multi-value statements for pgx.Batch, adapted here
// to literal-rendered SQL text instead of a driver-bound batch.
type SQLEmitter struct {
	w                  *bufio.Writer
	dialect            string
	includeTransaction bool
	includeDropTables  bool
	tableColumns       map[string][]string
}

// NewSQLEmitter constructs a SQL emitter writing to w for the given dialect.
func NewSQLEmitter(w io.Writer, dialect string, includeTransaction, includeDropTables bool, tableColumns map[string][]string) *SQLEmitter {
	return &SQLEmitter{
		w:                  bufio.NewWriter(w),
		dialect:            dialect,
		includeTransaction: includeTransaction,
		includeDropTables:  includeDropTables,
		tableColumns:       tableColumns,
	}
}

// EmitHeader writes the comment preamble and transactional opener.
func (e *SQLEmitter) EmitHeader(rowCount, tableCount int, hasCycles bool) error {
	fmt.Fprintf(e.w, "-- refslice extraction\n-- rows: %d, tables: %d, cycles: %v\n", rowCount, tableCount, hasCycles)
	if e.includeDropTables {
		for table := range e.tableColumns {
			fmt.Fprintf(e.w, "DROP TABLE IF EXISTS %s;\n", QuoteIdentifier(e.dialect, table))
		}
	}
	if e.includeTransaction {
		fmt.Fprintln(e.w, "BEGIN;")
	}
	return e.w.Flush()
}

// EmitRow writes one INSERT statement, forcing nullColumns to NULL.
func (e *SQLEmitter) EmitRow(table string, row map[string]any, nullColumns map[string]bool) error {
	columns := e.tableColumns[table]
	if columns == nil {
		columns = sortedKeys(row)
	}
	colParts := make([]string, len(columns))
	valParts := make([]string, len(columns))
	for i, col := range columns {
		colParts[i] = QuoteIdentifier(e.dialect, col)
		if nullColumns[col] {
			valParts[i] = "NULL"
			continue
		}
		valParts[i] = FormatSQLLiteral(e.dialect, row[col])
	}
	fmt.Fprintf(e.w, "INSERT INTO %s (%s) VALUES (%s);\n",
		QuoteIdentifier(e.dialect, table), strings.Join(colParts, ", "), strings.Join(valParts, ", "))
	return e.w.Flush()
}

// EmitDeferredUpdates writes one UPDATE per deferred edge, restoring a
// broken FK's original value after all INSERTs have run.
func (e *SQLEmitter) EmitDeferredUpdates(updates []refslice.DeferredUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	fmt.Fprintln(e.w, "-- deferred updates (restoring cycle-broken foreign keys)")
	for _, u := range updates {
		whereParts := make([]string, len(u.PKColumns))
		for i, col := range u.PKColumns {
			whereParts[i] = fmt.Sprintf("%s = %s", QuoteIdentifier(e.dialect, col), FormatSQLLiteral(e.dialect, u.PKValues[i]))
		}
		fmt.Fprintf(e.w, "UPDATE %s SET %s = %s WHERE %s;\n",
			QuoteIdentifier(e.dialect, u.Table),
			QuoteIdentifier(e.dialect, u.FKColumn),
			FormatSQLLiteral(e.dialect, u.FKValue),
			strings.Join(whereParts, " AND "))
	}
	return e.w.Flush()
}

// EmitFooter writes the transactional closer.
func (e *SQLEmitter) EmitFooter() error {
	if e.includeTransaction {
		fmt.Fprintln(e.w, "COMMIT;")
	}
	return e.w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
