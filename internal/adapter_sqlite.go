package internal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/lychee-technology/refslice"
)

// sqliteParamLimit bounds bound parameters per statement. SQLite's
// compile-time SQLITE_MAX_VARIABLE_NUMBER defaults to 999 on older
// releases and was raised in 3.32; 900 stays under either.
const sqliteParamLimit = 900

// SQLiteAdapter implements refslice.DatabaseAdapter against a SQLite
// file using the pure-Go ncruces/go-sqlite3 driver (no cgo). SQLite has
// no separate catalog schema to select — schemaName is accepted for
// interface symmetry but ignored.
//
// SQLite has no concept of a long-lived server-side cursor or a
// snapshot isolation level distinct from its own file-level locking;
// BeginSnapshot opens a deferred read transaction, which is the
// database's native equivalent given WAL mode's reader isolation from
// concurrent writers.
type SQLiteAdapter struct {
	db       *sql.DB
	tx       *sql.Tx
	tablePKs map[string][]string
}

// NewSQLiteAdapter constructs an unconnected adapter.
func NewSQLiteAdapter() *SQLiteAdapter {
	return &SQLiteAdapter{}
}

// Connect opens the SQLite file at url (a sqlite:// or file: DSN,
// passed through to the driver largely as-is) and verifies it with a ping.
func (a *SQLiteAdapter) Connect(ctx context.Context, url string) error {
	dsn := strings.TrimPrefix(url, "sqlite://")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return refslice.NewConnectionError("open sqlite database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return refslice.NewConnectionError("ping sqlite", err)
	}
	a.db = db
	zap.S().Infow("connected to sqlite", "dsn", dsn)
	return nil
}

// Close releases the database handle.
func (a *SQLiteAdapter) Close(ctx context.Context) error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

type sqliteQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (a *SQLiteAdapter) querier() sqliteQuerier {
	if a.tx != nil {
		return a.tx
	}
	return a.db
}

// BeginSnapshot opens a deferred, read-only transaction.
func (a *SQLiteAdapter) BeginSnapshot(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return refslice.NewConnectionError("begin snapshot transaction", err)
	}
	a.tx = tx
	return nil
}

// EndSnapshot rolls back the read-only transaction.
func (a *SQLiteAdapter) EndSnapshot(ctx context.Context) error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Rollback()
	a.tx = nil
	if err != nil && err != sql.ErrTxDone {
		return refslice.NewConnectionError("release snapshot transaction", err)
	}
	return nil
}

// GetSchema introspects sqlite_master plus the PRAGMA table_info/
// foreign_key_list family, SQLite's catalog equivalent of
// information_schema.
func (a *SQLiteAdapter) GetSchema(ctx context.Context, schemaName string) (*refslice.SchemaGraph, error) {
	q := a.querier()
	graph := refslice.NewSchemaGraph()
	a.tablePKs = make(map[string][]string)

	tableRows, err := q.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
	if err != nil {
		return nil, refslice.NewSchemaError("list tables", err)
	}
	var tableNames []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			tableRows.Close()
			return nil, refslice.NewSchemaError("scan table name", err)
		}
		tableNames = append(tableNames, name)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, refslice.NewSchemaError("iterate tables", err)
	}

	for _, name := range tableNames {
		table := &refslice.Table{Name: name}

		colRows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(DialectSQLite, name)))
		if err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("list columns for %s", name), err)
		}
		var pkCols []struct {
			name string
			seq  int
		}
		for colRows.Next() {
			var cid int
			var colName, colType string
			var notNull, pk int
			var dflt any
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return nil, refslice.NewSchemaError(fmt.Sprintf("scan column for %s", name), err)
			}
			var defPtr *string
			if dflt != nil {
				s := fmt.Sprintf("%v", dflt)
				defPtr = &s
			}
			table.Columns = append(table.Columns, refslice.Column{
				Name:         colName,
				DataType:     colType,
				Nullable:     notNull == 0,
				IsPrimaryKey: pk > 0,
				Default:      defPtr,
			})
			if pk > 0 {
				pkCols = append(pkCols, struct {
					name string
					seq  int
				}{colName, pk})
			}
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("iterate columns for %s", name), err)
		}

		// PRAGMA table_info's pk column is the 1-based position within
		// the primary key for composite keys; sort by it so multi-column
		// PKs come back in declaration order, not scan order.
		for i := 0; i < len(pkCols); i++ {
			for j := i + 1; j < len(pkCols); j++ {
				if pkCols[j].seq < pkCols[i].seq {
					pkCols[i], pkCols[j] = pkCols[j], pkCols[i]
				}
			}
		}
		var pkNames []string
		for _, p := range pkCols {
			pkNames = append(pkNames, p.name)
		}
		table.PrimaryKey = pkNames
		a.tablePKs[name] = pkNames

		fks, err := a.fetchForeignKeysForTable(ctx, q, name)
		if err != nil {
			return nil, err
		}
		table.ForeignKeys = fks
		graph.Edges = append(graph.Edges, fks...)

		graph.Tables[name] = table
	}

	return graph, nil
}

// fetchForeignKeysForTable reads PRAGMA foreign_key_list(table), which
// SQLite reports per-table rather than in a single global catalog view.
// Multi-column FKs share an `id` column, grouped here the same way
// composite FKs are grouped in the Postgres/MySQL adapters.
func (a *SQLiteAdapter) fetchForeignKeysForTable(ctx context.Context, q sqliteQuerier, table string) ([]refslice.ForeignKey, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%s)`, quoteIdent(DialectSQLite, table)))
	if err != nil {
		return nil, refslice.NewSchemaError(fmt.Sprintf("list foreign keys for %s", table), err)
	}
	defer rows.Close()

	type fkAccum struct {
		targetTable            string
		sourceCols, targetCols []string
	}
	order := []int{}
	byID := make(map[int]*fkAccum)

	for rows.Next() {
		var id, seq int
		var targetTable, sourceCol, targetCol, onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &targetTable, &sourceCol, &targetCol, &onUpdate, &onDelete, &match); err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("scan foreign key for %s", table), err)
		}
		acc, ok := byID[id]
		if !ok {
			acc = &fkAccum{targetTable: targetTable}
			byID[id] = acc
			order = append(order, id)
		}
		acc.sourceCols = append(acc.sourceCols, sourceCol)
		acc.targetCols = append(acc.targetCols, targetCol)
	}
	if err := rows.Err(); err != nil {
		return nil, refslice.NewSchemaError(fmt.Sprintf("iterate foreign keys for %s", table), err)
	}

	// SQLite's PRAGMA has no nullability flag of its own, so every FK is
	// conservatively marked nullable here. The cycle breaker takes that
	// flag as-is; it does not consult the columns' NOT NULL constraints.
	fks := make([]refslice.ForeignKey, 0, len(order))
	for i, id := range order {
		acc := byID[id]
		fks = append(fks, refslice.ForeignKey{
			Name:          fmt.Sprintf("%s_fk_%d", table, i),
			SourceTable:   table,
			SourceColumns: acc.sourceCols,
			TargetTable:   acc.targetTable,
			TargetColumns: acc.targetCols,
			IsNullable:    true,
		})
	}
	return fks, nil
}

// FetchRows runs a pre-validated WHERE clause against table.
func (a *SQLiteAdapter) FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error) {
	if err := refslice.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	if whereClause != "" {
		if err := refslice.ValidateWhereClause(whereClause); err != nil {
			return nil, err
		}
	}
	query := fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(DialectSQLite, table))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	return a.runQuery(ctx, query, params)
}

// FetchByPK fetches rows by PK batch.
func (a *SQLiteAdapter) FetchByPK(ctx context.Context, table string, pkColumns []string, pkValues [][]any) ([]map[string]any, error) {
	if len(pkValues) == 0 {
		return nil, nil
	}
	batchSize := EffectiveBatchSize(sqliteParamLimit, len(pkColumns))
	batches := ChunkPKValues(pkValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_by_pk", int64(len(batches)))
	var out []map[string]any
	for _, batch := range batches {
		clause, args := BuildPKFilter(DialectSQLite, pkColumns, batch, 1)
		query := fmt.Sprintf(`SELECT * FROM %s WHERE %s`, quoteIdent(DialectSQLite, table), clause)
		rows, err := a.runQuery(ctx, query, args)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// FetchByPKChunked pages through pkValues in chunkSize batches; SQLite
// has no cursor concept distinct from normal row iteration, so this
// mirrors the MySQL adapter's eager per-batch fetch.
func (a *SQLiteAdapter) FetchByPKChunked(ctx context.Context, table string, pkColumns []string, pkValues [][]any, chunkSize int, fn func(refslice.RowChunk) error) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	batchSize := EffectiveBatchSize(sqliteParamLimit, len(pkColumns))
	if batchSize > chunkSize {
		batchSize = chunkSize
	}
	batches := ChunkPKValues(pkValues, batchSize)
	for _, batch := range batches {
		rows, err := a.FetchByPK(ctx, table, pkColumns, batch)
		if err != nil {
			return err
		}
		EmitRowsExtracted(ctx, table, int64(len(rows)))
		if err := fn(rows); err != nil {
			return err
		}
	}
	EmitBatchCount(ctx, "fetch_by_pk", int64(len(batches)))
	return nil
}

// FetchFKValues returns the distinct FK column values for rows in table
// identified by sourcePKValues.
func (a *SQLiteAdapter) FetchFKValues(ctx context.Context, table string, fk refslice.ForeignKey, sourcePKValues [][]any) ([][]any, error) {
	if len(sourcePKValues) == 0 {
		return nil, nil
	}
	pkColumns := a.tablePKs[table]
	if len(pkColumns) == 0 {
		return nil, refslice.NewSchemaError(fmt.Sprintf("no cached primary key for %s; call GetSchema first", table), nil)
	}
	batchSize := EffectiveBatchSize(sqliteParamLimit, len(pkColumns)+1)
	seen := NewSet[string]()
	var out [][]any

	batches := ChunkPKValues(sourcePKValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_fk_values", int64(len(batches)))
	for _, batch := range batches {
		clause, args := BuildPKFilter(DialectSQLite, pkColumns, batch, 1)
		selectCols := strings.Join(quoteIdentAll(DialectSQLite, fk.SourceColumns), ", ")
		query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s AND %s`,
			selectCols, quoteIdent(DialectSQLite, table), allNotNull(fk.SourceColumns, DialectSQLite), clause)
		rows, err := a.querier().QueryContext(ctx, query, args...)
		if err != nil {
			return nil, refslice.NewExtractionError(table, "fetch fk values", err)
		}
		vals, err := scanTuplesSQL(rows, len(fk.SourceColumns))
		if err != nil {
			return nil, err
		}
		batchKeys := make([]string, 0, len(vals))
		byKey := make(map[string][]any, len(vals))
		for _, v := range vals {
			key := refslice.EncodeIdentity(v)
			if _, ok := byKey[key]; !ok {
				byKey[key] = v
				batchKeys = append(batchKeys, key)
			}
		}
		for _, key := range seen.SubtractSlice(batchKeys) {
			seen.Add(key)
			out = append(out, byKey[key])
		}
	}
	return out, nil
}

// FetchReferencingPKs returns source-table PKs referencing any of
// targetPKValues through fk.
func (a *SQLiteAdapter) FetchReferencingPKs(ctx context.Context, fk refslice.ForeignKey, targetPKValues [][]any) ([][]any, error) {
	if len(targetPKValues) == 0 {
		return nil, nil
	}
	pkColumns := a.tablePKs[fk.SourceTable]
	if len(pkColumns) == 0 {
		zap.S().Warnw("source table has no primary key, skipping referencing lookup", "table", fk.SourceTable)
		return nil, nil
	}
	batchSize := EffectiveBatchSize(sqliteParamLimit, len(fk.SourceColumns))
	var out [][]any

	batches := ChunkPKValues(targetPKValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_referencing_pks", int64(len(batches)))
	for _, batch := range batches {
		clause, args := BuildORAndClause(DialectSQLite, fk.SourceColumns, batch, 1)
		selectCols := strings.Join(quoteIdentAll(DialectSQLite, pkColumns), ", ")
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, selectCols, quoteIdent(DialectSQLite, fk.SourceTable), clause)
		rows, err := a.querier().QueryContext(ctx, query, args...)
		if err != nil {
			return nil, refslice.NewExtractionError(fk.SourceTable, "fetch referencing pks", err)
		}
		vals, err := scanTuplesSQL(rows, len(pkColumns))
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

// FetchAllPKs returns every PK tuple in table.
func (a *SQLiteAdapter) FetchAllPKs(ctx context.Context, table string, pkColumns []string) ([][]any, error) {
	selectCols := strings.Join(quoteIdentAll(DialectSQLite, pkColumns), ", ")
	query := fmt.Sprintf(`SELECT %s FROM %s`, selectCols, quoteIdent(DialectSQLite, table))
	rows, err := a.querier().QueryContext(ctx, query)
	if err != nil {
		return nil, refslice.NewExtractionError(table, "fetch all pks", err)
	}
	return scanTuplesSQL(rows, len(pkColumns))
}

func (a *SQLiteAdapter) runQuery(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	rows, err := a.querier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, refslice.NewExtractionError("", "query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, refslice.NewExtractionError("", "columns", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, refslice.NewExtractionError("", "scan row", err)
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
