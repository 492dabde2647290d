package internal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/lychee-technology/refslice"
)

// mysqlParamLimit bounds bound parameters per statement; MySQL has no
// hard protocol limit as low as Postgres's, but drivers and query
// planners degrade well before the theoretical max, so a conservative
// limit of 10000 is applied here.
const mysqlParamLimit = 10000

// MySQLAdapter implements refslice.DatabaseAdapter against MySQL/MariaDB
// using database/sql with the go-sql-driver/mysql driver. MySQL has no
// server-side cursor support through database/sql, so FetchByPKChunked
// issues one batched FetchByPK query per chunk of PK values.
type MySQLAdapter struct {
	db       *sql.DB
	schema   string
	tx       *sql.Tx
	tablePKs map[string][]string
}

// NewMySQLAdapter constructs an unconnected adapter; Connect must be
// called before use. schemaName is the database name to introspect.
func NewMySQLAdapter(schemaName string) *MySQLAdapter {
	return &MySQLAdapter{schema: schemaName}
}

// Connect opens a connection pool against a mysql:// DSN (converted to
// the driver's own DSN form) and verifies connectivity with a ping.
func (a *MySQLAdapter) Connect(ctx context.Context, url string) error {
	dsn := strings.TrimPrefix(url, "mysql://")
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return refslice.NewConnectionError("open mysql connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return refslice.NewConnectionError("ping mysql", err)
	}
	a.db = db
	zap.S().Infow("connected to mysql", "schema", a.schema)
	return nil
}

// Close releases the connection pool.
func (a *MySQLAdapter) Close(ctx context.Context) error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

type mysqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (a *MySQLAdapter) querier() mysqlQuerier {
	if a.tx != nil {
		return a.tx
	}
	return a.db
}

// BeginSnapshot opens a REPEATABLE READ, read-only transaction, MySQL's
// closest equivalent of Postgres's snapshot isolation.
func (a *MySQLAdapter) BeginSnapshot(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return refslice.NewConnectionError("begin snapshot transaction", err)
	}
	a.tx = tx
	return nil
}

// EndSnapshot rolls back the read-only snapshot transaction.
func (a *MySQLAdapter) EndSnapshot(ctx context.Context) error {
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

// GetSchema introspects information_schema (MySQL exposes the same
// catalog views as Postgres, with KEY_COLUMN_USAGE already carrying the
// referenced table/column, so no separate constraint_column_usage join
// is needed).
func (a *MySQLAdapter) GetSchema(ctx context.Context, schemaName string) (*refslice.SchemaGraph, error) {
	if schemaName == "" {
		schemaName = a.schema
	}
	q := a.querier()

	graph := refslice.NewSchemaGraph()
	a.tablePKs = make(map[string][]string)

	tableRows, err := q.QueryContext(ctx, `
SELECT table_name FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`, schemaName)
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
		table := &refslice.Table{Name: name, Schema: schemaName}

		colRows, err := q.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable, column_default, column_key
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`, schemaName, name)
		if err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("list columns for %s", name), err)
		}
		var pkCols []string
		for colRows.Next() {
			var colName, dataType, isNullable, columnKey string
			var def *string
			if err := colRows.Scan(&colName, &dataType, &isNullable, &def, &columnKey); err != nil {
				colRows.Close()
				return nil, refslice.NewSchemaError(fmt.Sprintf("scan column for %s", name), err)
			}
			isPK := columnKey == "PRI"
			if isPK {
				pkCols = append(pkCols, colName)
			}
			table.Columns = append(table.Columns, refslice.Column{
				Name:         colName,
				DataType:     dataType,
				Nullable:     isNullable == "YES",
				IsPrimaryKey: isPK,
				Default:      def,
			})
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("iterate columns for %s", name), err)
		}

		table.PrimaryKey = pkCols
		a.tablePKs[name] = pkCols
		graph.Tables[name] = table
	}

	fks, err := a.fetchForeignKeys(ctx, q, schemaName)
	if err != nil {
		return nil, err
	}
	graph.Edges = fks
	for _, fk := range fks {
		if t := graph.Tables[fk.SourceTable]; t != nil {
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
	}

	return graph, nil
}

func (a *MySQLAdapter) fetchForeignKeys(ctx context.Context, q mysqlQuerier, schemaName string) ([]refslice.ForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
SELECT
  kcu.constraint_name,
  kcu.table_name AS source_table,
  kcu.column_name AS source_column,
  kcu.ordinal_position,
  kcu.referenced_table_name AS target_table,
  kcu.referenced_column_name AS target_column,
  col.is_nullable
FROM information_schema.key_column_usage kcu
JOIN information_schema.columns col
  ON col.table_schema = kcu.table_schema AND col.table_name = kcu.table_name AND col.column_name = kcu.column_name
WHERE kcu.table_schema = ? AND kcu.referenced_table_name IS NOT NULL
ORDER BY kcu.constraint_name, kcu.ordinal_position`, schemaName)
	if err != nil {
		return nil, refslice.NewSchemaError("fetch foreign keys", err)
	}
	defer rows.Close()

	type fkAccum struct {
		sourceTable, targetTable string
		sourceCols, targetCols   []string
		nullable                 bool
	}
	order := []string{}
	byName := make(map[string]*fkAccum)

	for rows.Next() {
		var name, sourceTable, sourceCol, targetTable, targetCol, isNullable string
		var ordinal int
		if err := rows.Scan(&name, &sourceTable, &sourceCol, &ordinal, &targetTable, &targetCol, &isNullable); err != nil {
			return nil, refslice.NewSchemaError("scan foreign key row", err)
		}
		acc, ok := byName[name]
		if !ok {
			acc = &fkAccum{sourceTable: sourceTable, targetTable: targetTable, nullable: true}
			byName[name] = acc
			order = append(order, name)
		}
		acc.sourceCols = append(acc.sourceCols, sourceCol)
		acc.targetCols = append(acc.targetCols, targetCol)
		if isNullable != "YES" {
			acc.nullable = false
		}
	}
	if err := rows.Err(); err != nil {
		return nil, refslice.NewSchemaError("iterate foreign keys", err)
	}

	fks := make([]refslice.ForeignKey, 0, len(order))
	for _, name := range order {
		acc := byName[name]
		fks = append(fks, refslice.ForeignKey{
			Name:          name,
			SourceTable:   acc.sourceTable,
			SourceColumns: acc.sourceCols,
			TargetTable:   acc.targetTable,
			TargetColumns: acc.targetCols,
			IsNullable:    acc.nullable,
		})
	}
	return fks, nil
}

// FetchRows runs a pre-validated WHERE clause against table.
func (a *MySQLAdapter) FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error) {
	if err := refslice.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	if whereClause != "" {
		if err := refslice.ValidateWhereClause(whereClause); err != nil {
			return nil, err
		}
	}
	query := fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(DialectMySQL, table))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	return a.runQuery(ctx, query, params)
}

// FetchByPK fetches rows by PK batch using ? placeholders.
func (a *MySQLAdapter) FetchByPK(ctx context.Context, table string, pkColumns []string, pkValues [][]any) ([]map[string]any, error) {
	if len(pkValues) == 0 {
		return nil, nil
	}
	batchSize := EffectiveBatchSize(mysqlParamLimit, len(pkColumns))
	batches := ChunkPKValues(pkValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_by_pk", int64(len(batches)))
	var out []map[string]any
	for _, batch := range batches {
		clause, args := BuildPKFilter(DialectMySQL, pkColumns, batch, 1)
		query := fmt.Sprintf(`SELECT * FROM %s WHERE %s`, quoteIdent(DialectMySQL, table), clause)
		rows, err := a.runQuery(ctx, query, args)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// FetchByPKChunked splits pkValues into batches of at most chunkSize and
// issues one FetchByPK query per batch, as the Postgres and SQLite
// adapters do; no cursor or LIMIT/OFFSET paging is used, and memory
// stays O(chunkSize) because each batch is bounded.
func (a *MySQLAdapter) FetchByPKChunked(ctx context.Context, table string, pkColumns []string, pkValues [][]any, chunkSize int, fn func(refslice.RowChunk) error) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	batchSize := EffectiveBatchSize(mysqlParamLimit, len(pkColumns))
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
// identified by sourcePKValues (table's own PK, cached from GetSchema).
func (a *MySQLAdapter) FetchFKValues(ctx context.Context, table string, fk refslice.ForeignKey, sourcePKValues [][]any) ([][]any, error) {
	if len(sourcePKValues) == 0 {
		return nil, nil
	}
	pkColumns := a.tablePKs[table]
	if len(pkColumns) == 0 {
		return nil, refslice.NewSchemaError(fmt.Sprintf("no cached primary key for %s; call GetSchema first", table), nil)
	}
	batchSize := EffectiveBatchSize(mysqlParamLimit, len(pkColumns)+1)
	seen := NewSet[string]()
	var out [][]any

	batches := ChunkPKValues(sourcePKValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_fk_values", int64(len(batches)))
	for _, batch := range batches {
		clause, args := BuildPKFilter(DialectMySQL, pkColumns, batch, 1)
		selectCols := strings.Join(quoteIdentAll(DialectMySQL, fk.SourceColumns), ", ")
		query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s AND %s`,
			selectCols, quoteIdent(DialectMySQL, table), allNotNull(fk.SourceColumns, DialectMySQL), clause)
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
func (a *MySQLAdapter) FetchReferencingPKs(ctx context.Context, fk refslice.ForeignKey, targetPKValues [][]any) ([][]any, error) {
	if len(targetPKValues) == 0 {
		return nil, nil
	}
	pkColumns := a.tablePKs[fk.SourceTable]
	if len(pkColumns) == 0 {
		zap.S().Warnw("source table has no primary key, skipping referencing lookup", "table", fk.SourceTable)
		return nil, nil
	}
	batchSize := EffectiveBatchSize(mysqlParamLimit, len(fk.SourceColumns))
	var out [][]any

	batches := ChunkPKValues(targetPKValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_referencing_pks", int64(len(batches)))
	for _, batch := range batches {
		clause, args := BuildORAndClause(DialectMySQL, fk.SourceColumns, batch, 1)
		selectCols := strings.Join(quoteIdentAll(DialectMySQL, pkColumns), ", ")
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, selectCols, quoteIdent(DialectMySQL, fk.SourceTable), clause)
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
func (a *MySQLAdapter) FetchAllPKs(ctx context.Context, table string, pkColumns []string) ([][]any, error) {
	selectCols := strings.Join(quoteIdentAll(DialectMySQL, pkColumns), ", ")
	query := fmt.Sprintf(`SELECT %s FROM %s`, selectCols, quoteIdent(DialectMySQL, table))
	rows, err := a.querier().QueryContext(ctx, query)
	if err != nil {
		return nil, refslice.NewExtractionError(table, "fetch all pks", err)
	}
	return scanTuplesSQL(rows, len(pkColumns))
}

// runQuery executes query and materializes every row as a column-name
// keyed map using database/sql's generic sql.Rows.Columns/Scan, which
// unlike pgx has no typed Values() helper.
func (a *MySQLAdapter) runQuery(ctx context.Context, query string, args []any) ([]map[string]any, error) {
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
			row[name] = normalizeMySQLValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeMySQLValue converts the driver's []byte-for-everything
// convention (go-sql-driver/mysql returns most non-numeric types as
// []byte unless parseTime/columnsWithAlias options are set) into a
// string, leaving the emitters' own formatting to interpret it further.
func normalizeMySQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func scanTuplesSQL(rows *sql.Rows, arity int) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		values := make([]any, arity)
		ptrs := make([]any, arity)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, refslice.NewExtractionError("", "scan tuple", err)
		}
		for i, v := range values {
			values[i] = normalizeMySQLValue(v)
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
