package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/refslice"
)

// postgresParamLimit bounds bound parameters per statement, kept just
// below the 32767 ceiling set by the wire protocol's 16-bit parameter
// count.
const postgresParamLimit = 32000

// PostgresAdapter implements refslice.DatabaseAdapter against a
// Postgres or Postgres-compatible (RDS, Aurora, DSQL) database using
// pgxpool, mirroring the teacher's PostgresAttributeRepository's
// pool-holding, pgx.Batch-using style but built against the
// information_schema catalog instead of an EAV table.
type PostgresAdapter struct {
	pool    *pgxpool.Pool
	schema  string
	iamAuth bool
	tx      pgx.Tx
	// tablePKs caches each table's primary key columns, populated by
	// GetSchema, so Fetch* methods that receive only a table name (not
	// an explicit PK column list) know how to filter it.
	tablePKs map[string][]string
}

// NewPostgresAdapter constructs an unconnected adapter; Connect must be
// called before use. schemaName defaults to "public". When iamAuth is
// true, Connect generates an IAM auth token in place of whatever static
// password the DSN carries (AWS RDS/Aurora/DSQL Postgres only).
func NewPostgresAdapter(schemaName string, iamAuth bool) *PostgresAdapter {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresAdapter{schema: schemaName, iamAuth: iamAuth}
}

// Connect parses url (a postgres:// DSN) and opens a pool, following the
// teacher's createDatabasePool shape: parse, size the pool, ping. When
// iamAuth was requested, the static password is replaced with a
// dsql/auth-generated connect token before the pool is built, the same
// fallback-on-failure pattern cdc.RunOnce uses for its own PG connection.
func (a *PostgresAdapter) Connect(ctx context.Context, url string) error {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return refslice.NewConnectionError("parse connection string", err)
	}

	if a.iamAuth {
		if err := a.applyIAMToken(ctx, poolConfig); err != nil {
			zap.S().Warnw("failed to generate IAM auth token; falling back to DSN password", "err", err)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return refslice.NewConnectionError("create connection pool", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return refslice.NewConnectionError("ping database", err)
	}

	a.pool = pool
	zap.S().Infow("connected to postgres", "schema", a.schema)
	return nil
}

// applyIAMToken generates an IAM-signed connect token via dsql/auth and
// substitutes it for poolConfig's static password. Region is taken from
// the default AWS config chain (environment, shared config, or instance
// profile).
func (a *PostgresAdapter) applyIAMToken(ctx context.Context, poolConfig *pgxpool.Config) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	endpoint := fmt.Sprintf("%s:%d", poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port)
	token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
	if err != nil {
		return fmt.Errorf("generate dsql auth token: %w", err)
	}
	poolConfig.ConnConfig.Password = token
	return nil
}

// Close releases the pool.
func (a *PostgresAdapter) Close(ctx context.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// querier abstracts over the pool and an in-flight snapshot transaction
// so every Fetch* method runs against whichever is active, the same
// pattern the teacher's repository uses for *pgxpool.Pool directly
// since it never wraps queries in an explicit transaction.
func (a *PostgresAdapter) querier() interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if a.tx != nil {
		return a.tx
	}
	return a.pool
}

// BeginSnapshot opens a REPEATABLE READ, read-only transaction so the
// whole extraction sees one consistent view of the database.
func (a *PostgresAdapter) BeginSnapshot(ctx context.Context) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return refslice.NewConnectionError("begin snapshot transaction", err)
	}
	a.tx = tx
	return nil
}

// EndSnapshot always rolls back: a read-only snapshot transaction has
// nothing to commit, and rollback is the cheapest way to release it.
func (a *PostgresAdapter) EndSnapshot(ctx context.Context) error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Rollback(ctx)
	a.tx = nil
	if err != nil && err != pgx.ErrTxClosed {
		return refslice.NewConnectionError("release snapshot transaction", err)
	}
	return nil
}

// GetSchema introspects information_schema for tables, columns, primary
// keys, and foreign keys, building a fully populated SchemaGraph. Query
// shape follows the teacher's factory.collectTablesFromPool (same
// information_schema.tables filter), generalized to also pull columns
// and constraints.
func (a *PostgresAdapter) GetSchema(ctx context.Context, schemaName string) (*refslice.SchemaGraph, error) {
	if schemaName == "" {
		schemaName = a.schema
	}
	q := a.querier()

	graph := refslice.NewSchemaGraph()
	a.tablePKs = make(map[string][]string)

	tableRows, err := q.Query(ctx, `
SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
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

		colRows, err := q.Query(ctx, `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, schemaName, name)
		if err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("list columns for %s", name), err)
		}
		for colRows.Next() {
			var colName, dataType, isNullable string
			var def *string
			if err := colRows.Scan(&colName, &dataType, &isNullable, &def); err != nil {
				colRows.Close()
				return nil, refslice.NewSchemaError(fmt.Sprintf("scan column for %s", name), err)
			}
			table.Columns = append(table.Columns, refslice.Column{
				Name:     colName,
				DataType: dataType,
				Nullable: isNullable == "YES",
				Default:  def,
			})
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("iterate columns for %s", name), err)
		}

		pkCols, err := a.fetchPrimaryKey(ctx, q, schemaName, name)
		if err != nil {
			return nil, err
		}
		table.PrimaryKey = pkCols
		a.tablePKs[name] = pkCols
		pkSet := make(map[string]bool, len(pkCols))
		for _, c := range pkCols {
			pkSet[c] = true
		}
		for i := range table.Columns {
			if pkSet[table.Columns[i].Name] {
				table.Columns[i].IsPrimaryKey = true
			}
		}

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

func (a *PostgresAdapter) fetchPrimaryKey(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, schemaName, table string) ([]string, error) {
	rows, err := q.Query(ctx, `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`, schemaName, table)
	if err != nil {
		return nil, refslice.NewSchemaError(fmt.Sprintf("fetch primary key for %s", table), err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, refslice.NewSchemaError(fmt.Sprintf("scan primary key column for %s", table), err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// fetchForeignKeys pulls every FK constraint, grouping multi-column FKs
// by constraint name and ordinal_position so composite FKs are paired
// positionally rather than built as a Cartesian product.
func (a *PostgresAdapter) fetchForeignKeys(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, schemaName string) ([]refslice.ForeignKey, error) {
	rows, err := q.Query(ctx, `
SELECT
  tc.constraint_name,
  tc.table_name AS source_table,
  kcu.column_name AS source_column,
  kcu.ordinal_position,
  ccu.table_name AS target_table,
  ccu.column_name AS target_column,
  col.is_nullable
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
JOIN information_schema.columns col
  ON col.table_schema = tc.table_schema AND col.table_name = tc.table_name AND col.column_name = kcu.column_name
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
ORDER BY tc.constraint_name, kcu.ordinal_position`, schemaName)
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

// FetchRows runs a pre-validated WHERE clause against table. whereClause
// is re-validated here (defense in depth) even though the caller (seed
// parsing) already validated it once.
func (a *PostgresAdapter) FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error) {
	if err := refslice.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	if whereClause != "" {
		if err := refslice.ValidateWhereClause(whereClause); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(DialectPostgres, table))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	return a.runQuery(ctx, query, params)
}

// FetchByPK fetches rows by PK, batching pkValues so each statement
// stays under postgresParamLimit bound parameters.
func (a *PostgresAdapter) FetchByPK(ctx context.Context, table string, pkColumns []string, pkValues [][]any) ([]map[string]any, error) {
	if len(pkValues) == 0 {
		return nil, nil
	}
	batchSize := EffectiveBatchSize(postgresParamLimit, len(pkColumns))
	batches := ChunkPKValues(pkValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_by_pk", int64(len(batches)))
	var out []map[string]any
	for _, batch := range batches {
		clause, args := BuildPKFilter(DialectPostgres, pkColumns, batch, 1)
		query := fmt.Sprintf(`SELECT * FROM %s WHERE %s`, quoteIdent(DialectPostgres, table), clause)
		rows, err := a.runQuery(ctx, query, args)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// FetchByPKChunked batches pkValues so each statement stays under
// postgresParamLimit bound parameters, invoking fn once per chunk so
// callers hold at most chunkSize rows in memory at a time.
func (a *PostgresAdapter) FetchByPKChunked(ctx context.Context, table string, pkColumns []string, pkValues [][]any, chunkSize int, fn func(refslice.RowChunk) error) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	batchSize := EffectiveBatchSize(postgresParamLimit, len(pkColumns))
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

// FetchFKValues returns the distinct non-null target-PK tuples an FK's
// source rows reference, used to compute the next UP-traversal frontier.
// table is the source table whose rows are identified by sourcePKValues;
// it selects the FK columns directly rather than fetching whole rows.
func (a *PostgresAdapter) FetchFKValues(ctx context.Context, table string, fk refslice.ForeignKey, sourcePKValues [][]any) ([][]any, error) {
	if len(sourcePKValues) == 0 {
		return nil, nil
	}
	pkColumns := a.tablePKs[table]
	if len(pkColumns) == 0 {
		return nil, refslice.NewSchemaError(fmt.Sprintf("no cached primary key for %s; call GetSchema first", table), nil)
	}
	batchSize := EffectiveBatchSize(postgresParamLimit, len(pkColumns)+1)
	seen := NewSet[string]()
	var out [][]any

	batches := ChunkPKValues(sourcePKValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_fk_values", int64(len(batches)))
	for _, batch := range batches {
		clause, args := BuildPKFilter(DialectPostgres, pkColumns, batch, 1)
		selectCols := make([]string, len(fk.SourceColumns))
		for i, c := range fk.SourceColumns {
			selectCols[i] = quoteIdent(DialectPostgres, c)
		}
		query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s AND %s`,
			strings.Join(selectCols, ", "),
			quoteIdent(DialectPostgres, table),
			allNotNull(fk.SourceColumns, DialectPostgres),
			clause,
		)
		rows, err := a.querier().Query(ctx, query, args...)
		if err != nil {
			return nil, refslice.NewExtractionError(fk.SourceTable, "fetch fk values", err)
		}
		vals, err := scanTuples(rows, len(fk.SourceColumns))
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

// FetchReferencingPKs returns the source-table PKs whose FK columns
// match any of targetPKValues, the DOWN-traversal primitive.
func (a *PostgresAdapter) FetchReferencingPKs(ctx context.Context, fk refslice.ForeignKey, targetPKValues [][]any) ([][]any, error) {
	if len(targetPKValues) == 0 {
		return nil, nil
	}
	pkColumns := a.tablePKs[fk.SourceTable]
	if len(pkColumns) == 0 {
		zap.S().Warnw("source table has no primary key, skipping referencing lookup", "table", fk.SourceTable)
		return nil, nil
	}
	batchSize := EffectiveBatchSize(postgresParamLimit, len(fk.SourceColumns))
	var out [][]any

	batches := ChunkPKValues(targetPKValues, batchSize)
	defer EmitBatchCount(ctx, "fetch_referencing_pks", int64(len(batches)))
	for _, batch := range batches {
		clause, args := BuildORAndClause(DialectPostgres, fk.SourceColumns, batch, 1)
		selectCols := strings.Join(quoteIdentAll(DialectPostgres, pkColumns), ", ")
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`,
			selectCols, quoteIdent(DialectPostgres, fk.SourceTable), clause)
		rows, err := a.querier().Query(ctx, query, args...)
		if err != nil {
			return nil, refslice.NewExtractionError(fk.SourceTable, "fetch referencing pks", err)
		}
		vals, err := scanTuples(rows, len(pkColumns))
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

// FetchAllPKs returns every PK tuple in table, used for passthrough
// (reference/lookup) tables pulled in wholesale regardless of reachability.
func (a *PostgresAdapter) FetchAllPKs(ctx context.Context, table string, pkColumns []string) ([][]any, error) {
	selectCols := strings.Join(quoteIdentAll(DialectPostgres, pkColumns), ", ")
	query := fmt.Sprintf(`SELECT %s FROM %s`, selectCols, quoteIdent(DialectPostgres, table))
	rows, err := a.querier().Query(ctx, query)
	if err != nil {
		return nil, refslice.NewExtractionError(table, "fetch all pks", err)
	}
	return scanTuples(rows, len(pkColumns))
}

// runQuery executes query and materializes every row as a column-name
// keyed map, using pgx's RowToMap-equivalent manual scan since the
// column set is dynamic per table.
func (a *PostgresAdapter) runQuery(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	rows, err := a.querier().Query(ctx, query, args...)
	if err != nil {
		return nil, refslice.NewExtractionError("", "query", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	names := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		names[i] = string(fd.Name)
	}

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, refslice.NewExtractionError("", "scan row", err)
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// scanTuples reads arity-column rows into [][]any tuples.
func scanTuples(rows pgx.Rows, arity int) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, refslice.NewExtractionError("", "scan tuple", err)
		}
		if len(values) != arity {
			return nil, refslice.NewSchemaError(fmt.Sprintf("expected %d columns, got %d", arity, len(values)), nil)
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func quoteIdentAll(dialect string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(dialect, n)
	}
	return out
}

func allNotNull(columns []string, dialect string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = quoteIdent(dialect, c) + " IS NOT NULL"
	}
	return strings.Join(parts, " AND ")
}
