package refslice

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal in-memory DatabaseAdapter used to exercise
// Orchestrator.Run end-to-end without a real database, grounded on the
// same [][]any PK-tuple contract the three concrete adapters implement.
type fakeAdapter struct {
	schema *SchemaGraph
	rows   map[string][]map[string]any
}

func (f *fakeAdapter) Connect(ctx context.Context, url string) error { return nil }
func (f *fakeAdapter) Close(ctx context.Context) error               { return nil }
func (f *fakeAdapter) BeginSnapshot(ctx context.Context) error       { return nil }
func (f *fakeAdapter) EndSnapshot(ctx context.Context) error         { return nil }

func (f *fakeAdapter) GetSchema(ctx context.Context, schemaName string) (*SchemaGraph, error) {
	return f.schema, nil
}

func (f *fakeAdapter) FetchRows(ctx context.Context, table, whereClause string, params []any) ([]map[string]any, error) {
	col := strings.TrimSuffix(strings.TrimSpace(whereClause), "= ?")
	col = strings.TrimSpace(col)
	var out []map[string]any
	for _, row := range f.rows[table] {
		if len(params) > 0 && fmt.Sprintf("%v", row[col]) == fmt.Sprintf("%v", params[0]) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeAdapter) FetchByPK(ctx context.Context, table string, pkColumns []string, pkValues [][]any) ([]map[string]any, error) {
	wanted := identitySet(pkValues)
	var out []map[string]any
	for _, row := range f.rows[table] {
		if wanted[EncodeIdentity(extractValues(row, pkColumns))] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeAdapter) FetchByPKChunked(ctx context.Context, table string, pkColumns []string, pkValues [][]any, chunkSize int, fn func(RowChunk) error) error {
	rows, err := f.FetchByPK(ctx, table, pkColumns, pkValues)
	if err != nil {
		return err
	}
	return fn(rows)
}

func (f *fakeAdapter) FetchFKValues(ctx context.Context, table string, fk ForeignKey, sourcePKValues [][]any) ([][]any, error) {
	tableInfo := f.schema.GetTable(table)
	wanted := identitySet(sourcePKValues)
	seen := make(map[RowIdentity]bool)
	var out [][]any
	for _, row := range f.rows[table] {
		if !wanted[EncodeIdentity(extractValues(row, tableInfo.PrimaryKey))] {
			continue
		}
		fkVals := extractValues(row, fk.SourceColumns)
		if anyNil(fkVals) {
			continue
		}
		key := EncodeIdentity(fkVals)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, fkVals)
	}
	return out, nil
}

func (f *fakeAdapter) FetchReferencingPKs(ctx context.Context, fk ForeignKey, targetPKValues [][]any) ([][]any, error) {
	wanted := identitySet(targetPKValues)
	tableInfo := f.schema.GetTable(fk.SourceTable)
	var out [][]any
	for _, row := range f.rows[fk.SourceTable] {
		fkVals := extractValues(row, fk.SourceColumns)
		if anyNil(fkVals) {
			continue
		}
		if wanted[EncodeIdentity(fkVals)] {
			out = append(out, extractValues(row, tableInfo.PrimaryKey))
		}
	}
	return out, nil
}

func (f *fakeAdapter) FetchAllPKs(ctx context.Context, table string, pkColumns []string) ([][]any, error) {
	var out [][]any
	for _, row := range f.rows[table] {
		out = append(out, extractValues(row, pkColumns))
	}
	return out, nil
}

func buildFakeOrdersAdapter() *fakeAdapter {
	schema := NewSchemaGraph()
	schema.Tables["customers"] = &Table{Name: "customers", PrimaryKey: []string{"id"}}
	schema.Tables["orders"] = &Table{Name: "orders", PrimaryKey: []string{"id"}}
	schema.Edges = []ForeignKey{
		{
			Name:          "fk_orders_customer",
			SourceTable:   "orders",
			SourceColumns: []string{"customer_id"},
			TargetTable:   "customers",
			TargetColumns: []string{"id"},
			IsNullable:    false,
		},
	}
	return &fakeAdapter{
		schema: schema,
		rows: map[string][]map[string]any{
			"customers": {
				{"id": 100, "email": "alice@example.com"},
			},
			"orders": {
				{"id": 1, "customer_id": 100},
			},
		},
	}
}

func TestOrchestratorRunDryRun(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	orchestrator := NewOrchestrator(adapter, "test-seed", nil)

	cfg := ExtractConfig{
		Seeds:     []string{"orders.id=1"},
		Depth:     3,
		Direction: DirectionUp,
		DryRun:    true,
	}

	result, err := orchestrator.Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.RowCounts["orders"])
	assert.Equal(t, 1, result.Stats.RowCounts["customers"])
	assert.Nil(t, result.Tables)
}

func TestOrchestratorRunInMemoryTraversesParent(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	orchestrator := NewOrchestrator(adapter, "test-seed", nil)

	cfg := ExtractConfig{
		Seeds:     []string{"orders.id=1"},
		Depth:     3,
		Direction: DirectionUp,
		Validate:  true,
	}

	result, err := orchestrator.Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Contains(t, result.Tables, "orders")
	require.Contains(t, result.Tables, "customers")
	assert.Equal(t, 1, len(result.Tables["orders"]))
	assert.Equal(t, 1, len(result.Tables["customers"]))
	require.NotNil(t, result.ValidationResult)
	assert.True(t, result.ValidationResult.IsValid)
	assert.Equal(t, []string{"customers", "orders"}, result.InsertOrder)
}

func TestOrchestratorRunAnonymizesSensitiveColumns(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	orchestrator := NewOrchestrator(adapter, "test-seed", nil)

	cfg := ExtractConfig{
		Seeds:     []string{"orders.id=1"},
		Depth:     3,
		Direction: DirectionUp,
		Anonymize: true,
	}

	result, err := orchestrator.Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	customer := result.Tables["customers"][0]
	assert.NotEqual(t, "alice@example.com", customer["email"])
}

func TestOrchestratorRunRejectsUnknownSeedTable(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	orchestrator := NewOrchestrator(adapter, "test-seed", nil)

	cfg := ExtractConfig{Seeds: []string{"nonexistent.id=1"}, Depth: 3, Direction: DirectionUp}
	_, err := orchestrator.Run(context.Background(), cfg, nil)
	require.Error(t, err)
	rerr, ok := err.(*RefsliceError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeTableNotFound, rerr.Type)
}

func TestOrchestratorRunReturnsNoRowsFoundForEmptySeed(t *testing.T) {
	adapter := buildFakeOrdersAdapter()
	orchestrator := NewOrchestrator(adapter, "test-seed", nil)

	cfg := ExtractConfig{Seeds: []string{"orders.id=999"}, Depth: 3, Direction: DirectionUp}
	_, err := orchestrator.Run(context.Background(), cfg, nil)
	require.Error(t, err)
	rerr, ok := err.(*RefsliceError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeNoRowsFound, rerr.Type)
}
