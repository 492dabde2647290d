package refslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fkEdge(name, source, target string, nullable bool) ForeignKey {
	return ForeignKey{
		Name:          name,
		SourceTable:   source,
		SourceColumns: []string{source + "_id"},
		TargetTable:   target,
		TargetColumns: []string{"id"},
		IsNullable:    nullable,
	}
}

func TestFindCyclesDFSNoCycle(t *testing.T) {
	deps := map[string][]string{
		"orders":       {"customers"},
		"order_items":  {"orders", "products"},
		"customers":    nil,
		"products":     nil,
	}
	cycles := findCyclesDFS(deps)
	assert.Empty(t, cycles)
}

func TestFindCyclesDFSDetectsSelfLoop(t *testing.T) {
	deps := map[string][]string{
		"categories": {"categories"},
	}
	cycles := findCyclesDFS(deps)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"categories"}, cycles[0])
}

func TestFindCyclesDFSDetectsMultiTableCycle(t *testing.T) {
	deps := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	cycles := findCyclesDFS(deps)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycles[0])
}

func TestTopologicalSortAcyclic(t *testing.T) {
	schema := NewSchemaGraph()
	schema.Edges = []ForeignKey{
		fkEdge("fk_orders_customers", "orders", "customers", false),
		fkEdge("fk_items_orders", "order_items", "orders", false),
	}
	tables := map[string]bool{"orders": true, "customers": true, "order_items": true}

	order, broken, cycleInfos, err := topologicalSort(schema, tables)
	require.NoError(t, err)
	assert.Empty(t, broken)
	assert.Empty(t, cycleInfos)

	pos := make(map[string]int, len(order))
	for i, t := range order {
		pos[t] = i
	}
	assert.Less(t, pos["customers"], pos["orders"])
	assert.Less(t, pos["orders"], pos["order_items"])
}

func TestTopologicalSortBreaksSelfReferentialCycle(t *testing.T) {
	schema := NewSchemaGraph()
	schema.Edges = []ForeignKey{
		fkEdge("fk_categories_parent", "categories", "categories", true),
	}
	tables := map[string]bool{"categories": true}

	order, broken, cycleInfos, err := topologicalSort(schema, tables)
	require.NoError(t, err)
	assert.Equal(t, []string{"categories"}, order)
	require.Len(t, broken, 1)
	assert.Equal(t, "fk_categories_parent", broken[0].Name)
	require.Len(t, cycleInfos, 1)
	assert.Equal(t, []string{"categories"}, cycleInfos[0].Tables)
}

func TestTopologicalSortFailsWithoutNullableFK(t *testing.T) {
	schema := NewSchemaGraph()
	schema.Edges = []ForeignKey{
		fkEdge("fk_a_b", "a", "b", false),
		fkEdge("fk_b_a", "b", "a", false),
	}
	tables := map[string]bool{"a": true, "b": true}

	_, _, _, err := topologicalSort(schema, tables)
	require.Error(t, err)
	rerr, ok := err.(*RefsliceError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeCircularReference, rerr.Type)
}

func TestSelectNullableFKToBreakPrefersSelfReferentialOnSelfLoop(t *testing.T) {
	cycleFKs := []ForeignKey{
		fkEdge("fk_self", "nodes", "nodes", true),
	}
	chosen := selectNullableFKToBreak(cycleFKs, []string{"nodes"})
	require.NotNil(t, chosen)
	assert.Equal(t, "fk_self", chosen.Name)
}

func TestSelectNullableFKToBreakReturnsNilWithoutNullableCandidate(t *testing.T) {
	cycleFKs := []ForeignKey{
		fkEdge("fk_a_b", "a", "b", false),
	}
	chosen := selectNullableFKToBreak(cycleFKs, []string{"a", "b"})
	assert.Nil(t, chosen)
}

func TestBuildDeferredUpdatesSkipsNilFKValues(t *testing.T) {
	schema := NewSchemaGraph()
	schema.Tables["categories"] = &Table{Name: "categories", PrimaryKey: []string{"id"}}
	fk := fkEdge("fk_categories_parent", "categories", "categories", true)

	tablesData := map[string][]map[string]any{
		"categories": {
			{"id": 1, "categories_id": nil},
			{"id": 2, "categories_id": 1},
		},
	}

	updates := buildDeferredUpdates([]ForeignKey{fk}, tablesData, schema)
	require.Len(t, updates, 1)
	assert.Equal(t, "categories", updates[0].Table)
	assert.Equal(t, []any{2}, updates[0].PKValues)
	assert.Equal(t, 1, updates[0].FKValue)
}
