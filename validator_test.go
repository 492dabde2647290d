package refslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildOrdersCustomersSchema() *SchemaGraph {
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
	return schema
}

func TestExtractionValidatorPassesWithCompleteReferences(t *testing.T) {
	schema := buildOrdersCustomersSchema()
	validator := NewExtractionValidator(schema)

	tables := map[string][]map[string]any{
		"customers": {{"id": 1}},
		"orders":    {{"id": 10, "customer_id": 1}},
	}

	result := validator.Validate(tables, nil)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.OrphanedRecords)
	assert.Equal(t, 2, result.TotalRecordsChecked)
	assert.Equal(t, 1, result.TotalFKChecks)
}

func TestExtractionValidatorDetectsOrphan(t *testing.T) {
	schema := buildOrdersCustomersSchema()
	validator := NewExtractionValidator(schema)

	tables := map[string][]map[string]any{
		"customers": {{"id": 1}},
		"orders":    {{"id": 10, "customer_id": 999}},
	}

	result := validator.Validate(tables, nil)
	assert.False(t, result.IsValid)
	require.Len(t, result.OrphanedRecords, 1)
	orphan := result.OrphanedRecords[0]
	assert.Equal(t, "orders", orphan.Table)
	assert.Equal(t, "customers", orphan.ParentTable)
	assert.Equal(t, []any{999}, orphan.FKValues)
}

func TestExtractionValidatorSkipsNullFKValues(t *testing.T) {
	schema := buildOrdersCustomersSchema()
	validator := NewExtractionValidator(schema)

	tables := map[string][]map[string]any{
		"customers": {{"id": 1}},
		"orders":    {{"id": 10, "customer_id": nil}},
	}

	result := validator.Validate(tables, nil)
	assert.True(t, result.IsValid)
	assert.Equal(t, 1, result.TotalFKChecks)
}

func TestExtractionValidatorSkipsBrokenFKs(t *testing.T) {
	schema := buildOrdersCustomersSchema()
	validator := NewExtractionValidator(schema)

	tables := map[string][]map[string]any{
		"customers": {{"id": 1}},
		"orders":    {{"id": 10, "customer_id": 999}},
	}

	result := validator.Validate(tables, schema.Edges)
	assert.True(t, result.IsValid)
	assert.Equal(t, 0, result.TotalFKChecks)
}

func TestValidationResultFormatReportListsOrphansByTable(t *testing.T) {
	result := &ValidationResult{IsValid: true}
	result.AddOrphan(OrphanedRecord{Table: "orders", PKValues: []any{10}, ParentTable: "customers", FKName: "fk_orders_customer"})

	report := result.FormatReport()
	assert.Contains(t, report, "VALIDATION FAILED")
	assert.Contains(t, report, "orders")
	assert.False(t, result.IsValid)
}
