package refslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicAnonymizerIsDeterministic(t *testing.T) {
	a1 := NewDeterministicAnonymizer("seed-1", nil)
	a2 := NewDeterministicAnonymizer("seed-1", nil)

	v1 := a1.AnonymizeValue("alice@example.com", "users", "email")
	v2 := a2.AnonymizeValue("alice@example.com", "users", "email")
	assert.Equal(t, v1, v2)
	assert.NotEqual(t, "alice@example.com", v1)
}

func TestDeterministicAnonymizerDiffersAcrossSeeds(t *testing.T) {
	a1 := NewDeterministicAnonymizer("seed-1", nil)
	a2 := NewDeterministicAnonymizer("seed-2", nil)

	v1 := a1.AnonymizeValue("alice@example.com", "users", "email")
	v2 := a2.AnonymizeValue("alice@example.com", "users", "email")
	assert.NotEqual(t, v1, v2)
}

func TestDeterministicAnonymizerCachesRepeatedValues(t *testing.T) {
	a := NewDeterministicAnonymizer("seed-1", nil)
	v1 := a.AnonymizeValue("alice@example.com", "users", "email")
	v2 := a.AnonymizeValue("alice@example.com", "orders", "email")
	assert.Equal(t, v1, v2, "same raw value and column name should hit the anonymizer's cache")
}

func TestDeterministicAnonymizerLeavesNonSensitiveColumnsAlone(t *testing.T) {
	a := NewDeterministicAnonymizer("seed-1", nil)
	v := a.AnonymizeValue(42, "orders", "quantity")
	assert.Equal(t, 42, v)
}

func TestDeterministicAnonymizerNullsSecuritySensitiveColumns(t *testing.T) {
	a := NewDeterministicAnonymizer("seed-1", nil)
	v := a.AnonymizeValue("s3cr3t-hash", "users", "password_hash")
	assert.Nil(t, v)
}

func TestDeterministicAnonymizerNeverAnonymizesForeignKeyColumns(t *testing.T) {
	schema := NewSchemaGraph()
	schema.Tables["orders"] = &Table{
		Name: "orders",
		ForeignKeys: []ForeignKey{
			{Name: "fk_orders_customer", SourceTable: "orders", SourceColumns: []string{"customer_email"}, TargetTable: "customers", TargetColumns: []string{"email"}},
		},
	}
	a := NewDeterministicAnonymizer("seed-1", schema)
	v := a.AnonymizeValue("alice@example.com", "orders", "customer_email")
	assert.Equal(t, "alice@example.com", v, "FK columns must never be anonymized or referential integrity breaks")
}

func TestDeterministicAnonymizerConfigureForcesRedact(t *testing.T) {
	a := NewDeterministicAnonymizer("seed-1", nil)
	a.Configure([]string{"orders.notes"})
	v := a.AnonymizeValue("arbitrary free text", "orders", "notes")
	assert.NotEqual(t, "arbitrary free text", v)
}

func TestDeterministicAnonymizerPreservesNil(t *testing.T) {
	a := NewDeterministicAnonymizer("seed-1", nil)
	assert.Nil(t, a.AnonymizeValue(nil, "users", "email"))
}

func TestAnonymizeRowAnonymizesOnlyMatchingColumns(t *testing.T) {
	a := NewDeterministicAnonymizer("seed-1", nil)
	row := map[string]any{
		"id":    1,
		"email": "bob@example.com",
		"total": 19.99,
	}
	result := a.AnonymizeRow("orders", row)
	require.Equal(t, 1, result["id"])
	assert.NotEqual(t, "bob@example.com", result["email"])
	assert.Equal(t, 19.99, result["total"])
}

func TestCategoryDefaultsToGenericString(t *testing.T) {
	assert.Equal(t, "pystr", category("miscellaneous_notes"))
	assert.Equal(t, "email", category("contact_email"))
	assert.Equal(t, "ssn", category("ssn"))
}
