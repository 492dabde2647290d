package refslice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "simple table name", id: "orders", wantErr: false},
		{name: "underscore prefix", id: "_internal", wantErr: false},
		{name: "alnum with digits", id: "table_2", wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "starts with digit", id: "2fast", wantErr: true},
		{name: "contains space", id: "bad name", wantErr: true},
		{name: "contains semicolon", id: "orders;drop", wantErr: true},
		{name: "reserved keyword", id: "select", wantErr: true},
		{name: "reserved keyword mixed case", id: "DROP", wantErr: true},
		{name: "too long", id: strings.Repeat("a", 64), wantErr: true},
		{name: "exactly max length", id: strings.Repeat("a", 63), wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier("table", tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWhereClauseAllowsBenignPredicates(t *testing.T) {
	tests := []string{
		"status = 'active'",
		"created_at > '2024-01-01'",
		"amount >= 100 AND currency = 'USD'",
		"id IN (1, 2, 3)",
		"name LIKE 'Jo%'",
	}
	for _, clause := range tests {
		t.Run(clause, func(t *testing.T) {
			assert.NoError(t, ValidateWhereClause(clause))
		})
	}
}

func TestValidateWhereClauseRejectsDangerousKeywords(t *testing.T) {
	tests := []string{
		"1=1; DROP TABLE users",
		"1=1 UNION SELECT password FROM users",
		"(SELECT 1 FROM secrets)",
		"id = 1 -- comment",
		"id = 1 /* comment */",
		"pg_sleep(10) = 0",
		"id::text = '1'",
		"id = E'\\x00'",
	}
	for _, clause := range tests {
		t.Run(clause, func(t *testing.T) {
			assert.Error(t, ValidateWhereClause(clause))
		})
	}
}

func TestValidateWhereClauseToleratesKeywordsInsideStringLiterals(t *testing.T) {
	// "DROP" appears only inside a quoted literal, not as a bare keyword.
	assert.NoError(t, ValidateWhereClause("description = 'please do not DROP this'"))
}

func TestValidateWhereClauseRejectsOverlongClause(t *testing.T) {
	clause := "status = '" + strings.Repeat("a", maxWhereClauseLength) + "'"
	assert.Error(t, ValidateWhereClause(clause))
}

func TestValidateWhereClauseRejectsDollarQuoting(t *testing.T) {
	assert.Error(t, ValidateWhereClause("id = $$malicious$$"))
}
