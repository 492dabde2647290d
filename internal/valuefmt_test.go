package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSQLLiteralNull(t *testing.T) {
	assert.Equal(t, "NULL", FormatSQLLiteral(DialectPostgres, nil))
}

func TestFormatSQLLiteralBool(t *testing.T) {
	assert.Equal(t, "true", FormatSQLLiteral(DialectPostgres, true))
	assert.Equal(t, "false", FormatSQLLiteral(DialectPostgres, false))
}

func TestFormatSQLLiteralString(t *testing.T) {
	assert.Equal(t, "'it''s'", FormatSQLLiteral(DialectPostgres, "it's"))
}

func TestFormatSQLLiteralNumeric(t *testing.T) {
	assert.Equal(t, "42", FormatSQLLiteral(DialectPostgres, 42))
	assert.Equal(t, "3.5", FormatSQLLiteral(DialectPostgres, 3.5))
}

func TestFormatSQLLiteralTime(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "'2026-01-02T03:04:05Z'", FormatSQLLiteral(DialectPostgres, ts))
}

func TestFormatSQLLiteralBytesPerDialect(t *testing.T) {
	b := []byte{0xde, 0xad}
	assert.Equal(t, "X'dead'", FormatSQLLiteral(DialectMySQL, b))
	assert.Equal(t, `E'\\xdead'`, FormatSQLLiteral(DialectPostgres, b))
}

func TestFormatJSONValueConvertsSpecialTypes(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-01-02T03:04:05Z", FormatJSONValue(ts))
	assert.Equal(t, "dead", FormatJSONValue([]byte{0xde, 0xad}))
	assert.Equal(t, 42, FormatJSONValue(42))
}

func TestFormatCSVField(t *testing.T) {
	assert.Equal(t, "", FormatCSVField(nil))
	assert.Equal(t, "true", FormatCSVField(true))
	assert.Equal(t, "dead", FormatCSVField([]byte{0xde, 0xad}))
	assert.Equal(t, "42", FormatCSVField(42))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"weird""name"`, QuoteIdentifier(DialectPostgres, `weird"name`))
	assert.Equal(t, "`weird``name`", QuoteIdentifier(DialectMySQL, "weird`name"))
}
