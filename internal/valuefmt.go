package internal

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// valuefmt.go implements the value formatting rules shared by every
// emitter (SPEC_FULL.md §4.9): NULL -> NULL literal, booleans ->
// true/false, bytes -> dialect byte literal or lowercase hex, datetimes
// -> ISO-8601, numeric -> canonical decimal, strings -> quoted with
// doubling, identifiers -> quoted with doubling.

// FormatSQLLiteral renders value as a SQL literal for the given dialect.
func FormatSQLLiteral(dialect string, value any) string {
	if value == nil {
		return "NULL"
	}
	switch v := value.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []byte:
		return formatByteLiteral(dialect, v)
	case time.Time:
		return "'" + v.UTC().Format(time.RFC3339Nano) + "'"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return strconv.FormatFloat(toFloat64(v), 'g', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", v), "'", "''") + "'"
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func formatByteLiteral(dialect string, b []byte) string {
	hexStr := hex.EncodeToString(b)
	switch dialect {
	case DialectMySQL:
		return "X'" + hexStr + "'"
	default:
		return "E'\\\\x" + hexStr + "'"
	}
}

// FormatJSONValue normalizes a value for JSON/CSV emission per
// SPEC_FULL.md §4.9's special-type rules: datetimes -> ISO-8601, bytes ->
// lowercase hex, everything else passed through for the standard JSON
// encoder to render natively (numbers, strings, bools, nil).
func FormatJSONValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return hex.EncodeToString(v)
	default:
		return v
	}
}

// FormatCSVField renders value as a single CSV field string (the
// encoding/csv writer handles quoting/escaping of the field itself).
func FormatCSVField(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return hex.EncodeToString(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// QuoteIdentifier quotes a bare identifier for the given dialect:
// double-quoted with `"` doubling for Postgres/SQLite, backtick-quoted
// with backtick doubling for MySQL.
func QuoteIdentifier(dialect, name string) string {
	if dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
