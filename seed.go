package refslice

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSeed parses a seed string into a SeedSpec. Two forms are
// accepted, per SPEC_FULL.md §6:
//
//	table.column=value   — an equality seed; bypasses ValidateWhereClause
//	                        because it builds a parameterized predicate,
//	                        but table/column are re-validated strictly.
//	table:where_clause    — a raw predicate seed; the clause is validated
//	                        by ValidateWhereClause before being accepted.
func ParseSeed(raw string) (SeedSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SeedSpec{}, NewInvalidSeedError("seed must not be empty")
	}

	colonIdx := strings.Index(raw, ":")
	dotIdx := strings.Index(raw, ".")
	eqIdx := strings.Index(raw, "=")

	// Disambiguate table.column=value from table:where_clause: the
	// equality form requires a dot before any colon (or no colon at all)
	// and an '=' after the dot.
	if dotIdx >= 0 && eqIdx > dotIdx && (colonIdx < 0 || dotIdx < colonIdx) {
		table := raw[:dotIdx]
		rest := raw[dotIdx+1:]
		eq := strings.Index(rest, "=")
		column := rest[:eq]
		value := rest[eq+1:]

		if err := ValidateIdentifier("table", table); err != nil {
			return SeedSpec{}, err
		}
		if err := ValidateIdentifier("column", column); err != nil {
			return SeedSpec{}, err
		}
		if err := validateSeedValue(value); err != nil {
			return SeedSpec{}, err
		}
		return SeedSpec{Table: table, Column: column, Value: unquoteSeedValue(value), hasValue: true}, nil
	}

	if colonIdx < 0 {
		return SeedSpec{}, NewInvalidSeedError(
			fmt.Sprintf("seed %q is neither table.column=value nor table:where_clause", raw))
	}

	table := raw[:colonIdx]
	whereClause := raw[colonIdx+1:]

	if err := ValidateIdentifier("table", table); err != nil {
		return SeedSpec{}, err
	}
	if whereClause == "" {
		return SeedSpec{}, NewInvalidSeedError("where clause must not be empty")
	}
	if err := ValidateWhereClause(whereClause); err != nil {
		return SeedSpec{}, err
	}

	return SeedSpec{Table: table, WhereClause: whereClause}, nil
}

func validateSeedValue(v string) error {
	if strings.TrimSpace(v) == "" {
		return NewInvalidSeedError("seed value must not be blank")
	}
	if len(v) > 1000 {
		return NewInvalidSeedError("seed value exceeds max length of 1000")
	}
	return nil
}

// unquoteSeedValue strips a single layer of surrounding quotes from a
// quoted string value in an equality seed.
func unquoteSeedValue(v string) string {
	if len(v) >= 2 {
		if (v[0] == '\'' && v[len(v)-1] == '\'') || (v[0] == '"' && v[len(v)-1] == '"') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// ToWhereClause renders the seed as a parameterized predicate plus bound
// parameters. For WHERE-clause seeds, the clause is re-validated here
// (defense in depth, per SPEC_FULL.md §4.1) before being handed to the
// adapter.
func (s SeedSpec) ToWhereClause() (string, []any, error) {
	if s.hasValue {
		return s.Column + " = ?", []any{seedTypedValue(s.Value)}, nil
	}
	if err := ValidateWhereClause(s.WhereClause); err != nil {
		return "", nil, err
	}
	return s.WhereClause, nil, nil
}

// seedTypedValue attempts to parse an equality seed's raw string value
// as an integer, falling back to the literal string.
func seedTypedValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}
