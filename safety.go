package refslice

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// dangerousSQLKeywords is ported verbatim from
// _examples/original_source/src/dbslice/config.py's DANGEROUS_SQL_KEYWORDS.
var dangerousSQLKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "INSERT", "UPDATE", "ALTER", "CREATE",
	"RENAME", "GRANT", "REVOKE", "COMMIT", "ROLLBACK", "SAVEPOINT",
	"EXECUTE", "EXEC", "CALL", "SHUTDOWN", "COPY", "LOAD", "UNION",
}

// dangerousPGFunctions is ported verbatim from the same source.
var dangerousPGFunctions = []string{
	"pg_sleep", "pg_cancel_backend", "pg_terminate_backend",
	"pg_read_file", "pg_read_binary_file", "pg_ls_dir",
	"lo_import", "lo_export", "dblink", "dblink_exec",
}

var (
	singleQuotedLiteral = regexp.MustCompile(`'(?:[^']*'')*[^']*'`)
	doubleQuotedLiteral = regexp.MustCompile(`"[^"]*"`)
	dollarQuoted        = regexp.MustCompile(`\$\$|\$[a-zA-Z_][a-zA-Z0-9_]*\$`)
	escapeStringLiteral = regexp.MustCompile(`(?i)\bE'`)
	subqueryPattern     = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	commentSequence     = regexp.MustCompile(`--|/\*|\*/`)
	identifierPattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)
)

const maxIdentifierLength = 63
const maxWhereClauseLength = 10000

// reservedIdentifierWords blocks a handful of bare SQL keywords from
// being used as table/column identifiers in equality seeds.
var reservedIdentifierWords = map[string]bool{
	"select": true, "drop": true, "delete": true, "insert": true,
	"update": true, "alter": true, "create": true, "truncate": true,
}

// ValidateIdentifier enforces the strict identifier rule from
// SPEC_FULL.md §4.3: `[A-Za-z_][A-Za-z0-9_$]*`, max length 63, not a
// reserved keyword.
func ValidateIdentifier(kind, name string) error {
	if name == "" {
		return NewInvalidSeedError(kind + " identifier must not be empty")
	}
	if len(name) > maxIdentifierLength {
		return NewInvalidSeedError(kind + " identifier exceeds max length of 63")
	}
	if !identifierPattern.MatchString(name) {
		return NewInvalidSeedError(kind + " identifier '" + name + "' contains invalid characters")
	}
	if reservedIdentifierWords[strings.ToLower(name)] {
		return NewInvalidSeedError(kind + " identifier '" + name + "' is a reserved keyword")
	}
	return nil
}

// stripStringLiterals replaces single- and double-quoted string literal
// contents with empty placeholders so legitimate literal values
// containing dangerous-looking words are not flagged.
func stripStringLiterals(clause string) string {
	clause = singleQuotedLiteral.ReplaceAllString(clause, "''")
	clause = doubleQuotedLiteral.ReplaceAllString(clause, `""`)
	return clause
}

// ValidateWhereClause implements the Predicate Safety Filter from
// SPEC_FULL.md §4.3, ported from
// _examples/original_source/src/dbslice/config.py's validate_where_clause
// (the fuller of the two validators in the original source — the
// simpler one in input_validators.py covers only CLI-level identifier
// checks, folded into ValidateIdentifier above).
func ValidateWhereClause(clause string) error {
	if len(clause) > maxWhereClauseLength {
		return NewUnsafePredicateError("clause too long", clause)
	}

	normalized := norm.NFKC.String(clause)
	stripped := stripStringLiterals(normalized)

	if dollarQuoted.MatchString(stripped) {
		return NewUnsafePredicateError("dollar-quoted literal", clause)
	}
	if escapeStringLiteral.MatchString(stripped) {
		return NewUnsafePredicateError("escape-string literal", clause)
	}

	upper := strings.ToUpper(stripped)
	for _, kw := range dangerousSQLKeywords {
		if wordBoundaryMatch(upper, kw) {
			return NewUnsafePredicateError("keyword "+kw, clause)
		}
	}

	lower := strings.ToLower(stripped)
	for _, fn := range dangerousPGFunctions {
		if functionCallMatch(lower, fn) {
			return NewUnsafePredicateError("function "+fn, clause)
		}
	}

	if subqueryPattern.MatchString(upper) {
		return NewUnsafePredicateError("subquery", clause)
	}
	if strings.Contains(stripped, "::") {
		return NewUnsafePredicateError("type cast", clause)
	}
	if strings.Contains(stripped, ";") {
		return NewUnsafePredicateError("semicolon", clause)
	}
	if commentSequence.MatchString(stripped) {
		return NewUnsafePredicateError("comment sequence", clause)
	}

	return nil
}

// wordBoundaryMatch reports whether kw appears in s as a standalone
// word (not as a substring of a larger identifier).
func wordBoundaryMatch(s, kw string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	return re.MatchString(s)
}

// functionCallMatch reports whether fn appears immediately followed by
// an opening parenthesis (optionally separated by whitespace).
func functionCallMatch(s, fn string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(fn) + `\s*\(`)
	return re.MatchString(s)
}
