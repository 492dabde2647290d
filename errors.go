package refslice

import "fmt"

// ErrorType categorizes a RefsliceError. Values correspond to the error
// taxonomy in SPEC_FULL.md §7.
type ErrorType string

const (
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeConnection        ErrorType = "connection"
	ErrorTypeInvalidSeed       ErrorType = "invalid_seed"
	ErrorTypeUnsafePredicate   ErrorType = "unsafe_predicate"
	ErrorTypeSchema            ErrorType = "schema"
	ErrorTypeTableNotFound     ErrorType = "table_not_found"
	ErrorTypeColumnNotFound    ErrorType = "column_not_found"
	ErrorTypeNoRowsFound       ErrorType = "no_rows_found"
	ErrorTypeCircularReference ErrorType = "circular_reference"
	ErrorTypeExtraction        ErrorType = "extraction"
	ErrorTypeCancelled         ErrorType = "cancelled"
)

// RefsliceError is the unified error type returned by every exported
// operation in this module.
type RefsliceError struct {
	Type      ErrorType      `json:"type"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Table     string         `json:"table,omitempty"`
	Column    string         `json:"column,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *RefsliceError) Error() string {
	if e.Table != "" && e.Column != "" {
		return fmt.Sprintf("[%s:%s] %s.%s: %s", e.Type, e.Code, e.Table, e.Column, e.Message)
	}
	if e.Table != "" {
		return fmt.Sprintf("[%s:%s] table %s: %s", e.Type, e.Code, e.Table, e.Message)
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Operation, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *RefsliceError) Unwrap() error {
	return e.Cause
}

// WithDetails merges details into the error.
func (e *RefsliceError) WithDetails(details map[string]any) *RefsliceError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCause attaches an underlying error.
func (e *RefsliceError) WithCause(cause error) *RefsliceError {
	e.Cause = cause
	return e
}

func newError(t ErrorType, code, msg string) *RefsliceError {
	return &RefsliceError{Type: t, Code: code, Message: msg}
}

// NewConfigError reports a malformed configuration.
func NewConfigError(code, msg string) *RefsliceError {
	return newError(ErrorTypeConfig, code, msg)
}

// NewConnectionError reports a connection or authentication failure.
func NewConnectionError(msg string, cause error) *RefsliceError {
	return newError(ErrorTypeConnection, "connect_failed", msg).WithCause(cause)
}

// NewInvalidSeedError reports a malformed seed specification.
func NewInvalidSeedError(msg string) *RefsliceError {
	return newError(ErrorTypeInvalidSeed, "invalid_seed", msg)
}

// NewUnsafePredicateError reports a seed WHERE clause rejected by the
// safety filter. construct names the offending construct for the message.
func NewUnsafePredicateError(construct, clause string) *RefsliceError {
	return newError(ErrorTypeUnsafePredicate, "unsafe_predicate",
		fmt.Sprintf("predicate rejected: %s", construct)).
		WithDetails(map[string]any{"construct": construct, "clause": clause})
}

// NewSchemaError reports a failed or incoherent schema introspection.
func NewSchemaError(msg string, cause error) *RefsliceError {
	return newError(ErrorTypeSchema, "schema_error", msg).WithCause(cause)
}

// NewTableNotFoundError reports a seed or passthrough table absent from
// the schema, with up to three near-match suggestions.
func NewTableNotFoundError(table string, suggestions []string) *RefsliceError {
	e := newError(ErrorTypeTableNotFound, "table_not_found",
		fmt.Sprintf("table %q not found", table))
	e.Table = table
	if len(suggestions) > 0 {
		e.WithDetails(map[string]any{"suggestions": suggestions})
	}
	return e
}

// NewColumnNotFoundError reports a column absent from a known table.
func NewColumnNotFoundError(table, column string, suggestions []string) *RefsliceError {
	e := newError(ErrorTypeColumnNotFound, "column_not_found",
		fmt.Sprintf("column %q not found on table %q", column, table))
	e.Table = table
	e.Column = column
	if len(suggestions) > 0 {
		e.WithDetails(map[string]any{"suggestions": suggestions})
	}
	return e
}

// NewNoRowsFoundError reports a seed predicate that matched zero rows.
func NewNoRowsFoundError(table string) *RefsliceError {
	e := newError(ErrorTypeNoRowsFound, "no_rows_found", "seed matched no rows")
	e.Table = table
	return e
}

// NewCircularReferenceError reports a cycle with no nullable FK to break.
func NewCircularReferenceError(cyclePath string, fkDetails []string) *RefsliceError {
	msg := fmt.Sprintf("circular dependency with no nullable foreign key to break\n\ncycle: %s\n\nforeign keys in cycle:\n", cyclePath)
	for _, d := range fkDetails {
		msg += "  - " + d + "\n"
	}
	return newError(ErrorTypeCircularReference, "circular_reference", msg).
		WithDetails(map[string]any{"cycle": cyclePath, "foreign_keys": fkDetails})
}

// NewExtractionError reports a database operation that failed mid-run.
func NewExtractionError(table, operation string, cause error) *RefsliceError {
	e := newError(ErrorTypeExtraction, "extraction_failed",
		fmt.Sprintf("operation %q failed", operation))
	e.Table = table
	e.Operation = operation
	return e.WithCause(cause)
}

// NewCancelledError reports extraction stopped by context cancellation.
func NewCancelledError(cause error) *RefsliceError {
	return newError(ErrorTypeCancelled, "cancelled", "extraction cancelled").WithCause(cause)
}
