package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lychee-technology/refslice"
)

// JSONEmitter writes extracted data as JSON, either as one file with a
// metadata envelope {metadata, tables} or as one file per table {table,
// row_count, rows}, per SPEC_FULL.md §6's persisted state layout.
type JSONEmitter struct {
	perTableDir string
	w           io.Writer
	tables      map[string][]map[string]any
	deferred    []refslice.DeferredUpdate
	rowCount    int
	tableCount  int
	hasCycles   bool
}

// NewJSONEmitter constructs a JSON emitter. If perTableDir is non-empty,
// one file per table is written there instead of a single envelope to w.
func NewJSONEmitter(w io.Writer, perTableDir string) *JSONEmitter {
	return &JSONEmitter{
		perTableDir: perTableDir,
		w:           w,
		tables:      make(map[string][]map[string]any),
	}
}

// EmitHeader records summary counts, written out with the envelope at Footer time.
func (e *JSONEmitter) EmitHeader(rowCount, tableCount int, hasCycles bool) error {
	e.rowCount, e.tableCount, e.hasCycles = rowCount, tableCount, hasCycles
	return nil
}

// EmitRow buffers a row under its table (JSON emission is not streamed
// incrementally; the envelope/per-table files are written at Footer time).
func (e *JSONEmitter) EmitRow(table string, row map[string]any, nullColumns map[string]bool) error {
	normalized := make(map[string]any, len(row))
	for col, val := range row {
		if nullColumns[col] {
			normalized[col] = nil
			continue
		}
		normalized[col] = FormatJSONValue(val)
	}
	e.tables[table] = append(e.tables[table], normalized)
	return nil
}

// EmitDeferredUpdates records deferred updates in the metadata envelope.
func (e *JSONEmitter) EmitDeferredUpdates(updates []refslice.DeferredUpdate) error {
	e.deferred = updates
	return nil
}

// EmitFooter writes the buffered tables out, either as one envelope file
// or one file per table.
func (e *JSONEmitter) EmitFooter() error {
	if e.perTableDir != "" {
		for table, rows := range e.tables {
			payload := map[string]any{
				"table":     table,
				"row_count": len(rows),
				"rows":      rows,
			}
			data, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			path := filepath.Join(e.perTableDir, table+".json")
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
		}
		return nil
	}

	deferredOut := make([]map[string]any, len(e.deferred))
	for i, u := range e.deferred {
		deferredOut[i] = map[string]any{
			"table":      u.Table,
			"pk_columns": u.PKColumns,
			"pk_values":  u.PKValues,
			"fk_column":  u.FKColumn,
			"fk_value":   FormatJSONValue(u.FKValue),
		}
	}
	envelope := map[string]any{
		"metadata": map[string]any{
			"row_count":        e.rowCount,
			"table_count":      e.tableCount,
			"has_cycles":       e.hasCycles,
			"deferred_updates": deferredOut,
		},
		"tables": e.tables,
	}
	enc := json.NewEncoder(e.w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}
