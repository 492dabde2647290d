package refslice

import (
	"go.uber.org/zap"
)

// ExtractionValidator checks that extracted data maintains referential
// integrity: every non-broken foreign key reference must point to a row
// included in the extraction. Ported from ExtractionValidator in
// _examples/original_source/src/dbslice/validation.py.
type ExtractionValidator struct {
	schema *SchemaGraph
	logger *zap.SugaredLogger
}

// NewExtractionValidator constructs a validator bound to schema.
func NewExtractionValidator(schema *SchemaGraph) *ExtractionValidator {
	return &ExtractionValidator{schema: schema, logger: zap.S()}
}

// Validate checks every FK reference in tables against a PK index built
// from the same extraction, skipping FKs in brokenFKs (intentionally
// broken for cycle handling) and NULL FK values.
func (v *ExtractionValidator) Validate(tables map[string][]map[string]any, brokenFKs []ForeignKey) *ValidationResult {
	v.logger.Infow("starting extraction validation", "table_count", len(tables), "broken_fk_count", len(brokenFKs))

	result := &ValidationResult{IsValid: true, BrokenFKs: brokenFKs}
	brokenSet := make(map[string]bool, len(brokenFKs))
	for _, fk := range brokenFKs {
		brokenSet[fk.Identity()] = true
	}

	pkIndex := v.buildPKIndex(tables)

	for tableName, rows := range tables {
		tableInfo := v.schema.GetTable(tableName)
		if tableInfo == nil {
			v.logger.Warnw("table not found in schema during validation", "table", tableName)
			continue
		}
		result.TotalRecordsChecked += len(rows)

		parents := v.schema.GetParents(tableName)

		for _, row := range rows {
			pkValues := extractValues(row, tableInfo.PrimaryKey)

			for _, parent := range parents {
				fk := parent.FK
				if brokenSet[fk.Identity()] {
					continue
				}
				result.TotalFKChecks++

				fkValues := extractValues(row, fk.SourceColumns)
				if anyNil(fkValues) {
					continue
				}

				if !v.hasParentRecord(parent.Table, fkValues, pkIndex) {
					orphan := OrphanedRecord{
						Table:       tableName,
						PKValues:    pkValues,
						FKName:      fk.Name,
						FKColumns:   fk.SourceColumns,
						FKValues:    fkValues,
						ParentTable: parent.Table,
					}
					result.AddOrphan(orphan)
					v.logger.Warnw("orphaned record detected",
						"table", tableName, "parent_table", parent.Table, "fk_name", fk.Name)
				}
			}
		}
	}

	v.logger.Infow("validation complete",
		"is_valid", result.IsValid,
		"orphaned_count", len(result.OrphanedRecords),
		"records_checked", result.TotalRecordsChecked,
		"fk_checks", result.TotalFKChecks)

	return result
}

func (v *ExtractionValidator) buildPKIndex(tables map[string][]map[string]any) map[string]map[RowIdentity]bool {
	index := make(map[string]map[RowIdentity]bool, len(tables))
	for tableName, rows := range tables {
		tableInfo := v.schema.GetTable(tableName)
		if tableInfo == nil {
			continue
		}
		pks := make(map[RowIdentity]bool, len(rows))
		for _, row := range rows {
			pks[EncodeIdentity(extractValues(row, tableInfo.PrimaryKey))] = true
		}
		index[tableName] = pks
	}
	return index
}

func (v *ExtractionValidator) hasParentRecord(parentTable string, fkValues []any, pkIndex map[string]map[RowIdentity]bool) bool {
	pks, ok := pkIndex[parentTable]
	if !ok {
		return false
	}
	return pks[EncodeIdentity(fkValues)]
}

func extractValues(row map[string]any, columns []string) []any {
	values := make([]any, len(columns))
	for i, col := range columns {
		values[i] = row[col]
	}
	return values
}

func anyNil(values []any) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}
