package refslice

import (
	"fmt"
	"strings"
)

// Column describes a single database column as reported by schema
// introspection. Immutable after construction.
type Column struct {
	Name         string
	DataType     string
	Nullable     bool
	IsPrimaryKey bool
	Default      *string
}

// ForeignKey describes a real (catalog-declared) foreign key
// relationship. Source and target column tuples are paired positionally
// and always have equal arity.
type ForeignKey struct {
	Name          string
	SourceTable   string
	SourceColumns []string
	TargetTable   string
	TargetColumns []string
	IsNullable    bool
	// Virtual is true when this FK originated from configuration rather
	// than the database catalog (see VirtualForeignKey).
	Virtual bool
}

// AsEdge returns the directed (child, parent) edge this FK represents.
func (fk ForeignKey) AsEdge() (string, string) {
	return fk.SourceTable, fk.TargetTable
}

// IsSelfReferential reports whether source and target table are the same.
func (fk ForeignKey) IsSelfReferential() bool {
	return fk.SourceTable == fk.TargetTable
}

// Identity returns the (name, source, target) tuple used for FK identity
// and set membership, mirroring the hash used by the original model.
func (fk ForeignKey) Identity() string {
	return fk.Name + "\x00" + fk.SourceTable + "\x00" + fk.TargetTable
}

// VirtualForeignKey describes a relationship declared in configuration,
// not enforced by the database catalog. Treated identically to a real
// ForeignKey by the traverser; carries a description for provenance.
type VirtualForeignKey struct {
	Name          string
	SourceTable   string
	SourceColumns []string
	TargetTable   string
	TargetColumns []string
	Description   string
	// IsNullable defaults to true: virtual FKs are usually best-effort.
	IsNullable bool
}

// ToForeignKey converts a VirtualForeignKey into an equivalent
// ForeignKey tagged as virtual.
func (v VirtualForeignKey) ToForeignKey() ForeignKey {
	return ForeignKey{
		Name:          v.Name,
		SourceTable:   v.SourceTable,
		SourceColumns: v.SourceColumns,
		TargetTable:   v.TargetTable,
		TargetColumns: v.TargetColumns,
		IsNullable:    v.IsNullable,
		Virtual:       true,
	}
}

// Table describes a single database table.
type Table struct {
	Name        string
	Schema      string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// GetPKColumns returns the primary key column names, in order.
func (t *Table) GetPKColumns() []string {
	return t.PrimaryKey
}

// GetColumn returns a column by name, or nil if absent.
func (t *Table) GetColumn(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// GetColumnNames returns every column name, in declaration order.
func (t *Table) GetColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasPrimaryKey reports whether the table has at least one PK column.
func (t *Table) HasPrimaryKey() bool {
	return len(t.PrimaryKey) > 0
}

// SchemaGraph is the complete schema represented as a directed graph of
// tables connected by foreign-key edges. Built once per extraction by
// the Database Adapter and shared by reference thereafter; the only
// permitted mutation after construction is appending virtual edges via
// AddVirtualFK. Orchestrator.Run does not call it, so the graph it
// traverses holds only catalog-declared edges and
// TraversalConfig.VirtualForeignKeys is not applied.
type SchemaGraph struct {
	Tables       map[string]*Table
	Edges        []ForeignKey
	VirtualEdges []VirtualForeignKey
}

// NewSchemaGraph builds an empty graph.
func NewSchemaGraph() *SchemaGraph {
	return &SchemaGraph{Tables: make(map[string]*Table)}
}

// GetTable returns a table by name, or nil if absent.
func (g *SchemaGraph) GetTable(name string) *Table {
	return g.Tables[name]
}

// HasTable reports whether a table exists in the graph.
func (g *SchemaGraph) HasTable(name string) bool {
	_, ok := g.Tables[name]
	return ok
}

// GetTableNames returns every table name in the graph.
func (g *SchemaGraph) GetTableNames() []string {
	names := make([]string, 0, len(g.Tables))
	for n := range g.Tables {
		names = append(names, n)
	}
	return names
}

// ParentEdge pairs a parent table name with the FK that reaches it.
type ParentEdge struct {
	Table string
	FK    ForeignKey
}

// GetParents returns the tables `table` depends on (the targets of FKs
// whose source is `table`), including both real and virtual edges.
func (g *SchemaGraph) GetParents(table string) []ParentEdge {
	var out []ParentEdge
	for _, fk := range g.Edges {
		if fk.SourceTable == table {
			out = append(out, ParentEdge{Table: fk.TargetTable, FK: fk})
		}
	}
	for _, vfk := range g.VirtualEdges {
		if vfk.SourceTable == table {
			out = append(out, ParentEdge{Table: vfk.TargetTable, FK: vfk.ToForeignKey()})
		}
	}
	return out
}

// GetChildren returns the tables that depend on `table` (the sources of
// FKs whose target is `table`), including both real and virtual edges.
func (g *SchemaGraph) GetChildren(table string) []ParentEdge {
	var out []ParentEdge
	for _, fk := range g.Edges {
		if fk.TargetTable == table {
			out = append(out, ParentEdge{Table: fk.SourceTable, FK: fk})
		}
	}
	for _, vfk := range g.VirtualEdges {
		if vfk.TargetTable == table {
			out = append(out, ParentEdge{Table: vfk.SourceTable, FK: vfk.ToForeignKey()})
		}
	}
	return out
}

// GetVirtualFKs returns virtual FKs, optionally restricted to those
// touching `table` (either as source or target).
func (g *SchemaGraph) GetVirtualFKs(table string) []VirtualForeignKey {
	if table == "" {
		return g.VirtualEdges
	}
	var out []VirtualForeignKey
	for _, vfk := range g.VirtualEdges {
		if vfk.SourceTable == table || vfk.TargetTable == table {
			out = append(out, vfk)
		}
	}
	return out
}

// AddVirtualFK appends a virtual FK edge to the graph.
func (g *SchemaGraph) AddVirtualFK(vfk VirtualForeignKey) {
	g.VirtualEdges = append(g.VirtualEdges, vfk)
}

// IsVirtualFK reports whether fk originated from the virtual edge list.
func (g *SchemaGraph) IsVirtualFK(fk ForeignKey) bool {
	for _, vfk := range g.VirtualEdges {
		if vfk.Name == fk.Name && vfk.SourceTable == fk.SourceTable && vfk.TargetTable == fk.TargetTable {
			return true
		}
	}
	return false
}

// TraversalDirection controls which way the Graph Traverser follows FKs.
type TraversalDirection string

const (
	DirectionUp   TraversalDirection = "up"
	DirectionDown TraversalDirection = "down"
	DirectionBoth TraversalDirection = "both"
)

// SeedSpec is either an equality seed (table.column=value) or a raw
// WHERE-clause seed (table:where_clause). Exactly one of Column/Value or
// WhereClause is populated.
type SeedSpec struct {
	Table       string
	Column      string
	Value       string
	hasValue    bool
	WhereClause string
}

// IsEquality reports whether this is a `table.column=value` seed.
func (s SeedSpec) IsEquality() bool {
	return s.hasValue
}

// RowIdentity is a tuple of primary-key values encoded as a stable,
// comparable string key (component values joined by NUL), used as a map
// key throughout the traverser and cycle resolver. The original typed
// values are kept alongside it as map values (see TraversalResult.Records).
type RowIdentity = string

// EncodeIdentity builds a RowIdentity key from ordered PK component values.
func EncodeIdentity(values []any) RowIdentity {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x00")
}

// CycleInfo describes a detected cycle in the reduced dependency
// subgraph: the ordered tables forming the cycle path, and every FK
// that forms one of its edges.
type CycleInfo struct {
	Tables     []string
	FKsInCycle []ForeignKey
}

// String renders the cycle as "A -> B -> A".
func (c CycleInfo) String() string {
	path := append(append([]string{}, c.Tables...), c.Tables[0])
	return strings.Join(path, " -> ")
}

// DeferredUpdate describes an UPDATE required after all INSERTs to
// restore a broken FK's original value.
type DeferredUpdate struct {
	Table     string
	PKColumns []string
	PKValues  []any
	FKColumn  string
	FKValue   any
}

// OrphanedRecord describes a row whose FK value does not resolve to any
// row in the emitted output, found by the Validator.
type OrphanedRecord struct {
	Table       string
	PKValues    []any
	FKName      string
	FKColumns   []string
	FKValues    []any
	ParentTable string
}

func (o OrphanedRecord) String() string {
	return fmt.Sprintf("%s%v -> %s via %s (%v) has no match in %s",
		o.Table, o.PKValues, o.ParentTable, o.FKName, o.FKValues, o.ParentTable)
}

// ValidationResult summarizes the post-extraction orphan check.
type ValidationResult struct {
	IsValid             bool
	OrphanedRecords     []OrphanedRecord
	BrokenFKs           []ForeignKey
	TotalRecordsChecked int
	TotalFKChecks       int
}

// AddOrphan records an orphan and marks the result invalid.
func (v *ValidationResult) AddOrphan(o OrphanedRecord) {
	v.OrphanedRecords = append(v.OrphanedRecords, o)
	v.IsValid = false
}

// FormatReport renders a human-readable, table-grouped validation report.
func (v *ValidationResult) FormatReport() string {
	var b strings.Builder
	border := strings.Repeat("=", 80)
	b.WriteString(border + "\n")
	if v.IsValid {
		b.WriteString("VALIDATION PASSED\n")
	} else {
		b.WriteString("VALIDATION FAILED\n")
	}
	fmt.Fprintf(&b, "Records checked: %d, FK checks: %d, orphans: %d\n",
		v.TotalRecordsChecked, v.TotalFKChecks, len(v.OrphanedRecords))
	b.WriteString(border + "\n")

	byTable := make(map[string][]OrphanedRecord)
	for _, o := range v.OrphanedRecords {
		byTable[o.Table] = append(byTable[o.Table], o)
	}
	for table, orphans := range byTable {
		fmt.Fprintf(&b, "\nTable %s (%d orphans):\n", table, len(orphans))
		for _, o := range orphans {
			fmt.Fprintf(&b, "  %s\n", o.String())
		}
	}
	return b.String()
}

// Stats holds per-table row counts, used both by the in-memory result
// and the streaming result (which otherwise carries no row payloads).
type Stats struct {
	RowCounts map[string]int
}

// TotalRows sums RowCounts across all tables.
func (s Stats) TotalRows() int {
	total := 0
	for _, n := range s.RowCounts {
		total += n
	}
	return total
}

// ExtractionResult is the immutable output of a completed extraction.
// In streaming mode Tables is empty (data went to the output file) and
// Stats carries the row counts instead.
type ExtractionResult struct {
	Tables           map[string][]map[string]any
	InsertOrder      []string
	Stats            Stats
	TraversalPath    []string
	HasCycles        bool
	BrokenFKs        []ForeignKey
	DeferredUpdates  []DeferredUpdate
	CycleInfos       []CycleInfo
	ValidationResult *ValidationResult
	MaxDepthReached  int
	// AnonymizerCacheHitRatio is 0 when anonymization was not requested.
	AnonymizerCacheHitRatio float64
}

// TotalRows returns the total row count across all tables, falling back
// to Stats when Tables is empty (streaming/dry-run mode).
func (r *ExtractionResult) TotalRows() int {
	if len(r.Tables) > 0 {
		total := 0
		for _, rows := range r.Tables {
			total += len(rows)
		}
		return total
	}
	return r.Stats.TotalRows()
}

// TableCount returns the number of tables with at least one emitted row.
func (r *ExtractionResult) TableCount() int {
	if len(r.Tables) > 0 {
		return len(r.Tables)
	}
	return len(r.Stats.RowCounts)
}
