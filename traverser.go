package refslice

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TraversalConfigParams is the per-call configuration for GraphTraverser.Traverse,
// distinct from the package-level TraversalConfig (which is the YAML-facing
// config section); this is the narrower set SPEC_FULL.md §4.5 actually needs.
type TraversalConfigParams struct {
	MaxDepth          int
	Direction         TraversalDirection
	ExcludeTables     map[string]bool
	PassthroughTables []string
}

// TraversalResult is the output of a single GraphTraverser.Traverse call:
// the records discovered, organized by table, plus a human-readable trace.
type TraversalResult struct {
	// Records maps table -> set of RowIdentity -> typed PK values.
	Records       map[string]map[RowIdentity][]any
	TraversalPath []string
	TablesVisited map[string]bool
	MaxDepth      int
}

func newTraversalResult() *TraversalResult {
	return &TraversalResult{
		Records:       make(map[string]map[RowIdentity][]any),
		TablesVisited: make(map[string]bool),
	}
}

// addRecords adds pkValues (keyed by their encoded identity) to table's
// bucket and returns only the ones that were not already present.
func (r *TraversalResult) addRecords(table string, pkValues [][]any) [][]any {
	bucket, ok := r.Records[table]
	if !ok {
		bucket = make(map[RowIdentity][]any)
		r.Records[table] = bucket
	}
	var fresh [][]any
	for _, v := range pkValues {
		key := EncodeIdentity(v)
		if _, exists := bucket[key]; !exists {
			bucket[key] = v
			fresh = append(fresh, v)
		}
	}
	return fresh
}

// TotalRecords sums the record count across all tables.
func (r *TraversalResult) TotalRecords() int {
	total := 0
	for _, bucket := range r.Records {
		total += len(bucket)
	}
	return total
}

// TableCount returns the number of tables with at least one record.
func (r *TraversalResult) TableCount() int {
	return len(r.Records)
}

type traversalDirTag string

const (
	tagUp   traversalDirTag = "up"
	tagDown traversalDirTag = "down"
)

type frontier struct {
	table string
	pks   [][]any
	depth int
	dir   traversalDirTag
}

// GraphTraverser performs bounded bidirectional BFS from seed row
// identities, following FK relationships, per SPEC_FULL.md §4.5.
type GraphTraverser struct {
	schema  *SchemaGraph
	adapter DatabaseAdapter
	logger  *zap.SugaredLogger
}

// NewGraphTraverser constructs a traverser bound to a schema and adapter.
func NewGraphTraverser(schema *SchemaGraph, adapter DatabaseAdapter) *GraphTraverser {
	return &GraphTraverser{schema: schema, adapter: adapter, logger: zap.S()}
}

// Traverse runs the BFS described in SPEC_FULL.md §4.5: UP traversal is
// never depth-limited (referential integrity requires parents at any
// depth); DOWN traversal stops enqueueing further DOWN steps at
// max_depth but still triggers an UP step for newly discovered children,
// closing the referential-integrity gap.
func (t *GraphTraverser) Traverse(ctx context.Context, seedTable string, seedPKs [][]any, cfg TraversalConfigParams) (*TraversalResult, error) {
	result := newTraversalResult()
	result.addRecords(seedTable, seedPKs)
	result.TablesVisited[seedTable] = true
	result.TraversalPath = append(result.TraversalPath,
		formatTrace("seed: %s (%d rows)", seedTable, len(seedPKs)))

	var queue []frontier
	if cfg.Direction == DirectionUp || cfg.Direction == DirectionBoth {
		queue = append(queue, frontier{table: seedTable, pks: seedPKs, depth: 0, dir: tagUp})
	}
	if cfg.Direction == DirectionDown || cfg.Direction == DirectionBoth {
		queue = append(queue, frontier{table: seedTable, pks: seedPKs, depth: 0, dir: tagDown})
	}

	visitedUp := map[string]map[RowIdentity]bool{seedTable: identitySet(seedPKs)}
	visitedDown := map[string]map[RowIdentity]bool{seedTable: identitySet(seedPKs)}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		if ctx.Err() != nil {
			return nil, NewCancelledError(ctx.Err())
		}

		if f.depth >= cfg.MaxDepth && f.dir == tagDown {
			continue
		}
		if f.depth > result.MaxDepth {
			result.MaxDepth = f.depth
		}

		var next []frontier
		var err error
		if f.dir == tagUp {
			next, err = t.traverseUp(ctx, f, cfg, result, visitedUp)
		} else {
			next, err = t.traverseDown(ctx, f, cfg, result, visitedDown, visitedUp)
		}
		if err != nil {
			return nil, err
		}
		queue = append(queue, next...)
	}

	if len(cfg.PassthroughTables) > 0 {
		if err := t.processPassthroughTables(ctx, cfg, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (t *GraphTraverser) traverseUp(ctx context.Context, f frontier, cfg TraversalConfigParams, result *TraversalResult, visitedUp map[string]map[RowIdentity]bool) ([]frontier, error) {
	var next []frontier
	for _, parent := range t.schema.GetParents(f.table) {
		if cfg.ExcludeTables[parent.Table] {
			continue
		}
		parentPKs, err := t.adapter.FetchFKValues(ctx, f.table, parent.FK, f.pks)
		if err != nil {
			return nil, NewExtractionError(f.table, "fetch_fk_values", err)
		}
		if len(parentPKs) == 0 {
			continue
		}
		seen := visitedUp[parent.Table]
		if seen == nil {
			seen = make(map[RowIdentity]bool)
			visitedUp[parent.Table] = seen
		}
		fresh := filterUnvisited(parentPKs, seen)
		if len(fresh) == 0 {
			continue
		}
		markVisited(seen, fresh)
		result.addRecords(parent.Table, fresh)
		result.TablesVisited[parent.Table] = true
		result.TraversalPath = append(result.TraversalPath,
			formatTrace("%s --(up:%s)--> %s (%d rows)", f.table, parent.FK.Name, parent.Table, len(fresh)))
		next = append(next, frontier{table: parent.Table, pks: fresh, depth: f.depth + 1, dir: tagUp})
	}
	return next, nil
}

func (t *GraphTraverser) traverseDown(ctx context.Context, f frontier, cfg TraversalConfigParams, result *TraversalResult, visitedDown, visitedUp map[string]map[RowIdentity]bool) ([]frontier, error) {
	var next []frontier
	for _, child := range t.schema.GetChildren(f.table) {
		if cfg.ExcludeTables[child.Table] {
			continue
		}
		childPKs, err := t.adapter.FetchReferencingPKs(ctx, child.FK, f.pks)
		if err != nil {
			return nil, NewExtractionError(child.Table, "fetch_referencing_pks", err)
		}
		if len(childPKs) == 0 {
			continue
		}
		seenDown := visitedDown[child.Table]
		if seenDown == nil {
			seenDown = make(map[RowIdentity]bool)
			visitedDown[child.Table] = seenDown
		}
		fresh := filterUnvisited(childPKs, seenDown)
		if len(fresh) == 0 {
			continue
		}
		markVisited(seenDown, fresh)
		result.addRecords(child.Table, fresh)
		result.TablesVisited[child.Table] = true
		result.TraversalPath = append(result.TraversalPath,
			formatTrace("%s --(down:%s)--> %s (%d rows)", f.table, child.FK.Name, child.Table, len(fresh)))

		if f.depth < cfg.MaxDepth {
			next = append(next, frontier{table: child.Table, pks: fresh, depth: f.depth + 1, dir: tagDown})
		}

		seenUp := visitedUp[child.Table]
		if seenUp == nil {
			seenUp = make(map[RowIdentity]bool)
			visitedUp[child.Table] = seenUp
		}
		newForUp := filterUnvisited(fresh, seenUp)
		if len(newForUp) > 0 {
			markVisited(seenUp, newForUp)
			next = append(next, frontier{table: child.Table, pks: newForUp, depth: f.depth + 1, dir: tagUp})
		}
	}
	return next, nil
}

func (t *GraphTraverser) processPassthroughTables(ctx context.Context, cfg TraversalConfigParams, result *TraversalResult) error {
	exclude := cfg.ExcludeTables
	for _, table := range cfg.PassthroughTables {
		if exclude[table] {
			continue
		}
		info := t.schema.GetTable(table)
		if info == nil {
			t.logger.Warnw("passthrough table not found in schema, skipping", "table", table)
			continue
		}
		if !info.HasPrimaryKey() {
			t.logger.Warnw("passthrough table has no primary key, skipping", "table", table)
			continue
		}
		allPKs, err := t.adapter.FetchAllPKs(ctx, table, info.PrimaryKey)
		if err != nil {
			return NewExtractionError(table, "fetch_all_pks", err)
		}
		if len(allPKs) == 0 {
			continue
		}
		fresh := result.addRecords(table, allPKs)
		result.TablesVisited[table] = true
		result.TraversalPath = append(result.TraversalPath,
			formatTrace("passthrough: %s (%d rows total, %d new)", table, len(allPKs), len(fresh)))
	}
	return nil
}

func identitySet(pks [][]any) map[RowIdentity]bool {
	set := make(map[RowIdentity]bool, len(pks))
	for _, v := range pks {
		set[EncodeIdentity(v)] = true
	}
	return set
}

func filterUnvisited(pks [][]any, seen map[RowIdentity]bool) [][]any {
	var out [][]any
	for _, v := range pks {
		if !seen[EncodeIdentity(v)] {
			out = append(out, v)
		}
	}
	return out
}

func markVisited(seen map[RowIdentity]bool, pks [][]any) {
	for _, v := range pks {
		seen[EncodeIdentity(v)] = true
	}
}

func formatTrace(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
