package refslice

import "fmt"

// findCyclesDFS finds all cycles in a dependency graph via a
// recursion-stack back-edge DFS, ported from
// _examples/original_source/src/dbslice/core/cycles.py find_cycles_dfs.
func findCyclesDFS(dependencies map[string][]string) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	var recStack []string
	onStack := make(map[string]int) // node -> index in recStack

	var dfs func(node string)
	dfs = func(node string) {
		if idx, ok := onStack[node]; ok {
			cycle := append([]string{}, recStack[idx:]...)
			cycles = append(cycles, cycle)
			return
		}
		if visited[node] {
			return
		}
		visited[node] = true
		onStack[node] = len(recStack)
		recStack = append(recStack, node)

		for _, neighbor := range dependencies[node] {
			dfs(neighbor)
		}

		recStack = recStack[:len(recStack)-1]
		delete(onStack, node)
	}

	for node := range dependencies {
		if !visited[node] {
			dfs(node)
		}
	}
	return cycles
}

// identifyCycleFKs returns the FKs forming the directed edges of the
// cycle path (not all FKs between the cycle's tables).
func identifyCycleFKs(schema *SchemaGraph, cycle []string) []ForeignKey {
	cycleEdges := make(map[[2]string]bool)
	for i := range cycle {
		source := cycle[i]
		target := cycle[(i+1)%len(cycle)]
		cycleEdges[[2]string{source, target}] = true
	}

	var fks []ForeignKey
	for _, fk := range schema.Edges {
		if cycleEdges[[2]string{fk.SourceTable, fk.TargetTable}] {
			fks = append(fks, fk)
		}
	}
	return fks
}

// selectNullableFKToBreak implements the priority rule from
// SPEC_FULL.md §4.6: self-loops prefer self-referential FKs; multi-table
// cycles exclude self-referential FKs and prefer single-column FKs.
func selectNullableFKToBreak(cycleFKs []ForeignKey, cycle []string) *ForeignKey {
	var nullable []ForeignKey
	for _, fk := range cycleFKs {
		if fk.IsNullable {
			nullable = append(nullable, fk)
		}
	}
	if len(nullable) == 0 {
		return nil
	}

	if len(cycle) == 1 {
		for i := range nullable {
			if nullable[i].IsSelfReferential() {
				return &nullable[i]
			}
		}
	} else {
		var interTable []ForeignKey
		for _, fk := range nullable {
			if !fk.IsSelfReferential() {
				interTable = append(interTable, fk)
			}
		}
		if len(interTable) > 0 {
			for i := range interTable {
				if len(interTable[i].SourceColumns) == 1 {
					return &interTable[i]
				}
			}
			return &interTable[0]
		}
	}

	for i := range nullable {
		if len(nullable[i].SourceColumns) == 1 {
			return &nullable[i]
		}
	}
	return &nullable[0]
}

// breakCyclesAtNullableFKs detects cycles in dependencies and, for each
// one, selects a nullable FK to break. Returns CircularReferenceError if
// any cycle has no nullable candidate.
func breakCyclesAtNullableFKs(schema *SchemaGraph, dependencies map[string][]string) ([]ForeignKey, []CycleInfo, error) {
	cycles := findCyclesDFS(dependencies)
	if len(cycles) == 0 {
		return nil, nil, nil
	}

	var fksToBreak []ForeignKey
	seen := make(map[string]bool)
	var cycleInfos []CycleInfo

	for _, cycle := range cycles {
		cycleFKs := identifyCycleFKs(schema, cycle)
		chosen := selectNullableFKToBreak(cycleFKs, cycle)
		if chosen == nil {
			cycleStr := CycleInfo{Tables: cycle}.String()
			var details []string
			for _, fk := range cycleFKs {
				nullableStr := "NOT NULL"
				if fk.IsNullable {
					nullableStr = "nullable"
				}
				details = append(details, fmt.Sprintf("%s.%v -> %s.%v (%s)",
					fk.SourceTable, fk.SourceColumns, fk.TargetTable, fk.TargetColumns, nullableStr))
			}
			return nil, nil, NewCircularReferenceError(cycleStr, details)
		}
		if !seen[chosen.Identity()] {
			fksToBreak = append(fksToBreak, *chosen)
			seen[chosen.Identity()] = true
		}
		cycleInfos = append(cycleInfos, CycleInfo{Tables: cycle, FKsInCycle: cycleFKs})
	}

	return fksToBreak, cycleInfos, nil
}

// buildDeferredUpdates builds the UPDATE descriptions needed to restore
// broken FK values after all INSERTs, skipping rows whose FK value is
// already null.
func buildDeferredUpdates(fksToBreak []ForeignKey, tablesData map[string][]map[string]any, schema *SchemaGraph) []DeferredUpdate {
	var updates []DeferredUpdate
	for _, fk := range fksToBreak {
		rows, ok := tablesData[fk.SourceTable]
		if !ok {
			continue
		}
		tableInfo := schema.GetTable(fk.SourceTable)
		if tableInfo == nil {
			continue
		}
		for _, row := range rows {
			for _, fkCol := range fk.SourceColumns {
				value, present := row[fkCol]
				if !present || value == nil {
					continue
				}
				pkValues := make([]any, len(tableInfo.PrimaryKey))
				for i, col := range tableInfo.PrimaryKey {
					pkValues[i] = row[col]
				}
				updates = append(updates, DeferredUpdate{
					Table:     fk.SourceTable,
					PKColumns: tableInfo.PrimaryKey,
					PKValues:  pkValues,
					FKColumn:  fkCol,
					FKValue:   value,
				})
			}
		}
	}
	return updates
}

// topologicalSort orders tables for INSERT (Kahn's algorithm), breaking
// any cycles found among dependencies restricted to `tables`. Returns
// the insert order, broken FKs, and cycle info.
func topologicalSort(schema *SchemaGraph, tables map[string]bool) ([]string, []ForeignKey, []CycleInfo, error) {
	dependencies := make(map[string][]string)
	for t := range tables {
		dependencies[t] = nil
	}
	for _, fk := range schema.Edges {
		if tables[fk.SourceTable] && tables[fk.TargetTable] {
			dependencies[fk.SourceTable] = append(dependencies[fk.SourceTable], fk.TargetTable)
		}
	}

	order, ok := kahnSort(dependencies)
	if ok {
		return order, nil, nil, nil
	}

	fksToBreak, cycleInfos, err := breakCyclesAtNullableFKs(schema, dependencies)
	if err != nil {
		return nil, nil, nil, err
	}

	broken := make(map[string]bool, len(fksToBreak))
	for _, fk := range fksToBreak {
		broken[fk.SourceTable+"\x00"+fk.TargetTable] = true
	}
	reduced := make(map[string][]string, len(dependencies))
	for t, deps := range dependencies {
		var kept []string
		for _, d := range deps {
			if !broken[t+"\x00"+d] {
				kept = append(kept, d)
			}
		}
		reduced[t] = kept
	}

	order, ok = kahnSort(reduced)
	if !ok {
		return nil, nil, nil, NewSchemaError("topological sort failed after breaking cycles", nil)
	}
	return order, fksToBreak, cycleInfos, nil
}

// kahnSort returns a topological order over dependencies (table ->
// tables it depends on, i.e. must be inserted before it) and whether
// the graph was acyclic. The returned order lists dependencies (parents)
// before dependents (children), matching insert order.
func kahnSort(dependencies map[string][]string) ([]string, bool) {
	inDegree := make(map[string]int)
	// Build reverse adjacency: parent -> children that depend on it.
	dependents := make(map[string][]string)
	for t := range dependencies {
		if _, ok := inDegree[t]; !ok {
			inDegree[t] = 0
		}
	}
	for t, deps := range dependencies {
		inDegree[t] += len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], t)
		}
	}

	var queue []string
	for t, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, t)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, dep := range dependents[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	return order, len(order) == len(dependencies)
}
