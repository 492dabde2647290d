package refslice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExtractConfig is the per-invocation request driving one orchestrator
// run: the parsed seeds plus the traversal/anonymization/validation
// knobs that apply to this extraction. Distinct from Config (the
// process-wide settings record) so a single loaded Config can drive
// multiple extractions with different seeds.
type ExtractConfig struct {
	Seeds             []string
	Depth             int
	Direction         TraversalDirection
	ExcludeTables     []string
	PassthroughTables []string
	Anonymize         bool
	RedactFields      []string
	Validate          bool
	FailOnValidation  bool
	DryRun            bool
	Stream            bool
	StreamThreshold   int
	StreamChunkSize   int
	OutputFile        string
}

// ExtractConfigFromConfig builds an ExtractConfig from the process-wide
// Config and a set of raw seed strings, applying Config's defaults.
func ExtractConfigFromConfig(cfg *Config, seeds []string) ExtractConfig {
	return ExtractConfig{
		Seeds:             seeds,
		Depth:             cfg.Traversal.DefaultDepth,
		Direction:         cfg.Traversal.Direction,
		ExcludeTables:     cfg.Traversal.ExcludeTables,
		PassthroughTables: cfg.Traversal.PassthroughTables,
		Anonymize:         cfg.Anonymization.Enabled,
		RedactFields:      cfg.Anonymization.RedactFields,
		Validate:          cfg.Validation.Enabled,
		FailOnValidation:  cfg.Validation.FailOnValidationError,
		Stream:            cfg.Streaming.Force,
		StreamThreshold:   cfg.Streaming.Threshold,
		StreamChunkSize:   cfg.Streaming.ChunkSize,
		OutputFile:        cfg.Output.File,
	}
}

// Orchestrator drives the full extraction pipeline over an already
// connected adapter: begin snapshot, introspect, traverse every seed,
// resolve cycles, topologically order, fetch (or stream), anonymize,
// validate, end snapshot, and return a result. It neither connects nor
// closes the adapter, and adds no virtual edges to the introspected
// schema. Ported from
// ExtractionEngine in
// _examples/original_source/src/dbslice/core/engine.py.
type Orchestrator struct {
	adapter  DatabaseAdapter
	anonSeed string
	progress ProgressCallback
	logger   *zap.SugaredLogger
}

// NewOrchestrator constructs an orchestrator bound to a live adapter.
// progress may be nil.
func NewOrchestrator(adapter DatabaseAdapter, anonymizationSeed string, progress ProgressCallback) *Orchestrator {
	return &Orchestrator{adapter: adapter, anonSeed: anonymizationSeed, progress: progress, logger: zap.S()}
}

func (o *Orchestrator) log(stage, message string, current, total int) {
	if o.progress != nil {
		o.progress(stage, message, current, total)
	}
}

// Run executes the full pipeline described in SPEC_FULL.md §4.10. When
// cfg.Stream is set (or the auto-streaming threshold is crossed and
// OutputFile is non-empty), rows are written incrementally to emitter
// and the returned ExtractionResult carries Stats only, no row payloads.
// Otherwise rows are fetched fully into memory and emitter, if non-nil,
// is driven from the finished RecordSet.
func (o *Orchestrator) Run(ctx context.Context, cfg ExtractConfig, emitter RecordEmitter) (*ExtractionResult, error) {
	start := time.Now()
	o.logger.Infow("starting extraction", "seed_count", len(cfg.Seeds), "depth", cfg.Depth, "direction", cfg.Direction)

	if err := o.adapter.BeginSnapshot(ctx); err != nil {
		return nil, NewConnectionError("begin snapshot failed", err)
	}
	defer o.adapter.EndSnapshot(ctx)

	result, err := o.runWithinSnapshot(ctx, cfg, emitter)
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Errorw("extraction failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return nil, err
	}
	o.logger.Infow("extraction completed successfully",
		"total_rows", result.TotalRows(), "table_count", result.TableCount(),
		"duration_ms", elapsed.Milliseconds(), "has_cycles", result.HasCycles)
	return result, nil
}

func (o *Orchestrator) runWithinSnapshot(ctx context.Context, cfg ExtractConfig, emitter RecordEmitter) (*ExtractionResult, error) {
	o.log("schema", "introspecting database schema...", 0, 0)
	schema, err := o.adapter.GetSchema(ctx, "")
	if err != nil {
		return nil, NewSchemaError("schema introspection failed", err)
	}
	o.log("schema", fmt.Sprintf("found %d tables, %d foreign keys", len(schema.Tables), len(schema.Edges)), 0, 0)

	var anonymizer *DeterministicAnonymizer
	if cfg.Anonymize || len(cfg.RedactFields) > 0 {
		anonymizer = NewDeterministicAnonymizer(o.anonSeed, schema)
		if len(cfg.RedactFields) > 0 {
			anonymizer.Configure(cfg.RedactFields)
		}
	}

	excludeSet := make(map[string]bool, len(cfg.ExcludeTables))
	for _, t := range cfg.ExcludeTables {
		excludeSet[t] = true
	}

	traverser := NewGraphTraverser(schema, o.adapter)
	allRecords := make(map[string]map[RowIdentity][]any)
	var allPaths []string
	maxDepthReached := 0

	for i, raw := range cfg.Seeds {
		if ctx.Err() != nil {
			return nil, NewCancelledError(ctx.Err())
		}
		o.log("seed", fmt.Sprintf("processing seed %q", raw), i+1, len(cfg.Seeds))

		tr, err := o.processSeed(ctx, schema, traverser, raw, cfg, excludeSet)
		if err != nil {
			return nil, err
		}
		allPaths = append(allPaths, tr.TraversalPath...)
		if tr.MaxDepth > maxDepthReached {
			maxDepthReached = tr.MaxDepth
		}
		for table, bucket := range tr.Records {
			dst, ok := allRecords[table]
			if !ok {
				dst = make(map[RowIdentity][]any)
				allRecords[table] = dst
			}
			for key, pk := range bucket {
				dst[key] = pk
			}
		}
		o.log("seed", fmt.Sprintf("found %d records across %d tables", tr.TotalRecords(), tr.TableCount()), i+1, len(cfg.Seeds))
	}

	tableSet := make(map[string]bool, len(allRecords))
	for t := range allRecords {
		tableSet[t] = true
	}

	o.log("sort", "sorting tables by dependencies...", 0, 0)
	insertOrder, brokenFKs, cycleInfos, err := topologicalSort(schema, tableSet)
	if err != nil {
		return nil, err
	}

	if cfg.DryRun {
		result := o.buildDryRunResult(allRecords, insertOrder, brokenFKs, cycleInfos, allPaths)
		result.MaxDepthReached = maxDepthReached
		return result, nil
	}

	totalEstimate := 0
	for _, bucket := range allRecords {
		totalEstimate += len(bucket)
	}
	useStreaming := cfg.Stream || (totalEstimate >= cfg.StreamThreshold && cfg.OutputFile != "")

	var result *ExtractionResult
	if useStreaming {
		if emitter == nil {
			return nil, NewConfigError("streaming_requires_emitter", "streaming mode requires a configured RecordEmitter")
		}
		result, err = o.runStreaming(ctx, schema, allRecords, insertOrder, brokenFKs, cycleInfos, allPaths, anonymizer, emitter, cfg)
	} else {
		result, err = o.runInMemory(ctx, schema, allRecords, insertOrder, brokenFKs, cycleInfos, allPaths, anonymizer, emitter, cfg)
	}
	if err != nil {
		return nil, err
	}
	result.MaxDepthReached = maxDepthReached
	if anonymizer != nil {
		result.AnonymizerCacheHitRatio = anonymizer.CacheHitRatio()
	}
	return result, nil
}

func (o *Orchestrator) processSeed(ctx context.Context, schema *SchemaGraph, traverser *GraphTraverser, raw string, cfg ExtractConfig, excludeSet map[string]bool) (*TraversalResult, error) {
	seed, err := ParseSeed(raw)
	if err != nil {
		return nil, err
	}
	if !schema.HasTable(seed.Table) {
		return nil, NewTableNotFoundError(seed.Table, nearMatches(seed.Table, schema.GetTableNames()))
	}
	tableInfo := schema.GetTable(seed.Table)

	whereClause, params, err := seed.ToWhereClause()
	if err != nil {
		return nil, err
	}
	seedRows, err := o.adapter.FetchRows(ctx, seed.Table, whereClause, params)
	if err != nil {
		return nil, NewExtractionError(seed.Table, "fetch_rows", err)
	}
	if len(seedRows) == 0 {
		return nil, NewNoRowsFoundError(seed.Table)
	}

	seedPKs := make([][]any, 0, len(seedRows))
	seen := make(map[RowIdentity]bool, len(seedRows))
	for _, row := range seedRows {
		pk := extractValues(row, tableInfo.PrimaryKey)
		key := EncodeIdentity(pk)
		if !seen[key] {
			seen[key] = true
			seedPKs = append(seedPKs, pk)
		}
	}

	return traverser.Traverse(ctx, seed.Table, seedPKs, TraversalConfigParams{
		MaxDepth:          cfg.Depth,
		Direction:         cfg.Direction,
		ExcludeTables:     excludeSet,
		PassthroughTables: cfg.PassthroughTables,
	})
}

func (o *Orchestrator) buildDryRunResult(allRecords map[string]map[RowIdentity][]any, insertOrder []string, brokenFKs []ForeignKey, cycleInfos []CycleInfo, allPaths []string) *ExtractionResult {
	stats := Stats{RowCounts: make(map[string]int, len(allRecords))}
	for table, bucket := range allRecords {
		stats.RowCounts[table] = len(bucket)
	}
	o.log("dry_run", fmt.Sprintf("dry-run summary: %d rows across %d tables would be extracted", stats.TotalRows(), len(allRecords)), 0, 0)
	return &ExtractionResult{
		InsertOrder:   insertOrder,
		Stats:         stats,
		TraversalPath: allPaths,
		HasCycles:     len(brokenFKs) > 0,
		BrokenFKs:     brokenFKs,
		CycleInfos:    cycleInfos,
	}
}

func (o *Orchestrator) runInMemory(ctx context.Context, schema *SchemaGraph, allRecords map[string]map[RowIdentity][]any, insertOrder []string, brokenFKs []ForeignKey, cycleInfos []CycleInfo, allPaths []string, anonymizer *DeterministicAnonymizer, emitter RecordEmitter, cfg ExtractConfig) (*ExtractionResult, error) {
	o.log("fetch", fmt.Sprintf("fetching data from %d tables...", len(allRecords)), 0, 0)

	tablesData := make(map[string][]map[string]any, len(allRecords))
	for table, bucket := range allRecords {
		if ctx.Err() != nil {
			return nil, NewCancelledError(ctx.Err())
		}
		if len(bucket) == 0 {
			continue
		}
		tableInfo := schema.GetTable(table)
		if tableInfo == nil {
			continue
		}
		pkValues := make([][]any, 0, len(bucket))
		for _, pk := range bucket {
			pkValues = append(pkValues, pk)
		}
		rows, err := o.adapter.FetchByPK(ctx, table, tableInfo.PrimaryKey, pkValues)
		if err != nil {
			return nil, NewExtractionError(table, "fetch_by_pk", err)
		}
		if anonymizer != nil {
			rows = anonymizeRows(anonymizer, table, rows)
		}
		tablesData[table] = rows
	}

	var deferredUpdates []DeferredUpdate
	if len(brokenFKs) > 0 {
		o.log("cycles", fmt.Sprintf("breaking %d circular reference(s)...", len(brokenFKs)), 0, 0)
		deferredUpdates = buildDeferredUpdates(brokenFKs, tablesData, schema)
	}

	result := &ExtractionResult{
		Tables:          tablesData,
		InsertOrder:     insertOrder,
		TraversalPath:   allPaths,
		HasCycles:       len(brokenFKs) > 0,
		BrokenFKs:       brokenFKs,
		DeferredUpdates: deferredUpdates,
		CycleInfos:      cycleInfos,
	}

	if cfg.Validate {
		result.ValidationResult = o.validate(schema, tablesData, brokenFKs)
		if !result.ValidationResult.IsValid && cfg.FailOnValidation {
			return nil, NewExtractionError("", "validate",
				fmt.Errorf("extraction validation failed: %d orphaned record(s)\n\n%s",
					len(result.ValidationResult.OrphanedRecords), result.ValidationResult.FormatReport()))
		}
	}

	if emitter != nil {
		if err := emitInMemory(emitter, result, schema); err != nil {
			return nil, NewExtractionError("", "emit", err)
		}
	}

	return result, nil
}

func (o *Orchestrator) runStreaming(ctx context.Context, schema *SchemaGraph, allRecords map[string]map[RowIdentity][]any, insertOrder []string, brokenFKs []ForeignKey, cycleInfos []CycleInfo, allPaths []string, anonymizer *DeterministicAnonymizer, emitter RecordEmitter, cfg ExtractConfig) (*ExtractionResult, error) {
	o.log("stream", fmt.Sprintf("using streaming mode (threshold %d)", cfg.StreamThreshold), 0, 0)

	var deferredUpdates []DeferredUpdate
	if len(brokenFKs) > 0 {
		o.log("cycles", fmt.Sprintf("breaking %d circular reference(s)...", len(brokenFKs)), 0, 0)
		temp := make(map[string][]map[string]any, len(brokenFKs))
		for _, fk := range brokenFKs {
			if _, done := temp[fk.SourceTable]; done {
				continue
			}
			bucket, ok := allRecords[fk.SourceTable]
			if !ok {
				continue
			}
			tableInfo := schema.GetTable(fk.SourceTable)
			if tableInfo == nil {
				continue
			}
			pkValues := make([][]any, 0, len(bucket))
			for _, pk := range bucket {
				pkValues = append(pkValues, pk)
			}
			rows, err := o.adapter.FetchByPK(ctx, fk.SourceTable, tableInfo.PrimaryKey, pkValues)
			if err != nil {
				return nil, NewExtractionError(fk.SourceTable, "fetch_by_pk", err)
			}
			temp[fk.SourceTable] = rows
		}
		deferredUpdates = buildDeferredUpdates(brokenFKs, temp, schema)
	}

	brokenFKCols := make(map[string]map[string]bool)
	for _, fk := range brokenFKs {
		cols, ok := brokenFKCols[fk.SourceTable]
		if !ok {
			cols = make(map[string]bool)
			brokenFKCols[fk.SourceTable] = cols
		}
		for _, c := range fk.SourceColumns {
			cols[c] = true
		}
	}

	stats := Stats{RowCounts: make(map[string]int, len(insertOrder))}
	totalRows, tableCount := 0, 0
	for _, bucket := range allRecords {
		if len(bucket) > 0 {
			totalRows += len(bucket)
			tableCount++
		}
	}

	if err := emitter.EmitHeader(totalRows, tableCount, len(brokenFKs) > 0); err != nil {
		return nil, o.streamingFailure(cfg, err)
	}

	for _, table := range insertOrder {
		bucket, ok := allRecords[table]
		if !ok || len(bucket) == 0 {
			continue
		}
		tableInfo := schema.GetTable(table)
		if tableInfo == nil {
			continue
		}
		pkValues := make([][]any, 0, len(bucket))
		for _, pk := range bucket {
			pkValues = append(pkValues, pk)
		}
		nullCols := brokenFKCols[table]
		count := 0
		err := o.adapter.FetchByPKChunked(ctx, table, tableInfo.PrimaryKey, pkValues, cfg.StreamChunkSize, func(chunk RowChunk) error {
			if ctx.Err() != nil {
				return NewCancelledError(ctx.Err())
			}
			if anonymizer != nil {
				chunk = anonymizeRows(anonymizer, table, chunk)
			}
			for _, row := range chunk {
				if err := emitter.EmitRow(table, row, nullCols); err != nil {
					return err
				}
				count++
			}
			return nil
		})
		if err != nil {
			return nil, o.streamingFailure(cfg, err)
		}
		stats.RowCounts[table] = count
	}

	if err := emitter.EmitDeferredUpdates(deferredUpdates); err != nil {
		return nil, o.streamingFailure(cfg, err)
	}
	if err := emitter.EmitFooter(); err != nil {
		return nil, o.streamingFailure(cfg, err)
	}

	result := &ExtractionResult{
		InsertOrder:     insertOrder,
		Stats:           stats,
		TraversalPath:   allPaths,
		HasCycles:       len(brokenFKs) > 0,
		BrokenFKs:       brokenFKs,
		DeferredUpdates: deferredUpdates,
		CycleInfos:      cycleInfos,
	}

	if cfg.Validate {
		validationResult, err := o.validateStreamed(ctx, schema, allRecords, brokenFKs, cfg)
		if err != nil {
			return nil, o.streamingFailure(cfg, err)
		}
		result.ValidationResult = validationResult
	}

	return result, nil
}

// streamingFailure is a hook point for the Open Question resolution
// recorded in SPEC_FULL.md: a streaming-mode failure (including a
// failed post-emission validation with fail-on-validation-error) should
// not leave a partial artifact on disk. Deleting the temp file itself is
// the caller's (cmd/refslice's) responsibility once it sees a non-nil
// error from Run, since only the caller knows the real output path.
func (o *Orchestrator) streamingFailure(cfg ExtractConfig, err error) error {
	return NewExtractionError("", "stream_emit", err)
}

func (o *Orchestrator) validate(schema *SchemaGraph, tablesData map[string][]map[string]any, brokenFKs []ForeignKey) *ValidationResult {
	o.log("validate", "validating extraction for referential integrity...", 0, 0)
	result := NewExtractionValidator(schema).Validate(tablesData, brokenFKs)
	if result.IsValid {
		o.log("validate", "validation passed: all FK references are intact", 0, 0)
	} else {
		o.log("validate", fmt.Sprintf("validation failed: %d orphaned record(s) found", len(result.OrphanedRecords)), 0, 0)
	}
	return result
}

// validateStreamed re-fetches each table's full rows for post-emission
// validation: the streaming path only retains PK values in memory, and a
// row built from PK values alone has no FK columns to check, so every
// FK check would be skipped as nil. Re-fetching by PK (now batched
// internally by FetchByPK) restores the FK values the validator needs.
func (o *Orchestrator) validateStreamed(ctx context.Context, schema *SchemaGraph, allRecords map[string]map[RowIdentity][]any, brokenFKs []ForeignKey, cfg ExtractConfig) (*ValidationResult, error) {
	tablesData := make(map[string][]map[string]any, len(allRecords))
	for table, bucket := range allRecords {
		tableInfo := schema.GetTable(table)
		if tableInfo == nil || len(bucket) == 0 {
			continue
		}
		pkValues := make([][]any, 0, len(bucket))
		for _, pk := range bucket {
			pkValues = append(pkValues, pk)
		}
		rows, err := o.adapter.FetchByPK(ctx, table, tableInfo.PrimaryKey, pkValues)
		if err != nil {
			return nil, NewExtractionError(table, "fetch_by_pk", err)
		}
		tablesData[table] = rows
	}
	return o.validate(schema, tablesData, brokenFKs), nil
}

func anonymizeRows(a *DeterministicAnonymizer, table string, rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = a.AnonymizeRow(table, row)
	}
	return out
}

func emitInMemory(emitter RecordEmitter, result *ExtractionResult, schema *SchemaGraph) error {
	brokenCols := make(map[string]map[string]bool)
	for _, fk := range result.BrokenFKs {
		cols, ok := brokenCols[fk.SourceTable]
		if !ok {
			cols = make(map[string]bool)
			brokenCols[fk.SourceTable] = cols
		}
		for _, c := range fk.SourceColumns {
			cols[c] = true
		}
	}

	if err := emitter.EmitHeader(result.TotalRows(), result.TableCount(), result.HasCycles); err != nil {
		return err
	}
	for _, table := range result.InsertOrder {
		rows, ok := result.Tables[table]
		if !ok {
			continue
		}
		nullCols := brokenCols[table]
		for _, row := range rows {
			if err := emitter.EmitRow(table, row, nullCols); err != nil {
				return err
			}
		}
	}
	if err := emitter.EmitDeferredUpdates(result.DeferredUpdates); err != nil {
		return err
	}
	return emitter.EmitFooter()
}

// nearMatches returns up to three candidate names for an error-message
// suggestion, chosen by substring containment (cheap, dependency-free).
func nearMatches(name string, candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if len(out) >= 3 {
			break
		}
		if containsFold(c, name) || containsFold(name, c) {
			out = append(out, c)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	h, n := []rune(haystack), []rune(needle)
	if len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			hc, nc := h[i+j], n[j]
			if hc >= 'A' && hc <= 'Z' {
				hc += 'a' - 'A'
			}
			if nc >= 'A' && nc <= 'Z' {
				nc += 'a' - 'A'
			}
			if hc != nc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
