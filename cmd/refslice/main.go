// Command refslice extracts a referentially consistent subset of a
// relational database around one or more seed rows and emits it as SQL,
// JSON, or CSV. See SPEC_FULL.md §6 for the full flag/config surface.
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lychee-technology/refslice"
	"github.com/lychee-technology/refslice/factory"
	"github.com/lychee-technology/refslice/internal"
)

var (
	flagConfigFile        string
	flagDatabaseURL        string
	flagDepth              int
	flagDirection          string
	flagOutputFile         string
	flagFormat             string
	flagExclude            []string
	flagPassthrough        []string
	flagAnonymize          bool
	flagRedactFields       []string
	flagValidate           bool
	flagNoValidate         bool
	flagFailOnValidation   bool
	flagStream             bool
	flagStreamThreshold    int
	flagStreamChunkSize    int
	flagDryRun             bool
	flagIncludeTransaction bool
	flagIncludeDropTables  bool
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "refslice: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := rootCmd.Execute(); err != nil {
		if rerr, ok := err.(*refslice.RefsliceError); ok {
			fmt.Fprintf(os.Stderr, "refslice: %s\n", rerr.Error())
			os.Exit(exitCodeFor(rerr))
		}
		fmt.Fprintf(os.Stderr, "refslice: %v\n", err)
		os.Exit(1)
	}
}

// exitCodeFor maps a typed error to the process exit code: every
// RefsliceError exits 1, whatever its ErrorType (success exits 0).
func exitCodeFor(err *refslice.RefsliceError) int {
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "refslice [seed...]",
	Short: "Extract a referentially consistent database subset",
	Long: `refslice extracts a bounded, referentially consistent subset of a
relational database around one or more seed rows, following foreign-key
relationships to a configurable depth, and emits the result as SQL, JSON,
or CSV.

Seeds are given as positional arguments in one of two forms:

  table.column=value   an equality seed
  table:where_clause    a raw WHERE-clause seed (validated for safety)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&flagDatabaseURL, "database-url", os.Getenv("REFSLICE_DATABASE_URL"), "database connection URL (postgres://, mysql://, sqlite://)")
	rootCmd.Flags().IntVar(&flagDepth, "depth", 0, "traversal depth (overrides config; default 3)")
	rootCmd.Flags().StringVar(&flagDirection, "direction", "", "traversal direction: up, down, or both")
	rootCmd.Flags().StringVar(&flagOutputFile, "output", "", "output file path (required for streaming; stdout if omitted)")
	rootCmd.Flags().StringVar(&flagFormat, "format", "", "output format: sql, json, or csv")
	rootCmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "tables to exclude from traversal")
	rootCmd.Flags().StringSliceVar(&flagPassthrough, "passthrough", nil, "reference tables fetched wholesale regardless of reachability")
	rootCmd.Flags().BoolVar(&flagAnonymize, "anonymize", false, "deterministically anonymize non-key column values")
	rootCmd.Flags().StringSliceVar(&flagRedactFields, "redact", nil, "table.column fields always replaced with deterministic synthetic values")
	rootCmd.Flags().BoolVar(&flagValidate, "validate", true, "run post-extraction referential validation")
	rootCmd.Flags().BoolVar(&flagNoValidate, "no-validate", false, "skip post-extraction referential validation")
	rootCmd.Flags().BoolVar(&flagFailOnValidation, "fail-on-validation-error", false, "exit non-zero if validation finds orphaned records")
	rootCmd.Flags().BoolVar(&flagStream, "stream", false, "force streaming emission regardless of estimated row count")
	rootCmd.Flags().IntVar(&flagStreamThreshold, "stream-threshold", 0, "row-count threshold that triggers automatic streaming")
	rootCmd.Flags().IntVar(&flagStreamChunkSize, "stream-chunk-size", 0, "rows fetched per chunk in streaming mode")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "compute stats and ordering without fetching or emitting rows")
	rootCmd.Flags().BoolVar(&flagIncludeTransaction, "transaction", true, "wrap SQL output in BEGIN;/COMMIT;")
	rootCmd.Flags().BoolVar(&flagIncludeDropTables, "drop-tables", false, "prefix SQL output with DROP TABLE IF EXISTS for tables in the SQL emitter's column map (this CLI passes none, so no DROP TABLE is written)")
}

func runExtract(cmd *cobra.Command, seeds []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if flagDatabaseURL == "" {
		return refslice.NewConfigError("missing_database_url", "--database-url or REFSLICE_DATABASE_URL must be set")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	adapter, err := factory.NewAdapter(ctx, flagDatabaseURL, cfg.Database.Schema, cfg.Database.IAMAuth, cfg.Database.CircuitBreaker)
	if err != nil {
		return err
	}
	defer adapter.Close(ctx)
	defer logCircuitBreakerState()

	if cfg.Metrics.Enabled {
		stopMetrics := startMetricsServer(cfg.Metrics)
		defer stopMetrics()
	}

	extractCfg := refslice.ExtractConfigFromConfig(cfg, seeds)
	extractCfg.DryRun = flagDryRun

	if extractCfg.Stream && cfg.Output.File == "" {
		return refslice.NewConfigError("streaming_to_stdout_disallowed", "streaming mode requires --output; streaming to stdout is disallowed")
	}

	outputPath := cfg.Output.File
	var out *os.File
	var cleanupOnFailure bool
	if outputPath != "" {
		out, err = os.Create(outputPath)
		if err != nil {
			return refslice.NewConfigError("output_file_unwritable", fmt.Sprintf("creating %s: %v", outputPath, err))
		}
		defer out.Close()
		cleanupOnFailure = true
	}

	var writer *bufio.Writer
	if out != nil {
		writer = bufio.NewWriter(out)
	} else {
		writer = bufio.NewWriter(os.Stdout)
	}

	emitter := newEmitter(cfg, writer)

	orchestrator := refslice.NewOrchestrator(adapter, cfg.Anonymization.Seed, progressLogger)
	result, runErr := orchestrator.Run(ctx, extractCfg, emitter)
	if flushErr := writer.Flush(); flushErr != nil && runErr == nil {
		runErr = flushErr
	}

	if runErr != nil {
		// On a streaming failure the partial output file is an artifact
		// of a run that never validated successfully; the orchestrator
		// only knows the RecordEmitter abstraction, not this path, so
		// deleting it is the CLI's job (see Orchestrator.streamingFailure).
		if cleanupOnFailure && extractCfg.Stream {
			os.Remove(outputPath)
		}
		return runErr
	}

	if result.ValidationResult != nil && !result.ValidationResult.IsValid {
		fmt.Fprintln(os.Stderr, result.ValidationResult.FormatReport())
		if cfg.Validation.FailOnValidationError {
			if cleanupOnFailure {
				os.Remove(outputPath)
			}
			return refslice.NewExtractionError("", "validate", fmt.Errorf("validation failed with %d orphaned records", len(result.ValidationResult.OrphanedRecords)))
		}
	}

	if cfg.Output.S3Bucket != "" && outputPath != "" {
		if err := internal.UploadArtifact(ctx, outputPath, cfg.Output.S3Bucket, cfg.Output.S3Key); err != nil {
			return err
		}
	}

	internal.EmitTraversalDepth(ctx, string(extractCfg.Direction), int64(result.MaxDepthReached))
	if extractCfg.Anonymize {
		internal.EmitAnonymizationCacheHitRatio(ctx, result.AnonymizerCacheHitRatio)
	}

	zap.S().Infow("extraction finished", "rows", result.TotalRows(), "tables", result.TableCount())
	return nil
}

// startMetricsServer installs a Prometheus-backed telemetry emitter behind
// internal's emit seam and serves it on metrics.Port until the returned
// stop function is called.
func startMetricsServer(metrics refslice.MetricsConfig) func() {
	registry := prometheus.NewRegistry()
	internal.NewPrometheusMetrics(registry, metrics.Namespace)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: fmt.Sprintf(":%d", metrics.Port), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.S().Errorw("metrics server exited", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zap.S().Warnw("metrics server shutdown error", "error", err)
		}
	}
}

// logCircuitBreakerState reports whether the adapter breaker tripped
// during this run, for operators correlating a failed extraction with a
// flapping source database.
func logCircuitBreakerState() {
	cb := internal.GetAdapterCircuitBreaker()
	if cb == nil {
		return
	}
	if cb.IsOpen() {
		zap.S().Warnw("adapter circuit breaker is open at exit")
	}
}

func progressLogger(stage, message string, current, total int) {
	if total > 0 {
		zap.S().Infow(message, "stage", stage, "current", current, "total", total)
	} else {
		zap.S().Infow(message, "stage", stage)
	}
}

func newEmitter(cfg *refslice.Config, w *bufio.Writer) refslice.RecordEmitter {
	switch cfg.Output.Format {
	case refslice.OutputFormatJSON:
		return internal.NewJSONEmitter(w, "")
	case refslice.OutputFormatCSV:
		return internal.NewCSVEmitter(w, "", nil)
	default:
		return internal.NewSQLEmitter(w, dialectForURL(flagDatabaseURL), cfg.Output.IncludeTransaction, cfg.Output.IncludeDropTables, nil)
	}
}

func dialectForURL(databaseURL string) string {
	switch {
	case hasScheme(databaseURL, "mysql"):
		return internal.DialectMySQL
	case hasScheme(databaseURL, "sqlite"):
		return internal.DialectSQLite
	default:
		return internal.DialectPostgres
	}
}

func hasScheme(url, scheme string) bool {
	return len(url) >= len(scheme)+3 && url[:len(scheme)] == scheme
}

// loadConfig reads flagConfigFile, if set, via a strict yaml.v3 decoder
// that rejects unknown keys (KnownFields(true)) rather than silently
// ignoring typos, per SPEC_FULL.md §6. Absent --config, DefaultConfig
// is used.
func loadConfig() (*refslice.Config, error) {
	cfg := refslice.DefaultConfig()
	if flagConfigFile == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(flagConfigFile)
	if err != nil {
		return nil, refslice.NewConfigError("config_unreadable", fmt.Sprintf("reading %s: %v", flagConfigFile, err))
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, refslice.NewConfigError("config_parse_error", fmt.Sprintf("parsing %s: %v", flagConfigFile, err))
	}
	return cfg, nil
}

// applyFlagOverrides layers CLI flags on top of the loaded config,
// flags taking precedence since they are the most specific input.
func applyFlagOverrides(cfg *refslice.Config) {
	if flagDepth > 0 {
		cfg.Traversal.DefaultDepth = flagDepth
	}
	if flagDirection != "" {
		cfg.Traversal.Direction = refslice.TraversalDirection(flagDirection)
	}
	if flagOutputFile != "" {
		cfg.Output.File = flagOutputFile
	}
	if flagFormat != "" {
		cfg.Output.Format = refslice.OutputFormat(flagFormat)
	}
	if len(flagExclude) > 0 {
		cfg.Traversal.ExcludeTables = flagExclude
	}
	if len(flagPassthrough) > 0 {
		cfg.Traversal.PassthroughTables = flagPassthrough
	}
	if flagAnonymize {
		cfg.Anonymization.Enabled = true
	}
	if len(flagRedactFields) > 0 {
		cfg.Anonymization.RedactFields = flagRedactFields
	}
	if flagNoValidate {
		cfg.Validation.Enabled = false
	}
	if flagFailOnValidation {
		cfg.Validation.FailOnValidationError = true
	}
	if flagStream {
		cfg.Streaming.Force = true
	}
	if flagStreamThreshold > 0 {
		cfg.Streaming.Threshold = flagStreamThreshold
	}
	if flagStreamChunkSize > 0 {
		cfg.Streaming.ChunkSize = flagStreamChunkSize
	}
	cfg.Output.IncludeTransaction = flagIncludeTransaction
	cfg.Output.IncludeDropTables = flagIncludeDropTables
}
