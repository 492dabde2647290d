package refslice

import "time"

// defaultAnonymizationSeed is the default global seed for the
// deterministic anonymizer. Production deployments should override it
// via Config.Anonymization.Seed.
const defaultAnonymizationSeed = "refslice-default-seed-v1"

// Config consolidates every setting the extraction engine needs. It is
// the closed configuration record referenced by SPEC_FULL.md §6 — the
// YAML loader (an external collaborator, see cmd/refslice) populates
// exactly this struct and rejects unknown keys rather than merging them
// in silently.
type Config struct {
	Database      DatabaseConfig           `json:"database"`
	Traversal     TraversalConfig          `json:"extraction"`
	Anonymization AnonymizationConfig      `json:"anonymization"`
	Output        OutputConfig             `json:"output"`
	Streaming     StreamingConfig          `json:"streaming"`
	Validation    ValidationConfig         `json:"validation"`
	Logging       LoggingConfig            `json:"logging"`
	Metrics       MetricsConfig            `json:"metrics"`
	Tables        map[string]TableOverride `json:"tables,omitempty"`
}

// DatabaseConfig holds connection settings for the source database.
type DatabaseConfig struct {
	URL             string        `json:"url"`
	Schema          string        `json:"schema"`
	MaxConnections  int           `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnectTimeout  time.Duration `json:"connectTimeout"`
	// IAMAuth, when set, requests an IAM-signed auth token in place of
	// a static password (AWS RDS/Aurora/DSQL Postgres only).
	IAMAuth bool `json:"iamAuth"`
	// CircuitBreaker guards every adapter call the orchestrator makes
	// against a flapping or unreachable source database.
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`
}

// CircuitBreakerConfig controls the internal.CircuitBreaker wrapped
// around the live DatabaseAdapter. FailureThreshold <= 0 disables
// wrapping entirely.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failureThreshold"`
	Window           time.Duration `json:"window"`
	OpenDuration     time.Duration `json:"openDuration"`
}

// TraversalConfig mirrors SPEC_FULL.md §6's `extraction` YAML section.
type TraversalConfig struct {
	DefaultDepth       int                `json:"defaultDepth"`
	Direction          TraversalDirection `json:"direction"`
	ExcludeTables      []string           `json:"excludeTables"`
	PassthroughTables  []string           `json:"passthroughTables"`
	MaxRowsPerTable    int                `json:"maxRowsPerTable"`
	VirtualForeignKeys []VirtualForeignKey `json:"virtualForeignKeys"`
}

// AnonymizationConfig controls the Deterministic Anonymizer.
type AnonymizationConfig struct {
	Enabled      bool     `json:"enabled"`
	Seed         string   `json:"seed"`
	RedactFields []string `json:"redactFields"`
}

// OutputConfig controls emission format and destination.
type OutputConfig struct {
	Format             OutputFormat `json:"format"`
	File               string       `json:"file"`
	IncludeTransaction bool         `json:"includeTransaction"`
	IncludeDropTables  bool         `json:"includeDropTables"`
	// S3Bucket/S3Key, when set, upload the finished artifact after a
	// successful extraction (see internal/artifact_upload.go).
	S3Bucket string `json:"s3Bucket,omitempty"`
	S3Key    string `json:"s3Key,omitempty"`
}

// OutputFormat selects the emitter.
type OutputFormat string

const (
	OutputFormatSQL  OutputFormat = "sql"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatCSV  OutputFormat = "csv"
)

// StreamingConfig controls when and how the streaming emission path
// activates (SPEC_FULL.md §4.9).
type StreamingConfig struct {
	Force     bool `json:"force"`
	Threshold int  `json:"threshold"`
	ChunkSize int  `json:"chunkSize"`
}

// ValidationConfig controls the post-extraction Validator.
type ValidationConfig struct {
	Enabled               bool `json:"enabled"`
	FailOnValidationError bool `json:"failOnValidationError"`
}

// LoggingConfig controls the ambient zap logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig controls the Prometheus-backed telemetry emitter. When
// Enabled, the CLI registers real counters/gauges behind the package's
// telemetry seam and serves them on Port for the run's duration.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
	Port      int    `json:"port"`
}

// TableOverride holds per-table extraction overrides from the YAML
// `tables` section.
type TableOverride struct {
	Skip     bool `json:"skip"`
	MaxRows  int  `json:"maxRows,omitempty"`
}

// DefaultConfig returns the configuration used when the caller supplies
// no overrides, matching the constants in SPEC_FULL.md and the upstream
// source's constants.py defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				Window:           30 * time.Second,
				OpenDuration:     15 * time.Second,
			},
		},
		Traversal: TraversalConfig{
			DefaultDepth: 3,
			Direction:    DirectionBoth,
		},
		Anonymization: AnonymizationConfig{
			Enabled: false,
			Seed:    defaultAnonymizationSeed,
		},
		Output: OutputConfig{
			Format:             OutputFormatSQL,
			IncludeTransaction: true,
		},
		Streaming: StreamingConfig{
			Threshold: 50000,
			ChunkSize: 1000,
		},
		Validation: ValidationConfig{
			Enabled:               true,
			FailOnValidationError: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "refslice",
			Port:      9321,
		},
	}
}

// Validate checks internal consistency of the configuration, matching
// the bounds in SPEC_FULL.md's CLI surface (§6) and constants (depth
// 1..10).
func (c *Config) Validate() error {
	if c.Traversal.DefaultDepth < 1 || c.Traversal.DefaultDepth > 10 {
		return NewConfigError("invalid_depth", "extraction.defaultDepth must be between 1 and 10")
	}
	switch c.Traversal.Direction {
	case DirectionUp, DirectionDown, DirectionBoth:
	default:
		return NewConfigError("invalid_direction", "extraction.direction must be up, down, or both")
	}
	switch c.Output.Format {
	case OutputFormatSQL, OutputFormatJSON, OutputFormatCSV:
	default:
		return NewConfigError("invalid_format", "output.format must be sql, json, or csv")
	}
	if c.Streaming.Threshold <= 0 {
		return NewConfigError("invalid_streaming_threshold", "streaming.threshold must be greater than 0")
	}
	if c.Streaming.ChunkSize <= 0 {
		return NewConfigError("invalid_streaming_chunk_size", "streaming.chunkSize must be greater than 0")
	}
	if c.Streaming.Force && c.Output.File == "" {
		return NewConfigError("streaming_requires_file", "streaming mode requires output.file; streaming to stdout is disallowed")
	}
	return nil
}
