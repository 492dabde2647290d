package internal

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// telemetry.go
// Lightweight telemetry hook layer used by the extraction engine. By
// default the emitter is a no-op; NewPrometheusMetrics installs a
// real Prometheus-backed implementation behind the same seam, so tests
// and one-shot CLI invocations never pay for metric registration they
// don't need.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {
		// noop by default
	}
)

// RegisterTelemetryEmitter registers a custom emitter function.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

// EmitRowsExtracted records the number of rows extracted for a table.
// name: "refslice_rows_extracted_total" with label {"table": "<name>"}
func EmitRowsExtracted(ctx context.Context, table string, rows int64) {
	emit(ctx, "refslice_rows_extracted_total", map[string]string{"table": table}, rows)
}

// EmitBatchCount records the number of batched queries issued for a
// fetch operation. name: "refslice_adapter_batches_total" with label
// {"operation": "fetch_by_pk"|"fetch_fk_values"|"fetch_referencing_pks"}
func EmitBatchCount(ctx context.Context, operation string, batches int64) {
	emit(ctx, "refslice_adapter_batches_total", map[string]string{"operation": operation}, batches)
}

// EmitTraversalDepth records the maximum depth reached during a BFS
// traversal. name: "refslice_traversal_depth"
func EmitTraversalDepth(ctx context.Context, direction string, depth int64) {
	emit(ctx, "refslice_traversal_depth", map[string]string{"direction": direction}, depth)
}

// EmitAnonymizationCacheHitRatio records the anonymizer's cache
// effectiveness for one extraction. name: "refslice_anonymizer_cache_hit_ratio"
func EmitAnonymizationCacheHitRatio(ctx context.Context, ratio float64) {
	emit(ctx, "refslice_anonymizer_cache_hit_ratio", nil, ratio)
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// PrometheusMetrics bundles the collectors registered by
// NewPrometheusMetrics. Grounded on the ★ DOMAIN STACK decision in
// SPEC_FULL.md to replace the teacher's no-op telemetry emitter with
// real counters/histograms when Config.Metrics.Enabled is true.
type PrometheusMetrics struct {
	rowsExtracted  *prometheus.CounterVec
	adapterBatches *prometheus.CounterVec
	traversalDepth *prometheus.GaugeVec
	cacheHitRatio  prometheus.Gauge
}

// NewPrometheusMetrics constructs and registers the collectors under
// namespace, then installs them as the active telemetry emitter.
func NewPrometheusMetrics(registry *prometheus.Registry, namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		rowsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_extracted_total",
			Help:      "Rows extracted, by table.",
		}, []string{"table"}),
		adapterBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_batches_total",
			Help:      "Batched adapter queries issued, by operation.",
		}, []string{"operation"}),
		traversalDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "traversal_depth",
			Help:      "Maximum BFS depth reached, by direction.",
		}, []string{"direction"}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anonymizer_cache_hit_ratio",
			Help:      "Anonymizer cache hit ratio for the most recent extraction.",
		}),
	}
	registry.MustRegister(m.rowsExtracted, m.adapterBatches, m.traversalDepth, m.cacheHitRatio)

	RegisterTelemetryEmitter(func(ctx context.Context, name string, labels map[string]string, value any) {
		switch name {
		case "refslice_rows_extracted_total":
			m.rowsExtracted.WithLabelValues(labels["table"]).Add(toFloat(value))
		case "refslice_adapter_batches_total":
			m.adapterBatches.WithLabelValues(labels["operation"]).Add(toFloat(value))
		case "refslice_traversal_depth":
			m.traversalDepth.WithLabelValues(labels["direction"]).Set(toFloat(value))
		case "refslice_anonymizer_cache_hit_ratio":
			m.cacheHitRatio.Set(toFloat(value))
		}
	})
	return m
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
