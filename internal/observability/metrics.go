package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for the memory core.
//
// The host process is responsible for exposing the collectors; register them
// with Collectors() on whatever registry backs its /metrics endpoint.
type Metrics struct {
	// StoreOpDuration measures store operation latency in seconds.
	// Labels: store (semantic|episodic|rmt), operation
	StoreOpDuration *prometheus.HistogramVec

	// StoreOpCounter counts store operations.
	// Labels: store, operation, status (success|error)
	StoreOpCounter *prometheus.CounterVec

	// RetrievalDuration measures end-to-end retrieval latency in seconds.
	// Labels: mode (dense|sparse|hybrid|reranked)
	RetrievalDuration *prometheus.HistogramVec

	// RetrievalResults tracks the number of results returned per query.
	// Labels: mode
	RetrievalResults *prometheus.HistogramVec

	// EmbeddingBatchDuration measures embedding provider call latency.
	// Labels: model
	EmbeddingBatchDuration *prometheus.HistogramVec

	// EmbeddingTexts counts texts embedded.
	// Labels: model, status (success|error)
	EmbeddingTexts *prometheus.CounterVec

	// IngestedDocuments counts ingested documents.
	// Labels: format, status (success|error)
	IngestedDocuments *prometheus.CounterVec

	// IngestedChunks counts chunks produced by ingestion.
	// Labels: strategy
	IngestedChunks *prometheus.CounterVec

	// ConsolidationRuns counts consolidation runs.
	// Labels: status (success|error)
	ConsolidationRuns *prometheus.CounterVec

	// ConsolidationMerged counts records merged away by consolidation.
	ConsolidationMerged prometheus.Counter

	// RMTBuffersSwept counts TTL-expired working-memory buffers removed.
	RMTBuffersSwept prometheus.Counter
}

// NewMetrics creates the full metric set. Collectors are not registered;
// call Collectors() and register them on the process registry.
func NewMetrics() *Metrics {
	return &Metrics{
		StoreOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memcore_store_op_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"store", "operation"},
		),
		StoreOpCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcore_store_ops_total",
				Help: "Total store operations by store, operation, and status",
			},
			[]string{"store", "operation", "status"},
		),
		RetrievalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memcore_retrieval_duration_seconds",
				Help:    "End-to-end retrieval latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"mode"},
		),
		RetrievalResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memcore_retrieval_results",
				Help:    "Number of results returned per retrieval",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"mode"},
		),
		EmbeddingBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memcore_embedding_batch_duration_seconds",
				Help:    "Embedding provider batch call latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"model"},
		),
		EmbeddingTexts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcore_embedding_texts_total",
				Help: "Total texts embedded by model and status",
			},
			[]string{"model", "status"},
		),
		IngestedDocuments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcore_ingested_documents_total",
				Help: "Total documents ingested by format and status",
			},
			[]string{"format", "status"},
		),
		IngestedChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcore_ingested_chunks_total",
				Help: "Total chunks produced by chunking strategy",
			},
			[]string{"strategy"},
		),
		ConsolidationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memcore_consolidation_runs_total",
				Help: "Total consolidation runs by status",
			},
			[]string{"status"},
		),
		ConsolidationMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memcore_consolidation_merged_total",
				Help: "Total records merged away by consolidation",
			},
		),
		RMTBuffersSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memcore_rmt_buffers_swept_total",
				Help: "Total TTL-expired working-memory buffers removed",
			},
		),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StoreOpDuration,
		m.StoreOpCounter,
		m.RetrievalDuration,
		m.RetrievalResults,
		m.EmbeddingBatchDuration,
		m.EmbeddingTexts,
		m.IngestedDocuments,
		m.IngestedChunks,
		m.ConsolidationRuns,
		m.ConsolidationMerged,
		m.RMTBuffersSwept,
	}
}
