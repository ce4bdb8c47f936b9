// Package ingest converts input documents into tagged, embedded memory
// records: parse, chunk, domain-tag, embed, upsert.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/memory/semantic"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/postgres"
	"github.com/megaagent/memcore/internal/rag/chunker"
	"github.com/megaagent/memcore/internal/rag/parser"
	"github.com/megaagent/memcore/internal/rag/tagger"
	"github.com/megaagent/memcore/pkg/models"
)

// DefaultMaxFileBytes caps byte-stream ingestion at 20 MB.
const DefaultMaxFileBytes = 20 << 20

// DefaultDeadline bounds one document's ingestion end to end.
const DefaultDeadline = 120 * time.Second

// Options controls one ingestion call.
type Options struct {
	// UserID owns the resulting records (required).
	UserID string

	// CaseID scopes records to a case when set.
	CaseID string

	// AutoTag enables domain-keyword tagging of every chunk.
	AutoTag bool

	// ExtraTags are appended to every record.
	ExtraTags []string

	// Strategy picks the chunking strategy; empty means "semantic".
	Strategy string
}

// Service is the ingestion pipeline. Records for one document are committed
// all-or-nothing; a failed ingestion leaves no trace of the document.
type Service struct {
	registry *parser.Registry
	tagger   *tagger.Tagger
	store    *semantic.Store
	pool     *postgres.Pool
	cfg      chunker.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	maxBytes int64
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithMaxFileBytes overrides the byte-stream size cap.
func WithMaxFileBytes(n int64) ServiceOption {
	return func(s *Service) { s.maxBytes = n }
}

// WithChunkConfig overrides chunking parameters.
func WithChunkConfig(cfg chunker.Config) ServiceOption {
	return func(s *Service) { s.cfg = cfg }
}

// WithMetrics attaches ingestion metrics.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService builds an ingestion service with the default parser registry
// and EB-1A tag rules.
func NewService(store *semantic.Store, pool *postgres.Pool, logger *observability.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		registry: parser.NewDefaultRegistry(),
		tagger:   tagger.New(nil),
		store:    store,
		pool:     pool,
		cfg:      chunker.DefaultConfig(),
		logger:   logger,
		maxBytes: DefaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestFile reads path and ingests its contents.
func (s *Service) IngestFile(ctx context.Context, path string, opts Options) (*models.IngestionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindValidation, err, "read %s", path)
	}
	return s.Ingest(ctx, data, filepath.Base(path), opts)
}

// Ingest runs the full pipeline on raw document bytes.
func (s *Service) Ingest(ctx context.Context, data []byte, filename string, opts Options) (*models.IngestionResult, error) {
	if opts.UserID == "" {
		return nil, memerr.New(memerr.KindValidation, "ingestion requires a user_id")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, memerr.New(memerr.KindValidation,
			"document %s is %d bytes, cap is %d", filename, len(data), s.maxBytes)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDeadline)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "ingest.document",
		attribute.String("filename", filename),
		attribute.Int("bytes", len(data)))
	var retErr error
	defer func() { observability.EndSpan(span, retErr) }()

	parsed, err := s.registry.Parse(ctx, data, filename)
	if err != nil {
		s.countDocument("unknown", "error")
		retErr = err
		return nil, err
	}

	strategy := chunker.New(opts.Strategy, s.cfg)
	chunks, err := strategy.Chunk(uuid.New().String(), parsed.Content)
	if err != nil {
		s.countDocument(parsed.Format, "error")
		retErr = err
		return nil, err
	}
	if len(chunks) == 0 {
		retErr = memerr.New(memerr.KindValidation, "document %s produced no content", filename)
		return nil, retErr
	}
	documentID := chunks[0].DocumentID

	result := &models.IngestionResult{
		DocumentID:  documentID,
		FileName:    filename,
		PageCount:   parsed.PageCount,
		ChunksCount: len(chunks),
		TagCounts:   map[string]int{},
	}

	records := make([]*models.MemoryRecord, 0, len(chunks))
	for _, chunk := range chunks {
		tags := append([]string{}, opts.ExtraTags...)
		if opts.AutoTag {
			for _, tag := range s.tagger.Tag(chunk.Content) {
				tags = appendUnique(tags, tag)
				result.TagCounts[tag]++
			}
		}

		metadata := map[string]any{
			"document_id":       documentID,
			"chunk_index":       chunk.Index,
			"start_pos":         chunk.StartPos,
			"end_pos":           chunk.EndPos,
			"original_filename": filename,
			"format":            parsed.Format,
		}
		if parsed.Metadata != nil {
			if parsed.Metadata.Title != "" {
				metadata["title"] = parsed.Metadata.Title
			}
			if parsed.Metadata.Author != "" {
				metadata["author"] = parsed.Metadata.Author
			}
		}

		records = append(records, &models.MemoryRecord{
			ID:       chunk.ChunkID,
			UserID:   opts.UserID,
			CaseID:   opts.CaseID,
			Type:     models.MemorySemantic,
			Text:     chunk.Content,
			Source:   fmt.Sprintf("document:%s", filename),
			Tags:     tags,
			Metadata: metadata,
		})
	}

	for tag := range result.TagCounts {
		result.DetectedTags = appendUnique(result.DetectedTags, tag)
	}
	sort.Strings(result.DetectedTags)

	// Provenance row first; compensated on record failure so a failed
	// ingestion leaves nothing behind.
	if err := s.insertDocumentRow(ctx, documentID, filename, parsed, opts, len(chunks), int64(len(data))); err != nil {
		s.countDocument(parsed.Format, "error")
		retErr = err
		return nil, err
	}
	created, err := s.store.Insert(ctx, records)
	if err != nil {
		s.deleteDocumentRow(documentID)
		s.countDocument(parsed.Format, "error")
		retErr = err
		return nil, err
	}
	result.RecordsCreated = created

	s.countDocument(parsed.Format, "success")
	if s.metrics != nil {
		s.metrics.IngestedChunks.WithLabelValues(strategy.Name()).Add(float64(len(chunks)))
	}
	s.logger.Info(ctx, "ingested document",
		"document_id", documentID,
		"file", filename,
		"chunks", len(chunks),
		"records", created,
		"tags", len(result.DetectedTags))
	return result, nil
}

func (s *Service) insertDocumentRow(ctx context.Context, documentID, filename string, parsed *parser.ParseResult, opts Options, chunkCount int, size int64) error {
	_, err := s.pool.DB().Exec(ctx, `
		INSERT INTO mega_agent.documents
			(document_id, case_id, user_id, file_name, format, byte_size, page_count, chunk_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		documentID, nullable(opts.CaseID), opts.UserID, filename,
		parsed.Format, size, parsed.PageCount, chunkCount)
	return postgres.WrapError(err, "insert document row")
}

// deleteDocumentRow compensates a failed record insert. Best effort on a
// fresh context because the original may already be cancelled.
func (s *Service) deleteDocumentRow(documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.pool.DB().Exec(ctx,
		`DELETE FROM mega_agent.documents WHERE document_id = $1`, documentID); err != nil {
		s.logger.Warn(ctx, "failed to remove document row after aborted ingestion",
			"document_id", documentID, "error", err)
	}
}

func (s *Service) countDocument(format, status string) {
	if s.metrics != nil {
		s.metrics.IngestedDocuments.WithLabelValues(format, status).Inc()
	}
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
