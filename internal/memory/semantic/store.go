// Package semantic persists memory records with vector embeddings in
// Postgres and answers similarity, enumeration, and hybrid queries.
package semantic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/megaagent/memcore/internal/backoff"
	"github.com/megaagent/memcore/internal/embeddings"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/postgres"
	"github.com/megaagent/memcore/internal/rag/fusion"
	"github.com/megaagent/memcore/pkg/models"
)

// KnowledgeBaseTag marks records that belong to the shared knowledge base
// rather than a single user's memory.
const KnowledgeBaseTag = "knowledge_base"

const recordColumns = `id, user_id, case_id, thread_id, type, text, source,
	tags, metadata, embedding, embedding_model, embedding_dimension,
	salience, confidence, created_at, updated_at`

// Store is the canonical pgvector-backed semantic memory store.
type Store struct {
	pool      *postgres.Pool
	embedder  embeddings.Provider
	namespace string
	logger    *observability.Logger
	metrics   *observability.Metrics
	policy    backoff.Policy
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithMetrics attaches store metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a semantic store scoped to the given namespace.
func New(pool *postgres.Pool, embedder embeddings.Provider, namespace string, logger *observability.Logger, opts ...Option) *Store {
	if namespace == "" {
		namespace = "default"
	}
	s := &Store{
		pool:      pool,
		embedder:  embedder,
		namespace: namespace,
		logger:    logger,
		policy:    backoff.StorePolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert validates records, fills missing ids and embeddings, and writes all
// rows in one transaction. Returns the number of records written.
func (s *Store) Insert(ctx context.Context, records []*models.MemoryRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	defer s.observe("semantic", "insert", s.now())()

	dim := s.embedder.Dimension()
	var missing []int
	for i, rec := range records {
		if strings.TrimSpace(rec.Text) == "" {
			return 0, memerr.New(memerr.KindValidation, "record %d has empty text", i)
		}
		if rec.UserID == "" {
			return 0, memerr.New(memerr.KindValidation, "record %d has empty user_id", i)
		}
		if len(rec.Embedding) == 0 {
			missing = append(missing, i)
		} else if len(rec.Embedding) != dim {
			return 0, memerr.New(memerr.KindConfig,
				"record %d has embedding dimension %d, configured dimension is %d", i, len(rec.Embedding), dim)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = records[idx].Text
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, err
		}
		for i, idx := range missing {
			records[idx].Embedding = vectors[i]
			records[idx].EmbeddingModel = s.embedder.Model()
			records[idx].EmbeddingDimension = dim
		}
	}

	now := s.now()
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.Type == "" {
			rec.Type = models.MemorySemantic
		}
		if rec.Salience == 0 {
			rec.Salience = models.DefaultSalience
		}
		if rec.Confidence == 0 {
			rec.Confidence = models.DefaultConfidence
		}
		if rec.EmbeddingModel == "" {
			rec.EmbeddingModel = s.embedder.Model()
		}
		if rec.EmbeddingDimension == 0 {
			rec.EmbeddingDimension = len(rec.Embedding)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
	}

	err := backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		tx, err := s.pool.DB().Begin(ctx)
		if err != nil {
			return postgres.WrapError(err, "begin insert")
		}
		defer tx.Rollback(ctx)

		for _, rec := range records {
			if err := s.upsertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return postgres.WrapError(err, "commit insert")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug(ctx, "inserted memory records", "count", len(records), "namespace", s.namespace)
	return len(records), nil
}

func (s *Store) upsertRecord(ctx context.Context, tx pgx.Tx, rec *models.MemoryRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO mega_agent.semantic_memories
			(id, namespace, user_id, case_id, thread_id, type, text, source,
			 tags, metadata, embedding, embedding_model, embedding_dimension,
			 salience, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			embedding_model = EXCLUDED.embedding_model,
			embedding_dimension = EXCLUDED.embedding_dimension,
			salience = EXCLUDED.salience,
			confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, s.namespace, rec.UserID, nullable(rec.CaseID), nullable(rec.ThreadID),
		rec.Type, rec.Text, rec.Source, rec.Tags, rec.Metadata,
		embeddingParam(rec.Embedding), rec.EmbeddingModel, rec.EmbeddingDimension,
		rec.Salience, rec.Confidence, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return postgres.WrapError(err, fmt.Sprintf("insert record %s", rec.ID))
	}
	return nil
}

// Search returns up to topK records ordered by cosine similarity to the
// query, descending. Ties break by created_at descending, then id.
func (s *Store) Search(ctx context.Context, query, userID string, topK int, filters *models.SearchFilters) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = 8
	}
	defer s.observe("semantic", "search", s.now())()

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.searchVector(ctx, queryVec, userID, topK, filters)
}

// SearchKnowledgeBase searches shared knowledge-base records with no user
// filter.
func (s *Store) SearchKnowledgeBase(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	return s.Search(ctx, query, "", topK, &models.SearchFilters{Tags: []string{KnowledgeBaseTag}})
}

// SearchCaseDocuments searches records scoped to one case.
func (s *Store) SearchCaseDocuments(ctx context.Context, query, caseID, userID string, topK int) ([]models.SearchResult, error) {
	return s.Search(ctx, query, userID, topK, &models.SearchFilters{CaseID: caseID})
}

// SearchHybrid runs knowledge-base and case-document searches in parallel
// and interleaves them by weighted reciprocal rank fusion. kbWeight is the
// knowledge-base share in [0, 1]; case documents get the remainder.
func (s *Store) SearchHybrid(ctx context.Context, query, caseID, userID string, topK int, kbWeight float64) ([]models.SearchResult, error) {
	if kbWeight < 0 || kbWeight > 1 {
		return nil, memerr.New(memerr.KindConfig, "kbWeight %v outside [0, 1]", kbWeight)
	}
	if topK <= 0 {
		topK = 8
	}
	defer s.observe("semantic", "search_hybrid", s.now())()

	// Embed once; both legs share the vector.
	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	fetch := 2 * topK
	var kbResults, caseResults []models.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		kbResults, err = s.searchVector(gctx, queryVec, "", fetch, &models.SearchFilters{Tags: []string{KnowledgeBaseTag}})
		return err
	})
	g.Go(func() error {
		var err error
		caseResults, err = s.searchVector(gctx, queryVec, userID, fetch, &models.SearchFilters{CaseID: caseID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]models.SearchResult, len(kbResults)+len(caseResults))
	toRanked := func(results []models.SearchResult) []fusion.Ranked {
		ranked := make([]fusion.Ranked, len(results))
		for i, r := range results {
			ranked[i] = fusion.Ranked{ID: r.Record.ID, Score: r.Score}
			if _, ok := byID[r.Record.ID]; !ok {
				byID[r.Record.ID] = r
			}
		}
		return ranked
	}

	fused, err := fusion.Fuse(
		[][]fusion.Ranked{toRanked(kbResults), toRanked(caseResults)},
		[]float64{kbWeight, 1 - kbWeight},
		fusion.DefaultK)
	if err != nil {
		return nil, err
	}

	out := make([]models.SearchResult, 0, topK)
	for _, r := range fused {
		if len(out) == topK {
			break
		}
		hit := byID[r.ID]
		hit.Score = r.Score
		out = append(out, hit)
	}
	return out, nil
}

// searchVector runs the parameterized ANN query. The vector is always bound
// as a query parameter, never interpolated.
func (s *Store) searchVector(ctx context.Context, queryVec []float32, userID string, topK int, filters *models.SearchFilters) ([]models.SearchResult, error) {
	var sb strings.Builder
	args := []any{pgvector.NewVector(queryVec), s.namespace}
	sb.WriteString(`
		SELECT ` + recordColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM mega_agent.semantic_memories
		WHERE namespace = $2 AND embedding IS NOT NULL`)

	addArg := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND "+clause, len(args))
	}
	if userID != "" {
		addArg("user_id = $%d", userID)
	}
	if filters != nil {
		if filters.Type != "" {
			addArg("type = $%d", filters.Type)
		}
		if len(filters.Tags) > 0 {
			addArg("tags @> $%d", filters.Tags)
		}
		if filters.Source != "" {
			addArg("source = $%d", filters.Source)
		}
		if filters.CaseID != "" {
			addArg("case_id = $%d", filters.CaseID)
		}
	}
	args = append(args, topK)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1, created_at DESC, id LIMIT $%d", len(args))

	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) ([]models.SearchResult, error) {
		rows, err := s.pool.DB().Query(ctx, sb.String(), args...)
		if err != nil {
			return nil, postgres.WrapError(err, "similarity search")
		}
		defer rows.Close()

		var results []models.SearchResult
		for rows.Next() {
			rec, similarity, err := scanResult(rows)
			if err != nil {
				return nil, err
			}
			results = append(results, models.SearchResult{Record: rec, Score: clamp01(similarity)})
		}
		if err := rows.Err(); err != nil {
			return nil, postgres.WrapError(err, "similarity search rows")
		}
		return results, nil
	})
}

// List enumerates records, optionally restricted to one user, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]*models.MemoryRecord, error) {
	defer s.observe("semantic", "list", s.now())()

	var sb strings.Builder
	args := []any{s.namespace}
	sb.WriteString(`
		SELECT ` + recordColumns + `
		FROM mega_agent.semantic_memories
		WHERE namespace = $1`)
	if userID != "" {
		args = append(args, userID)
		fmt.Fprintf(&sb, " AND user_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC, id")

	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) ([]*models.MemoryRecord, error) {
		rows, err := s.pool.DB().Query(ctx, sb.String(), args...)
		if err != nil {
			return nil, postgres.WrapError(err, "list records")
		}
		defer rows.Close()

		var out []*models.MemoryRecord
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return nil, postgres.WrapError(err, "list rows")
		}
		return out, nil
	})
}

// ListByThread returns every record tied to one thread, newest first.
func (s *Store) ListByThread(ctx context.Context, threadID string) ([]*models.MemoryRecord, error) {
	defer s.observe("semantic", "list_by_thread", s.now())()

	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) ([]*models.MemoryRecord, error) {
		rows, err := s.pool.DB().Query(ctx, `
			SELECT `+recordColumns+`
			FROM mega_agent.semantic_memories
			WHERE namespace = $1 AND thread_id = $2
			ORDER BY created_at DESC, id`,
			s.namespace, threadID)
		if err != nil {
			return nil, postgres.WrapError(err, "list thread records")
		}
		defer rows.Close()

		var out []*models.MemoryRecord
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return nil, postgres.WrapError(err, "list thread rows")
		}
		return out, nil
	})
}

// Count returns the number of records in this namespace.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) (int64, error) {
		var n int64
		err := s.pool.DB().QueryRow(ctx,
			`SELECT count(*) FROM mega_agent.semantic_memories WHERE namespace = $1`,
			s.namespace).Scan(&n)
		if err != nil {
			return 0, postgres.WrapError(err, "count records")
		}
		return n, nil
	})
}

// DeleteByUser removes every record owned by userID. Returns rows deleted.
func (s *Store) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, memerr.New(memerr.KindValidation, "empty user_id")
	}
	defer s.observe("semantic", "delete_by_user", s.now())()

	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) (int64, error) {
		tag, err := s.pool.DB().Exec(ctx,
			`DELETE FROM mega_agent.semantic_memories WHERE namespace = $1 AND user_id = $2`,
			s.namespace, userID)
		if err != nil {
			return 0, postgres.WrapError(err, "delete by user")
		}
		return tag.RowsAffected(), nil
	})
}

// DeleteByID removes one record.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	return backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		_, err := s.pool.DB().Exec(ctx,
			`DELETE FROM mega_agent.semantic_memories WHERE namespace = $1 AND id = $2`,
			s.namespace, id)
		return postgres.WrapError(err, "delete record")
	})
}

// ReplaceCluster writes a merged record and deletes the records it absorbed,
// atomically. Consolidation uses this so a failed merge leaves the store
// unchanged.
func (s *Store) ReplaceCluster(ctx context.Context, merged *models.MemoryRecord, removeIDs []string) error {
	return backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		tx, err := s.pool.DB().Begin(ctx)
		if err != nil {
			return postgres.WrapError(err, "begin cluster merge")
		}
		defer tx.Rollback(ctx)

		if len(removeIDs) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM mega_agent.semantic_memories WHERE namespace = $1 AND id = ANY($2)`,
				s.namespace, removeIDs); err != nil {
				return postgres.WrapError(err, "delete merged records")
			}
		}
		if err := s.upsertRecord(ctx, tx, merged); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return postgres.WrapError(err, "commit cluster merge")
		}
		return nil
	})
}

// UpdateSaliences applies new salience values in one statement.
func (s *Store) UpdateSaliences(ctx context.Context, updates map[string]float64) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, 0, len(updates))
	values := make([]float64, 0, len(updates))
	for id, v := range updates {
		ids = append(ids, id)
		values = append(values, v)
	}
	return backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		_, err := s.pool.DB().Exec(ctx, `
			UPDATE mega_agent.semantic_memories AS m
			SET salience = u.salience, updated_at = now()
			FROM unnest($2::text[], $3::float8[]) AS u(id, salience)
			WHERE m.namespace = $1 AND m.id = u.id`,
			s.namespace, ids, values)
		return postgres.WrapError(err, "update saliences")
	})
}

// Stats reports namespace-level aggregates for diagnostics.
func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	var total, embedded int64
	var users int64
	err := s.pool.DB().QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE embedding IS NOT NULL),
		       count(DISTINCT user_id)
		FROM mega_agent.semantic_memories WHERE namespace = $1`,
		s.namespace).Scan(&total, &embedded, &users)
	if err != nil {
		return nil, postgres.WrapError(err, "store stats")
	}
	return map[string]any{
		"namespace": s.namespace,
		"total":     total,
		"embedded":  embedded,
		"users":     users,
	}, nil
}

// HealthCheck verifies database reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Health(ctx)
}

func (s *Store) observe(store, op string, start time.Time) func() {
	return func() {
		if s.metrics != nil {
			s.metrics.StoreOpDuration.WithLabelValues(store, op).Observe(time.Since(start).Seconds())
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func embeddingParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// scanRecord reads one row laid out as recordColumns.
func scanRecord(rows pgx.Rows) (*models.MemoryRecord, error) {
	rec := &models.MemoryRecord{}
	var caseID, threadID *string
	var emb *pgvector.Vector
	if err := rows.Scan(&rec.ID, &rec.UserID, &caseID, &threadID, &rec.Type, &rec.Text,
		&rec.Source, &rec.Tags, &rec.Metadata, &emb, &rec.EmbeddingModel,
		&rec.EmbeddingDimension, &rec.Salience, &rec.Confidence,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, postgres.WrapError(err, "scan record")
	}
	if caseID != nil {
		rec.CaseID = *caseID
	}
	if threadID != nil {
		rec.ThreadID = *threadID
	}
	if emb != nil {
		rec.Embedding = emb.Slice()
	}
	return rec, nil
}

// scanResult reads recordColumns plus a trailing similarity column.
func scanResult(rows pgx.Rows) (*models.MemoryRecord, float64, error) {
	rec := &models.MemoryRecord{}
	var caseID, threadID *string
	var emb *pgvector.Vector
	var similarity float64
	if err := rows.Scan(&rec.ID, &rec.UserID, &caseID, &threadID, &rec.Type, &rec.Text,
		&rec.Source, &rec.Tags, &rec.Metadata, &emb, &rec.EmbeddingModel,
		&rec.EmbeddingDimension, &rec.Salience, &rec.Confidence,
		&rec.CreatedAt, &rec.UpdatedAt, &similarity); err != nil {
		return nil, 0, postgres.WrapError(err, "scan search result")
	}
	if caseID != nil {
		rec.CaseID = *caseID
	}
	if threadID != nil {
		rec.ThreadID = *threadID
	}
	if emb != nil {
		rec.Embedding = emb.Slice()
	}
	return rec, similarity, nil
}
