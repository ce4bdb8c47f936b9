// Package consolidate compacts semantic memory: time-decays salience,
// collapses near-duplicate records by cosine similarity, and caps per-user
// memory counts.
package consolidate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/megaagent/memcore/internal/embeddings"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

// DefaultDeadline bounds one consolidation run.
const DefaultDeadline = 15 * time.Minute

// mergedIDHashLen is how many hex characters of the text hash go into a
// merged record's id.
const mergedIDHashLen = 12

// SemanticStore is the slice of the semantic store consolidation needs.
type SemanticStore interface {
	List(ctx context.Context, userID string) ([]*models.MemoryRecord, error)
	UpdateSaliences(ctx context.Context, updates map[string]float64) error
	ReplaceCluster(ctx context.Context, merged *models.MemoryRecord, removeIDs []string) error
}

// Summarizer condenses a batch of texts into one. Compression requires one:
// records pruned by the per-user cap are folded into a summary record, never
// dropped outright.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// Config tunes one consolidation engine.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity for two records
	// to land in the same cluster.
	SimilarityThreshold float64
	// UseSemanticDedup enables embedding-based clustering. Exact-text
	// duplicates are collapsed regardless.
	UseSemanticDedup bool

	EnableDecay       bool
	DecayHalfLifeDays float64
	// MinImportance floors both the decay factor and the resulting salience.
	MinImportance float64

	// CompressionThreshold gates the per-user cap: users at or under it are
	// never compressed. Zero disables compression entirely. Compression also
	// requires a Summarizer; without one the cap is not enforced.
	CompressionThreshold int
	// MaxMemoriesPerUser is how many records a user keeps after compression.
	MaxMemoriesPerUser int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:  0.92,
		UseSemanticDedup:     true,
		EnableDecay:          true,
		DecayHalfLifeDays:    30,
		MinImportance:        0.1,
		CompressionThreshold: 50,
		MaxMemoriesPerUser:   10000,
	}
}

// Engine runs consolidation passes over a semantic store.
type Engine struct {
	store      SemanticStore
	summarizer Summarizer
	cfg        Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSummarizer enables the compression step; overflow beyond the per-user
// cap is folded into summary records.
func WithSummarizer(s Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithMetrics attaches consolidation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a consolidation engine.
func New(store SemanticStore, cfg Config, logger *observability.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decay returns the multiplicative decay factor for a record of the given
// age, floored at minImportance. Half-life is in days.
func Decay(age time.Duration, halfLifeDays, minImportance float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	ageDays := age.Hours() / 24
	factor := math.Pow(0.5, ageDays/halfLifeDays)
	return math.Max(minImportance, factor)
}

// MergedID derives the deterministic id of a record merged on the given
// base text.
func MergedID(baseText string) string {
	sum := md5.Sum([]byte(baseText))
	return "merged_" + hex.EncodeToString(sum[:])[:mergedIDHashLen]
}

// Run consolidates one user's records, or the whole namespace when userID is
// empty. Each cluster merge is atomic; a failed merge leaves the store
// unchanged and aborts the run.
func (e *Engine) Run(ctx context.Context, userID string) (*models.ConsolidationResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDeadline)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "consolidate.run",
		attribute.String("user_id", userID))
	start := e.now()

	result, err := e.run(ctx, userID)
	observability.EndSpan(span, err)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.ConsolidationRuns.WithLabelValues(status).Inc()
		if result != nil {
			e.metrics.ConsolidationMerged.Add(float64(result.Deduplicated))
		}
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "consolidation complete",
		"user_id", userID,
		"before", result.TotalBefore,
		"after", result.TotalAfter,
		"clusters", result.Clusters,
		"decayed", result.Decayed,
		"compressed", result.Compressed,
		"took", time.Since(start))
	return result, nil
}

func (e *Engine) run(ctx context.Context, userID string) (*models.ConsolidationResult, error) {
	records, err := e.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &models.ConsolidationResult{TotalBefore: len(records)}
	if len(records) == 0 {
		result.TotalAfter = 0
		return result, nil
	}

	if e.cfg.EnableDecay {
		if err := e.applyDecay(ctx, records, result); err != nil {
			return nil, err
		}
	}

	remaining, err := e.mergeClusters(ctx, records, result)
	if err != nil {
		return nil, err
	}

	remaining, err = e.compress(ctx, remaining, result)
	if err != nil {
		return nil, err
	}

	result.TotalAfter = len(remaining)
	return result, nil
}

func (e *Engine) applyDecay(ctx context.Context, records []*models.MemoryRecord, result *models.ConsolidationResult) error {
	now := e.now()
	updates := make(map[string]float64)
	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			continue
		}
		factor := Decay(now.Sub(rec.CreatedAt), e.cfg.DecayHalfLifeDays, e.cfg.MinImportance)
		decayed := math.Max(e.cfg.MinImportance, rec.Salience*factor)
		if math.Abs(decayed-rec.Salience) < 1e-9 {
			continue
		}
		rec.Salience = decayed
		updates[rec.ID] = decayed
	}
	if len(updates) == 0 {
		return nil
	}
	if err := e.store.UpdateSaliences(ctx, updates); err != nil {
		return err
	}
	result.Decayed = len(updates)
	return nil
}

// mergeClusters collapses similar records and returns the surviving set.
func (e *Engine) mergeClusters(ctx context.Context, records []*models.MemoryRecord, result *models.ConsolidationResult) ([]*models.MemoryRecord, error) {
	clusters := e.cluster(records)

	var remaining []*models.MemoryRecord
	for _, cluster := range clusters {
		if len(cluster) == 1 {
			remaining = append(remaining, cluster[0])
			continue
		}

		merged := e.merge(cluster)
		removeIDs := make([]string, len(cluster))
		for i, rec := range cluster {
			removeIDs[i] = rec.ID
		}
		if err := e.store.ReplaceCluster(ctx, merged, removeIDs); err != nil {
			return nil, memerr.Wrap(memerr.KindStore, err, "merge cluster")
		}

		result.Clusters++
		result.Merged++
		result.Deduplicated += len(cluster) - 1
		remaining = append(remaining, merged)
	}
	return remaining, nil
}

// cluster groups records greedily: each unassigned record seeds a cluster
// and absorbs every later record within the similarity threshold. Records
// without embeddings cluster only on exact (user, type, text) identity.
func (e *Engine) cluster(records []*models.MemoryRecord) [][]*models.MemoryRecord {
	assigned := make([]bool, len(records))
	var clusters [][]*models.MemoryRecord

	for i, seed := range records {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []*models.MemoryRecord{seed}

		for j := i + 1; j < len(records); j++ {
			if assigned[j] {
				continue
			}
			if e.sameRecord(seed, records[j]) {
				assigned[j] = true
				cluster = append(cluster, records[j])
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func (e *Engine) sameRecord(a, b *models.MemoryRecord) bool {
	if a.UserID != b.UserID {
		return false
	}
	if a.Type == b.Type && a.Text == b.Text {
		return true
	}
	if !e.cfg.UseSemanticDedup || len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return false
	}
	return embeddings.CosineSimilarity(a.Embedding, b.Embedding) >= e.cfg.SimilarityThreshold
}

// merge folds a cluster into one record. The highest-salience member (newest
// on ties) supplies text, embedding, and base metadata.
func (e *Engine) merge(cluster []*models.MemoryRecord) *models.MemoryRecord {
	sorted := make([]*models.MemoryRecord, len(cluster))
	copy(sorted, cluster)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Salience != sorted[b].Salience {
			return sorted[a].Salience > sorted[b].Salience
		}
		return sorted[a].CreatedAt.After(sorted[b].CreatedAt)
	})
	base := sorted[0]

	merged := *base
	merged.ID = MergedID(base.Text)
	merged.UpdatedAt = e.now()

	mergedFrom := make([]string, len(sorted))
	for i, rec := range sorted {
		mergedFrom[i] = rec.ID
	}
	merged.Metadata = make(map[string]any, len(base.Metadata)+2)
	for k, v := range base.Metadata {
		merged.Metadata[k] = v
	}
	merged.Metadata["merged_from"] = mergedFrom
	merged.Metadata["merge_count"] = len(sorted)

	merged.Tags = append([]string(nil), base.Tags...)
	for _, rec := range sorted[1:] {
		for _, tag := range rec.Tags {
			merged.AddTag(tag)
		}
	}

	var confSum float64
	var confN int
	for _, rec := range sorted {
		if rec.Confidence > 0 {
			confSum += rec.Confidence
			confN++
		}
	}
	if confN > 0 {
		merged.Confidence = confSum / float64(confN)
	}
	return &merged
}

// compress enforces the per-user cap: overflow beyond MaxMemoriesPerUser is
// folded, lowest-salience-first, into one summary record per user. Without a
// summarizer the step is skipped and nothing is removed.
func (e *Engine) compress(ctx context.Context, records []*models.MemoryRecord, result *models.ConsolidationResult) ([]*models.MemoryRecord, error) {
	if e.summarizer == nil || e.cfg.CompressionThreshold <= 0 || e.cfg.MaxMemoriesPerUser <= 0 {
		return records, nil
	}

	byUser := make(map[string][]*models.MemoryRecord)
	order := make([]string, 0)
	for _, rec := range records {
		if _, ok := byUser[rec.UserID]; !ok {
			order = append(order, rec.UserID)
		}
		byUser[rec.UserID] = append(byUser[rec.UserID], rec)
	}

	var remaining []*models.MemoryRecord
	for _, user := range order {
		recs := byUser[user]
		if len(recs) <= e.cfg.CompressionThreshold || len(recs) <= e.cfg.MaxMemoriesPerUser {
			remaining = append(remaining, recs...)
			continue
		}

		sort.SliceStable(recs, func(a, b int) bool {
			if recs[a].Salience != recs[b].Salience {
				return recs[a].Salience > recs[b].Salience
			}
			return recs[a].CreatedAt.After(recs[b].CreatedAt)
		})
		keep, drop := recs[:e.cfg.MaxMemoriesPerUser], recs[e.cfg.MaxMemoriesPerUser:]

		summary, err := e.summarizeOverflow(ctx, user, drop)
		if err != nil {
			return nil, err
		}
		keep = append(keep, summary)
		result.Compressed += len(drop)
		remaining = append(remaining, keep...)
	}
	return remaining, nil
}

func (e *Engine) summarizeOverflow(ctx context.Context, userID string, drop []*models.MemoryRecord) (*models.MemoryRecord, error) {
	texts := make([]string, len(drop))
	dropIDs := make([]string, len(drop))
	for i, rec := range drop {
		texts[i] = rec.Text
		dropIDs[i] = rec.ID
	}
	text, err := e.summarizer.Summarize(ctx, texts)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStore, err, "summarize overflow")
	}

	now := e.now()
	summary := &models.MemoryRecord{
		ID:         MergedID(text),
		UserID:     userID,
		Type:       models.MemorySemantic,
		Text:       text,
		Salience:   models.DefaultSalience,
		Confidence: models.DefaultConfidence,
		Source:     "consolidation",
		Metadata: map[string]any{
			"merged_from": dropIDs,
			"merge_count": len(drop),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.ReplaceCluster(ctx, summary, dropIDs); err != nil {
		return nil, memerr.Wrap(memerr.KindStore, err, "replace overflow")
	}
	return summary, nil
}
