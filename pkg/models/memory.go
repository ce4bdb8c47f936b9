// Package models defines the core data types for the memcore memory and
// retrieval subsystem.
package models

import (
	"strings"
	"time"
)

// MemoryType classifies a semantic memory record.
type MemoryType string

const (
	// MemorySemantic is a long-lived fact retrievable by meaning.
	MemorySemantic MemoryType = "semantic"
	// MemoryEpisodic is a record reflected from the episodic timeline.
	MemoryEpisodic MemoryType = "episodic"
	// MemoryPersona captures durable persona traits.
	MemoryPersona MemoryType = "persona"
	// MemoryOpenLoop tracks an unresolved task or commitment.
	MemoryOpenLoop MemoryType = "open_loop"
)

// Default importance scores assigned to new records when the caller does not
// provide them.
const (
	DefaultSalience   = 0.7
	DefaultConfidence = 0.6
)

// MemoryRecord is a content-addressed fact stored in semantic memory.
// Text is the canonical retrievable unit; the embedding, when present, must
// have the system-wide configured dimension and carry the model that
// produced it.
type MemoryRecord struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	CaseID   string `json:"case_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`

	Type MemoryType `json:"type"`
	Text string     `json:"text"`

	// Embedding is not serialized to JSON; it lives in the vector column.
	Embedding          []float32 `json:"-"`
	EmbeddingModel     string    `json:"embedding_model,omitempty"`
	EmbeddingDimension int       `json:"embedding_dimension,omitempty"`

	Salience   float64 `json:"salience"`
	Confidence float64 `json:"confidence"`

	Source   string         `json:"source,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the record carries the given tag (case-insensitive).
func (r *MemoryRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present, preserving first-occurrence
// order.
func (r *MemoryRecord) AddTag(tag string) {
	if tag == "" || r.HasTag(tag) {
		return
	}
	r.Tags = append(r.Tags, tag)
}

// SearchResult pairs a retrieved record with its similarity score.
type SearchResult struct {
	Record *MemoryRecord `json:"record"`
	// Score is cosine similarity clamped to [0, 1] for vector search, or a
	// fused rank score for hybrid search.
	Score float64 `json:"score"`
}

// SearchFilters narrows a semantic search. Zero values mean "no filter";
// the store always applies its configured namespace on top.
type SearchFilters struct {
	// Type requires an exact match on the record type.
	Type MemoryType
	// Tags requires the record's tag set to contain every listed tag.
	Tags []string
	// Source requires an exact match on provenance.
	Source string
	// CaseID scopes results to one case.
	CaseID string
}

// GlobalThread is the thread key used when an audit event carries none.
const GlobalThread = "global"

// AuditEvent is one append-only entry in the episodic timeline. Events are
// never rewritten after creation.
type AuditEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	ThreadID  string    `json:"thread_id"`

	// Source names the component that emitted the event, e.g. "workflow_node".
	Source string `json:"source"`
	// Action describes what happened.
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
}

// HasTag reports whether the event carries the given tag (case-insensitive).
func (e *AuditEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// EpisodicQuery filters the episodic timeline. Zero values mean "no filter".
type EpisodicQuery struct {
	ThreadID string
	UserID   string
	// Tags matches events whose tag set intersects this set, case-insensitive.
	Tags  []string
	Since time.Time
	Until time.Time
	// Limit > 0 trims the chronological result from the tail, keeping the
	// latest entries.
	Limit int
}

// Recognized working-memory slot names. Unknown slots are preserved as-is.
const (
	SlotPersona       = "persona"
	SlotLongTermFacts = "long_term_facts"
	SlotOpenLoops     = "open_loops"
	SlotRecentSummary = "recent_summary"
)

// RMTBuffer is the per-thread working-memory slot set. Each write replaces
// the full slot map; there is no partial patching at the storage layer.
type RMTBuffer struct {
	ThreadID  string            `json:"thread_id"`
	Slots     map[string]string `json:"slots"`
	UpdatedAt time.Time         `json:"updated_at"`
	// ExpiresAt, when set, makes the buffer eligible for the TTL sweep.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate store-internal state.
func (b *RMTBuffer) Clone() *RMTBuffer {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Slots = make(map[string]string, len(b.Slots))
	for k, v := range b.Slots {
		cp.Slots[k] = v
	}
	if b.ExpiresAt != nil {
		t := *b.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// ContextBundle is the composed view returned by the memory hierarchy for a
// single thread: retrieval hits, the recent episodic window, any record
// reflected from the newest event, and the current working-memory slots.
type ContextBundle struct {
	Reflected      []*MemoryRecord   `json:"reflected"`
	Retrieved      []*SearchResult   `json:"retrieved"`
	EpisodicEvents []*AuditEvent     `json:"episodic_events"`
	RMTSlots       map[string]string `json:"rmt_slots"`
}

// ThreadSnapshot is an admin view of everything the stores hold for one
// thread.
type ThreadSnapshot struct {
	ThreadID string          `json:"thread_id"`
	Events   []*AuditEvent   `json:"events"`
	Buffer   *RMTBuffer      `json:"buffer,omitempty"`
	Records  []*MemoryRecord `json:"records,omitempty"`
}

// ConsolidationResult summarizes one consolidation run over semantic memory.
type ConsolidationResult struct {
	TotalBefore  int `json:"total_before"`
	TotalAfter   int `json:"total_after"`
	Deduplicated int `json:"deduplicated"`
	Decayed      int `json:"decayed"`
	Merged       int `json:"merged"`
	Compressed   int `json:"compressed"`
	Clusters     int `json:"clusters"`
}

// Health reports per-store availability. Health checks never error; an
// unreachable store is reported as false.
type Health struct {
	Semantic bool `json:"semantic"`
	Episodic bool `json:"episodic"`
	Working  bool `json:"working"`
}

// OK reports whether every store answered.
func (h Health) OK() bool {
	return h.Semantic && h.Episodic && h.Working
}
