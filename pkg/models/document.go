package models

import (
	"fmt"
	"time"
)

// Document represents an input file handed to the ingestion pipeline.
// Documents are parsed, chunked, tagged, and converted into MemoryRecords;
// the document row itself records provenance only.
type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserID   string `json:"user_id"`
	CaseID   string `json:"case_id,omitempty"`
	Source   string `json:"source,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	// Format is the detected document format: "markdown", "html", "txt", ...
	Format    string            `json:"format,omitempty"`
	SizeBytes int64             `json:"size_bytes"`
	PageCount int               `json:"page_count,omitempty"`
	Metadata  *DocumentMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// DocumentMetadata carries parser-extracted and caller-supplied metadata.
type DocumentMetadata struct {
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	Description string         `json:"description,omitempty"`
	Language    string         `json:"language,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// DocumentChunk is a contiguous sub-range of a parsed document. Chunks are
// transient pipeline values: the ingestion pipeline owns them until they are
// converted to MemoryRecords, and they are never persisted as an entity.
type DocumentChunk struct {
	// ChunkID is derived from the document id and chunk index.
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Content    string `json:"content"`
	// StartPos and EndPos are character offsets into the parsed document.
	StartPos int            `json:"start_pos"`
	EndPos   int            `json:"end_pos"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChunkID derives the stable chunk identifier for a document and index.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

// IngestionResult summarizes one document ingestion.
type IngestionResult struct {
	DocumentID     string         `json:"document_id"`
	FileName       string         `json:"file_name"`
	PageCount      int            `json:"page_count,omitempty"`
	ChunksCount    int            `json:"chunks_count"`
	RecordsCreated int            `json:"records_created"`
	DetectedTags   []string       `json:"detected_tags"`
	TagCounts      map[string]int `json:"tag_counts,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
}

// RetrievalResult is a ranked retrieval hit identified by document (or
// record) id. Metadata, when present, is carried from the originating
// ranking with stable first-occurrence semantics.
type RetrievalResult struct {
	DocID    string         `json:"doc_id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
