// Package chunker splits parsed documents into retrievable chunks. Four
// strategies are available: fixed-size, semantic (paragraph-aware),
// recursive (separator hierarchy), and contextual (sentence-window
// expansion around a base strategy).
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/megaagent/memcore/pkg/models"
)

// Chunker splits document content into chunks.
type Chunker interface {
	// Chunk splits content into ordered chunks. StartPos and EndPos are
	// byte offsets into content, always on rune boundaries.
	Chunk(documentID, content string) ([]*models.DocumentChunk, error)

	// Name identifies the strategy for logging and metrics.
	Name() string
}

// Config holds the knobs shared by all strategies.
type Config struct {
	// ChunkSize is the target chunk length in bytes (default 1000).
	ChunkSize int

	// Overlap is the number of bytes repeated between consecutive fixed or
	// recursive chunks (default 200).
	Overlap int

	// MinChunkSize is the smallest chunk the semantic strategy will emit
	// before closing it at a paragraph boundary (default 100).
	MinChunkSize int

	// ContextSentences is how many sentences the contextual strategy adds
	// on each side of a base chunk (default 2).
	ContextSentences int
}

// DefaultConfig returns the shared defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        1000,
		Overlap:          200,
		MinChunkSize:     100,
		ContextSentences: 2,
	}
}

func (c *Config) fill() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.Overlap < 0 {
		c.Overlap = 200
	}
	if c.Overlap >= c.ChunkSize {
		c.Overlap = c.ChunkSize / 5
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 100
	}
	if c.ContextSentences <= 0 {
		c.ContextSentences = 2
	}
}

// New returns the named strategy: "fixed", "semantic", "recursive", or
// "contextual" (contextual wraps semantic). Unknown names fall back to
// semantic.
func New(strategy string, cfg Config) Chunker {
	switch strategy {
	case "fixed":
		return NewFixed(cfg)
	case "recursive":
		return NewRecursive(cfg)
	case "contextual":
		return NewContextual(NewSemantic(cfg), cfg)
	default:
		return NewSemantic(cfg)
	}
}

// span is a byte range within the source content.
type span struct {
	start, end int
}

func makeChunk(documentID string, index int, content string, start, end int) *models.DocumentChunk {
	return &models.DocumentChunk{
		ChunkID:    models.ChunkID(documentID, index),
		DocumentID: documentID,
		Index:      index,
		Content:    content,
		StartPos:   start,
		EndPos:     end,
	}
}

// Fixed emits ChunkSize-byte windows stepping by ChunkSize-Overlap,
// snapped to rune boundaries.
type Fixed struct {
	cfg Config
}

// NewFixed creates a fixed-size chunker.
func NewFixed(cfg Config) *Fixed {
	cfg.fill()
	return &Fixed{cfg: cfg}
}

func (f *Fixed) Name() string { return "fixed" }

func (f *Fixed) Chunk(documentID, content string) ([]*models.DocumentChunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	step := f.cfg.ChunkSize - f.cfg.Overlap
	var chunks []*models.DocumentChunk
	for start := 0; start < len(content); start += step {
		start = runeFloor(content, start)
		end := runeFloor(content, start+f.cfg.ChunkSize)
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, makeChunk(documentID, len(chunks), content[start:end], start, end))
		if end == len(content) {
			break
		}
	}
	return chunks, nil
}

// runeFloor snaps a byte offset down to the nearest rune boundary.
func runeFloor(s string, i int) int {
	if i >= len(s) {
		return i
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// Semantic accumulates whole paragraphs (double-newline boundaries) until
// adding another would exceed ChunkSize and the chunk already holds at least
// MinChunkSize bytes. Paragraph boundaries are never split.
type Semantic struct {
	cfg Config
}

// NewSemantic creates a paragraph-aware chunker.
func NewSemantic(cfg Config) *Semantic {
	cfg.fill()
	return &Semantic{cfg: cfg}
}

func (s *Semantic) Name() string { return "semantic" }

func (s *Semantic) Chunk(documentID, content string) ([]*models.DocumentChunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	paragraphs := splitParagraphs(content)
	var chunks []*models.DocumentChunk
	var cur span
	open := false

	flush := func() {
		if !open {
			return
		}
		text := content[cur.start:cur.end]
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, makeChunk(documentID, len(chunks), text, cur.start, cur.end))
		}
		open = false
	}

	for _, p := range paragraphs {
		if !open {
			cur = p
			open = true
			continue
		}
		accumulated := cur.end - cur.start
		added := p.end - cur.start
		if added > s.cfg.ChunkSize && accumulated >= s.cfg.MinChunkSize {
			flush()
			cur = p
			open = true
			continue
		}
		cur.end = p.end
	}
	flush()
	return chunks, nil
}

// splitParagraphs returns the byte spans of non-empty paragraphs, where
// paragraphs are separated by blank lines.
func splitParagraphs(content string) []span {
	var spans []span
	offset := 0
	for _, part := range strings.Split(content, "\n\n") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			lead := strings.Index(part, trimmed)
			spans = append(spans, span{offset + lead, offset + lead + len(trimmed)})
		}
		offset += len(part) + 2
	}
	return spans
}
