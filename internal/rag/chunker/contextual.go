package chunker

import (
	"regexp"

	"github.com/megaagent/memcore/pkg/models"
)

// sentenceEndRe marks sentence boundaries: terminal punctuation followed by
// whitespace. The trailing sentence without punctuation still counts.
var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

// Contextual wraps a base strategy and widens each chunk's content with
// surrounding sentences. ChunkID, StartPos, and EndPos stay those of the
// base chunk so offsets still address the un-expanded range.
type Contextual struct {
	base Chunker
	cfg  Config
}

// NewContextual wraps base with sentence-window expansion.
func NewContextual(base Chunker, cfg Config) *Contextual {
	cfg.fill()
	return &Contextual{base: base, cfg: cfg}
}

func (c *Contextual) Name() string { return "contextual_" + c.base.Name() }

func (c *Contextual) Chunk(documentID, content string) ([]*models.DocumentChunk, error) {
	chunks, err := c.base.Chunk(documentID, content)
	if err != nil || len(chunks) == 0 {
		return chunks, err
	}

	sentences := sentenceSpans(content)
	for _, chunk := range chunks {
		first, last := -1, -1
		for i, s := range sentences {
			if s.end > chunk.StartPos && s.start < chunk.EndPos {
				if first == -1 {
					first = i
				}
				last = i
			}
		}
		if first == -1 {
			continue
		}

		lo := first - c.cfg.ContextSentences
		if lo < 0 {
			lo = 0
		}
		hi := last + c.cfg.ContextSentences
		if hi >= len(sentences) {
			hi = len(sentences) - 1
		}
		chunk.Content = content[sentences[lo].start:sentences[hi].end]
	}
	return chunks, nil
}

// sentenceSpans returns the byte spans of each sentence, including the final
// trailing sentence without terminal punctuation.
func sentenceSpans(content string) []span {
	var spans []span
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(content, -1) {
		spans = append(spans, span{start, loc[1]})
		start = loc[1]
	}
	if start < len(content) {
		spans = append(spans, span{start, len(content)})
	}
	return spans
}
