package chunker

import (
	"strings"

	"github.com/megaagent/memcore/pkg/models"
)

// DefaultSeparators is the recursion hierarchy, largest semantic unit first.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Recursive splits on an ordered separator list: split on the first
// separator, recurse into any piece still larger than ChunkSize while more
// separators remain, then greedily combine adjacent pieces with Overlap
// bytes carried between chunks.
type Recursive struct {
	cfg        Config
	separators []string
}

// NewRecursive creates a recursive splitter with DefaultSeparators.
func NewRecursive(cfg Config) *Recursive {
	cfg.fill()
	return &Recursive{cfg: cfg, separators: DefaultSeparators}
}

// WithSeparators replaces the separator hierarchy.
func (r *Recursive) WithSeparators(seps []string) *Recursive {
	r.separators = seps
	return r
}

func (r *Recursive) Name() string { return "recursive" }

func (r *Recursive) Chunk(documentID, content string) ([]*models.DocumentChunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	pieces := r.split(content, 0, r.separators)
	combined := r.combine(pieces)

	chunks := make([]*models.DocumentChunk, 0, len(combined))
	for i, sp := range combined {
		start := sp.start
		if i > 0 && r.cfg.Overlap > 0 {
			start = runeFloor(content, max(0, start-r.cfg.Overlap))
		}
		text := content[start:sp.end]
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, makeChunk(documentID, len(chunks), text, start, sp.end))
	}
	return chunks, nil
}

// split returns spans no larger than ChunkSize where the separator
// hierarchy allows, preserving source order. base is the byte offset of
// text within the original content.
func (r *Recursive) split(text string, base int, seps []string) []span {
	if text == "" {
		return nil
	}
	if len(seps) == 0 || len(text) <= r.cfg.ChunkSize {
		return []span{{base, base + len(text)}}
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return r.split(text, base, seps[1:])
	}

	var out []span
	offset := 0
	for i, part := range parts {
		if part != "" {
			if len(part) > r.cfg.ChunkSize && len(seps) > 1 {
				out = append(out, r.split(part, base+offset, seps[1:])...)
			} else {
				out = append(out, span{base + offset, base + offset + len(part)})
			}
		}
		offset += len(part)
		if i < len(parts)-1 {
			offset += len(sep)
		}
	}
	return out
}

// combine greedily merges adjacent spans while the merged span stays within
// ChunkSize.
func (r *Recursive) combine(pieces []span) []span {
	var out []span
	for _, p := range pieces {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if p.end-last.start <= r.cfg.ChunkSize {
				last.end = p.end
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
