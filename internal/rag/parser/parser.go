// Package parser converts input documents into Markdown-like plain text for
// the ingestion pipeline.
package parser

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/pkg/models"
)

// Parser extracts text content and metadata from one document format.
type Parser interface {
	// Parse extracts content from raw document bytes. The returned format
	// names the source format, not the output (output is always plain text).
	Parse(ctx context.Context, data []byte, filename string) (*ParseResult, error)

	// Name identifies the parser for logging.
	Name() string

	// SupportedTypes lists the MIME types this parser handles.
	SupportedTypes() []string

	// SupportedExtensions lists the file extensions this parser handles.
	SupportedExtensions() []string
}

// ParseResult is the output of a parse operation.
type ParseResult struct {
	Content   string
	Format    string
	PageCount int
	Metadata  *models.DocumentMetadata
}

// Registry routes documents to parsers by MIME type or file extension.
type Registry struct {
	mu            sync.RWMutex
	parsersByType map[string]Parser
	parsersByExt  map[string]Parser
	defaultParser Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsersByType: make(map[string]Parser),
		parsersByExt:  make(map[string]Parser),
	}
}

// NewDefaultRegistry creates a registry with the built-in parsers: plain
// text (also the fallback), Markdown, and HTML. Other formats (PDF, DOCX)
// are handled by external parsers registered via Register.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	text := NewTextParser()
	r.Register(text)
	r.Register(NewMarkdownParser())
	r.Register(NewHTMLParser())
	r.SetDefault(text)
	return r
}

// Register adds a parser for all its supported types and extensions.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mimeType := range p.SupportedTypes() {
		r.parsersByType[strings.ToLower(mimeType)] = p
	}
	for _, ext := range p.SupportedExtensions() {
		r.parsersByExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = p
	}
}

// SetDefault sets the fallback parser for unmatched documents.
func (r *Registry) SetDefault(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultParser = p
}

// Get returns the best parser for a content type and extension: content type
// first, then extension, then the default.
func (r *Registry) Get(contentType, ext string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if contentType != "" {
		if idx := strings.Index(contentType, ";"); idx != -1 {
			contentType = strings.TrimSpace(contentType[:idx])
		}
		if p, ok := r.parsersByType[strings.ToLower(contentType)]; ok {
			return p, nil
		}
	}
	if ext != "" {
		if p, ok := r.parsersByExt[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
			return p, nil
		}
	}
	if r.defaultParser != nil {
		return r.defaultParser, nil
	}
	return nil, memerr.New(memerr.KindValidation,
		"no parser for content type %q, extension %q", contentType, ext)
}

// Parse routes to the right parser by filename extension.
func (r *Registry) Parse(ctx context.Context, data []byte, filename string) (*ParseResult, error) {
	p, err := r.Get("", filepath.Ext(filename))
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, data, filename)
}
