package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/megaagent/memcore/internal/memerr"
)

// TextParser handles plain text and is the registry fallback.
type TextParser struct{}

// NewTextParser creates a plain-text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

func (p *TextParser) Name() string { return "text" }

func (p *TextParser) SupportedTypes() []string {
	return []string{"text/plain"}
}

func (p *TextParser) SupportedExtensions() []string {
	return []string{"txt", "text", "log", "csv"}
}

func (p *TextParser) Parse(_ context.Context, data []byte, _ string) (*ParseResult, error) {
	if !utf8.Valid(data) {
		return nil, memerr.New(memerr.KindValidation, "document is not valid UTF-8 text")
	}
	content := normalizeNewlines(string(data))
	return &ParseResult{Content: content, Format: "txt"}, nil
}

// normalizeNewlines converts CRLF and lone CR to LF so chunk offsets are
// stable across platforms.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
