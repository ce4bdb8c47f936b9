package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/pkg/models"
)

// MarkdownParser handles Markdown, extracting YAML frontmatter into document
// metadata and keeping the body as-is. Markdown structure survives into the
// chunker, which splits on paragraph boundaries anyway.
type MarkdownParser struct{}

// NewMarkdownParser creates a Markdown parser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

func (p *MarkdownParser) Name() string { return "markdown" }

func (p *MarkdownParser) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

func (p *MarkdownParser) SupportedExtensions() []string {
	return []string{"md", "markdown", "mdown"}
}

type frontmatter struct {
	Title       string   `yaml:"title"`
	Author      string   `yaml:"author"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Tags        []string `yaml:"tags"`
}

func (p *MarkdownParser) Parse(_ context.Context, data []byte, _ string) (*ParseResult, error) {
	if !utf8.Valid(data) {
		return nil, memerr.New(memerr.KindValidation, "document is not valid UTF-8 text")
	}
	content := normalizeNewlines(string(data))

	var meta *models.DocumentMetadata
	if body, fm, ok := splitFrontmatter(content); ok {
		var parsed frontmatter
		if err := yaml.Unmarshal([]byte(fm), &parsed); err == nil {
			meta = &models.DocumentMetadata{
				Title:       parsed.Title,
				Author:      parsed.Author,
				Description: parsed.Description,
				Language:    parsed.Language,
				Tags:        parsed.Tags,
			}
			content = body
		}
		// Malformed frontmatter stays in the body rather than failing the parse.
	}

	return &ParseResult{Content: strings.TrimLeft(content, "\n"), Format: "markdown", Metadata: meta}, nil
}

// splitFrontmatter detects a leading "---" YAML block and returns
// (body, frontmatter, true) when present.
func splitFrontmatter(content string) (string, string, bool) {
	if !strings.HasPrefix(content, "---\n") {
		return content, "", false
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content, "", false
	}
	body := rest[end+4:]
	if body != "" && !strings.HasPrefix(body, "\n") {
		return content, "", false
	}
	return body, rest[:end], true
}
