package parser

import (
	"context"
	"html"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/pkg/models"
)

// HTMLParser converts HTML to Markdown-like text.
type HTMLParser struct{}

// NewHTMLParser creates an HTML parser.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

func (p *HTMLParser) Name() string { return "html" }

func (p *HTMLParser) SupportedTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func (p *HTMLParser) SupportedExtensions() []string {
	return []string{"html", "htm", "xhtml"}
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func (p *HTMLParser) Parse(_ context.Context, data []byte, _ string) (*ParseResult, error) {
	content, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return nil, memerr.Wrap(memerr.KindValidation, err, "convert html")
	}

	var meta *models.DocumentMetadata
	if m := titleRe.FindSubmatch(data); m != nil {
		title := strings.TrimSpace(html.UnescapeString(string(m[1])))
		if title != "" {
			meta = &models.DocumentMetadata{Title: title}
		}
	}

	return &ParseResult{
		Content:  normalizeNewlines(strings.TrimSpace(content)),
		Format:   "html",
		Metadata: meta,
	}, nil
}
