// Package render turns markdown source into HTML fragments. It is the only
// place that knows about the markdown dialect; the rest of the system
// treats rendered output as an opaque string.
package render

import (
	"bytes"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts raw document bytes into rendered content.
type Renderer interface {
	Render(src []byte) (string, error)
}

// Markdown renders GitHub-flavoured markdown (tables, strikethrough, task
// lists, autolinks, footnotes) with class-based syntax highlighting for
// fenced code blocks. YAML front matter is stripped before rendering.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a markdown renderer. It is safe for concurrent use.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
				highlighting.NewHighlighting(
					highlighting.WithFormatOptions(
						chromahtml.WithClasses(true),
					),
				),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithUnsafe(),
			),
		),
	}
}

// Render converts src to an HTML fragment.
func (m *Markdown) Render(src []byte) (string, error) {
	_, body := SplitFrontmatter(src)

	var buf bytes.Buffer
	if err := m.md.Convert(body, &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}

	return buf.String(), nil
}
