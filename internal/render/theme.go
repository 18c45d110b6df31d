package render

import (
	"bytes"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
)

// Fallback highlight themes used when a configured name is unknown.
const (
	FallbackLightTheme = "github"
	FallbackDarkTheme  = "monokai"
)

// ThemeExists reports whether a chroma style with this name is registered.
func ThemeExists(name string) bool {
	_, ok := styles.Registry[name]
	return ok
}

// SyntaxCSS returns the stylesheet for a highlight theme with every rule
// nested under scope (e.g. ".theme-dark"), so a light and a dark theme
// can coexist on one page. Unknown names resolve to fallback.
func SyntaxCSS(theme, fallback, scope string) (string, error) {
	if !ThemeExists(theme) {
		theme = fallback
	}

	style := styles.Get(theme)

	var buf bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&buf, style); err != nil {
		return "", fmt.Errorf("writing css for theme %q: %w", theme, err)
	}

	return scopeCSS(buf.String(), scope), nil
}

// scopeCSS prefixes each class rule with scope. Chroma writes one rule per
// line, optionally preceded by a "/* Name */" comment.
func scopeCSS(css, scope string) string {
	lines := strings.Split(css, "\n")

	for i, line := range lines {
		comment, rule := "", line

		if strings.HasPrefix(rule, "/*") {
			end := strings.Index(rule, "*/")
			if end < 0 {
				continue
			}

			comment = rule[:end+2] + " "
			rule = strings.TrimLeft(rule[end+2:], " ")
		}

		if strings.HasPrefix(rule, ".") {
			lines[i] = comment + scope + " " + rule
		}
	}

	return strings.Join(lines, "\n")
}
