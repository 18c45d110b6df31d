package server

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/alexjbarnes/mdpreview/internal/render"
)

var (
	//go:embed assets/shell.html
	shellHTML string
	//go:embed assets/base.css
	baseCSS string
	//go:embed assets/app.js
	appJS string
)

var shellTemplate = template.Must(template.New("shell").Parse(shellHTML))

const emptyContent = "<p>No markdown files found in this directory.</p>"

type pageData struct {
	Title    string
	Path     string
	Content  template.HTML
	BaseCSS  template.CSS
	LightCSS template.CSS
	DarkCSS  template.CSS
	AppJS    template.JS
}

// Shell wraps rendered fragments in the full page: sidebar, styles and
// the live-reload script. Syntax stylesheets are computed once.
type Shell struct {
	lightCSS template.CSS
	darkCSS  template.CSS
}

// NewShell builds a Shell for the given highlight themes. Unknown theme
// names fall back to the defaults with a warning.
func NewShell(lightTheme, darkTheme string, logger *slog.Logger) (*Shell, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, t := range []struct{ name, fallback string }{
		{lightTheme, render.FallbackLightTheme},
		{darkTheme, render.FallbackDarkTheme},
	} {
		if !render.ThemeExists(t.name) {
			logger.Warn("unknown syntax theme, using fallback",
				slog.String("theme", t.name),
				slog.String("fallback", t.fallback),
			)
		}
	}

	light, err := render.SyntaxCSS(lightTheme, render.FallbackLightTheme, ".theme-light")
	if err != nil {
		return nil, fmt.Errorf("light syntax theme: %w", err)
	}

	dark, err := render.SyntaxCSS(darkTheme, render.FallbackDarkTheme, ".theme-dark")
	if err != nil {
		return nil, fmt.Errorf("dark syntax theme: %w", err)
	}

	return &Shell{
		lightCSS: template.CSS(light), //nolint:gosec // G203: generated by chroma
		darkCSS:  template.CSS(dark),  //nolint:gosec // G203: generated by chroma
	}, nil
}

// Page renders the document at path. html is trusted renderer output.
func (s *Shell) Page(path, html string) ([]byte, error) {
	return s.execute(pageData{
		Title:   path,
		Path:    path,
		Content: template.HTML(html), //nolint:gosec // G203: renderer output
	})
}

// Empty renders the page shown when there are no documents.
func (s *Shell) Empty() ([]byte, error) {
	return s.execute(pageData{
		Title:   "No files",
		Content: emptyContent,
	})
}

func (s *Shell) execute(data pageData) ([]byte, error) {
	data.BaseCSS = template.CSS(baseCSS) //nolint:gosec // G203: embedded asset
	data.AppJS = template.JS(appJS)      //nolint:gosec // G203: embedded asset
	data.LightCSS = s.lightCSS
	data.DarkCSS = s.darkCSS

	var buf bytes.Buffer
	if err := shellTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}

	return buf.Bytes(), nil
}
