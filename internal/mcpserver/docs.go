package mcpserver

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/index"
	"github.com/alexjbarnes/mdpreview/internal/render"
	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// DefaultReadLimit is the maximum number of source lines returned when no
// limit is specified.
const DefaultReadLimit = 200

// DefaultSearchResults caps search output when max_results is unset.
const DefaultSearchResults = 20

// Read formats.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Docs answers tool calls from the live document index. Only tracked
// paths are reachable, so nothing outside the root can be read.
type Docs struct {
	index    *index.Index
	scope    *scope.Classifier
	readFile func(string) ([]byte, error)
}

// NewDocs creates a Docs view over idx.
func NewDocs(idx *index.Index, classifier *scope.Classifier) *Docs {
	return &Docs{
		index:    idx,
		scope:    classifier,
		readFile: os.ReadFile,
	}
}

// DocEntry describes one document.
type DocEntry struct {
	Path  string   `json:"path"`
	Title string   `json:"title,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// ListResult is the response for docs_list.
type ListResult struct {
	Prefix    string     `json:"prefix,omitempty"`
	Total     int        `json:"total"`
	Documents []DocEntry `json:"documents"`
}

// ReadResult is the response for docs_read.
type ReadResult struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines,omitempty"`
	Showing    [2]int `json:"showing,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// SearchMatch is a single search result.
type SearchMatch struct {
	Path      string `json:"path"`
	MatchType string `json:"match_type"`
	Snippet   string `json:"snippet"`
	Line      int    `json:"line"`
}

// SearchResult is the response for docs_search.
type SearchResult struct {
	Query        string        `json:"query"`
	TotalMatches int           `json:"total_matches"`
	Results      []SearchMatch `json:"results"`
}

// List returns every document, sorted, optionally restricted to those
// under the directory prefix. Title and tags come from front matter when
// the source is readable.
func (d *Docs) List(prefix string) *ListResult {
	prefix = strings.Trim(prefix, "/")

	var paths []string
	if prefix == "" {
		paths = d.index.List()
	} else {
		paths = d.index.ListPrefix(prefix)
	}

	entries := make([]DocEntry, 0, len(paths))
	for _, p := range paths {
		entry := DocEntry{Path: p}

		if src, err := d.source(p); err == nil {
			if fm, _ := render.SplitFrontmatter(src); fm != nil {
				entry.Title = fm.Title
				entry.Tags = fm.Tags
			}
		}

		entries = append(entries, entry)
	}

	return &ListResult{
		Prefix:    prefix,
		Total:     len(entries),
		Documents: entries,
	}
}

// Read returns a document either as rendered HTML from the index or as
// markdown source with 1-indexed line pagination. A limit of 0 means all
// remaining lines, except that reads from the first line are capped at
// DefaultReadLimit.
func (d *Docs) Read(path, format string, offset, limit int) (*ReadResult, error) {
	html, ok := d.index.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, path)
	}

	switch format {
	case "", FormatHTML:
		return &ReadResult{Path: path, Format: FormatHTML, Content: html}, nil
	case FormatMarkdown:
	default:
		return nil, fmt.Errorf("unknown format %q, want %q or %q", format, FormatHTML, FormatMarkdown)
	}

	src, err := d.source(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}

	lines := strings.Split(string(src), "\n")
	totalLines := len(lines)

	if offset <= 0 {
		offset = 1
	}

	if offset > totalLines {
		return nil, fmt.Errorf("offset %d exceeds document length of %d lines", offset, totalLines)
	}

	startIdx := offset - 1
	endIdx := totalLines
	truncated := false

	if limit > 0 {
		endIdx = min(startIdx+limit, totalLines)
	} else if totalLines > DefaultReadLimit && offset == 1 {
		endIdx = DefaultReadLimit
		truncated = true
	}

	selected := lines[startIdx:endIdx]

	return &ReadResult{
		Path:       path,
		Format:     FormatMarkdown,
		Content:    strings.Join(selected, "\n"),
		TotalLines: totalLines,
		Showing:    [2]int{offset, startIdx + len(selected)},
		Truncated:  truncated,
	}, nil
}

// Search performs a case-insensitive search over document paths, front
// matter tags and source content, in that order. Each document matches
// at most once.
func (d *Docs) Search(query string, maxResults int) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}

	paths := d.index.List()
	lowerQuery := strings.ToLower(query)
	seen := make(map[string]bool)

	var matches []SearchMatch

	for _, p := range paths {
		if len(matches) >= maxResults {
			break
		}

		if strings.Contains(strings.ToLower(p), lowerQuery) {
			matches = append(matches, SearchMatch{Path: p, MatchType: "filename", Snippet: p, Line: 1})
			seen[p] = true
		}
	}

	sources := make(map[string][]byte)

	for _, p := range paths {
		if len(matches) >= maxResults {
			break
		}

		if seen[p] {
			continue
		}

		src, err := d.source(p)
		if err != nil {
			continue
		}

		sources[p] = src

		fm, _ := render.SplitFrontmatter(src)
		if fm == nil {
			continue
		}

		for _, tag := range fm.Tags {
			if strings.Contains(strings.ToLower(tag), lowerQuery) {
				matches = append(matches, SearchMatch{
					Path:      p,
					MatchType: "tag",
					Snippet:   fmt.Sprintf("tags: [%s]", strings.Join(fm.Tags, ", ")),
					Line:      1,
				})
				seen[p] = true

				break
			}
		}
	}

	for _, p := range paths {
		if len(matches) >= maxResults {
			break
		}

		src, ok := sources[p]
		if seen[p] || !ok || bytes.IndexByte(src[:min(len(src), 512)], 0) >= 0 {
			continue
		}

		for lineNum, line := range strings.Split(string(src), "\n") {
			idx := strings.Index(strings.ToLower(line), lowerQuery)
			if idx < 0 {
				continue
			}

			matches = append(matches, SearchMatch{
				Path:      p,
				MatchType: "content",
				Snippet:   buildSnippet(line, idx, len(lowerQuery)),
				Line:      lineNum + 1,
			})
			seen[p] = true

			break
		}
	}

	return &SearchResult{
		Query:        query,
		TotalMatches: len(matches),
		Results:      matches,
	}, nil
}

func (d *Docs) source(path string) ([]byte, error) {
	return d.readFile(d.scope.Abs(path))
}

// buildSnippet returns the matched text with up to 50 bytes of context on
// each side, the match wrapped in ** markers.
func buildSnippet(line string, matchStart, matchLen int) string {
	const contextChars = 50

	// Lowercasing can change byte lengths outside ASCII.
	if matchStart+matchLen > len(line) {
		return line
	}

	start := max(matchStart-contextChars, 0)
	end := min(matchStart+matchLen+contextChars, len(line))

	prefix := ""
	if start > 0 {
		prefix = "..."
	}

	suffix := ""
	if end < len(line) {
		suffix = "..."
	}

	return prefix + line[start:matchStart] + "**" + line[matchStart:matchStart+matchLen] + "**" + line[matchStart+matchLen:end] + suffix
}
