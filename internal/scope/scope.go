// Package scope decides which filesystem paths are tracked documents.
// It does no I/O: every decision is made from the path string alone, so
// the same Classifier serves as a walk-time pruning predicate and as a
// per-event filter.
package scope

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultExcludeDirs are directory names that are never descended into, in
// addition to any directory whose name starts with a dot.
var DefaultExcludeDirs = []string{".git", "node_modules"}

// Classifier tests absolute paths against a root directory. It is immutable
// after construction and safe for concurrent use.
type Classifier struct {
	root     string
	ext      string
	excluded map[string]struct{}
	globs    []glob.Glob
}

// Options configures a Classifier. Zero values select the defaults.
type Options struct {
	// Extension is the tracked file extension including the dot.
	Extension string
	// ExcludeDirs are directory names pruned anywhere under the root.
	ExcludeDirs []string
	// ExcludeGlobs are matched against the slash-separated path relative
	// to the root, e.g. "drafts/**".
	ExcludeGlobs []string
}

// New creates a Classifier for the given absolute root.
func New(root string, opts Options) (*Classifier, error) {
	if opts.Extension == "" {
		opts.Extension = ".md"
	}

	if opts.ExcludeDirs == nil {
		opts.ExcludeDirs = DefaultExcludeDirs
	}

	c := &Classifier{
		root:     filepath.Clean(root),
		ext:      opts.Extension,
		excluded: make(map[string]struct{}, len(opts.ExcludeDirs)),
	}

	for _, name := range opts.ExcludeDirs {
		name = strings.TrimSpace(name)
		if name != "" {
			c.excluded[name] = struct{}{}
		}
	}

	for _, pattern := range opts.ExcludeGlobs {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", pattern, err)
		}

		c.globs = append(c.globs, g)
	}

	return c, nil
}

// Root returns the directory the classifier is anchored to.
func (c *Classifier) Root() string {
	return c.root
}

// Extension returns the tracked file extension.
func (c *Classifier) Extension() string {
	return c.ext
}

// Classify returns the TrackedPath for absPath and true when the path is
// in scope: it lies strictly inside the root, carries the tracked
// extension, and no segment is hidden, excluded or glob-excluded.
func (c *Classifier) Classify(absPath string) (string, bool) {
	rel, ok := c.Rel(absPath)
	if !ok {
		return "", false
	}

	if filepath.Ext(rel) != c.ext {
		return "", false
	}

	if c.excludedRel(rel) {
		return "", false
	}

	return rel, true
}

// InScope reports whether absPath classifies as a tracked document.
func (c *Classifier) InScope(absPath string) bool {
	_, ok := c.Classify(absPath)
	return ok
}

// SkipDir reports whether a directory should be pruned during a walk or
// left unwatched. The root itself is never skipped.
func (c *Classifier) SkipDir(absPath string) bool {
	if filepath.Clean(absPath) == c.root {
		return false
	}

	rel, ok := c.Rel(absPath)
	if !ok {
		return true
	}

	return c.excludedRel(rel)
}

// Rel converts absPath into a slash-separated path relative to the root.
// Names are kept byte for byte: two files whose names differ only in
// Unicode normalization are distinct documents. It fails for the root itself, for paths outside the root,
// and for empty or garbled input.
func (c *Classifier) Rel(absPath string) (string, bool) {
	if absPath == "" || strings.ContainsRune(absPath, 0) {
		return "", false
	}

	rel, err := filepath.Rel(c.root, absPath)
	if err != nil {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", false
	}

	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." || seg == "" {
			return "", false
		}
	}

	return rel, true
}

// Abs converts a TrackedPath back into an absolute host path.
func (c *Classifier) Abs(tracked string) string {
	return filepath.Join(c.root, filepath.FromSlash(tracked))
}

func (c *Classifier) excludedRel(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}

		if _, ok := c.excluded[seg]; ok {
			return true
		}
	}

	for _, g := range c.globs {
		if g.Match(rel) {
			return true
		}
	}

	return false
}
