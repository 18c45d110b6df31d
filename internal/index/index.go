// Package index holds the in-memory map of rendered documents keyed by
// their root-relative path.
package index

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Index maps TrackedPath to rendered HTML. It is safe for concurrent use:
// one writer (the synchronization loop) and any number of readers. The
// lock is held only for the map operation itself, never across file
// reads or rendering.
type Index struct {
	mu   sync.RWMutex
	docs map[string]string // path -> rendered html
}

// New creates an empty index.
func New() *Index {
	return &Index{
		docs: make(map[string]string),
	}
}

// Upsert inserts or overwrites the document at path and reports whether
// the path was previously absent.
func (idx *Index) Upsert(path, html string) bool {
	_, existed := idx.Swap(path, html)
	return !existed
}

// Swap stores html at path and returns the previous content, if any.
func (idx *Index) Swap(path, html string) (string, bool) {
	idx.mu.Lock()
	prev, existed := idx.docs[path]
	idx.docs[path] = html
	idx.mu.Unlock()

	return prev, existed
}

// Remove deletes the document at path and reports whether it existed.
func (idx *Index) Remove(path string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.docs[path]; !ok {
		return false
	}

	delete(idx.docs, path)

	return true
}

// Get returns the rendered content for path.
func (idx *Index) Get(path string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	html, ok := idx.docs[path]

	return html, ok
}

// List returns a snapshot of every path in ascending lexicographic order.
func (idx *Index) List() []string {
	idx.mu.RLock()
	paths := slices.Collect(maps.Keys(idx.docs))
	idx.mu.RUnlock()

	slices.Sort(paths)

	return paths
}

// ListPrefix returns the sorted paths that live under the directory dir.
// An empty dir matches nothing.
func (idx *Index) ListPrefix(dir string) []string {
	if dir == "" {
		return nil
	}

	prefix := strings.TrimSuffix(dir, "/") + "/"

	idx.mu.RLock()

	var paths []string

	for p := range idx.docs {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}

	idx.mu.RUnlock()

	slices.Sort(paths)

	return paths
}

// Len returns the number of documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.docs)
}

// Replace swaps the whole map for docs in a single step. Used once to
// install the Initial Scan result.
func (idx *Index) Replace(docs map[string]string) {
	next := make(map[string]string, len(docs))
	maps.Copy(next, docs)

	idx.mu.Lock()
	idx.docs = next
	idx.mu.Unlock()
}
