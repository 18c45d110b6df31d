package watch

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// Lister enumerates tracked paths below a directory. Satisfied by
// *index.Index.
type Lister interface {
	ListPrefix(dir string) []string
}

// Normalizer reduces RawEvents to Operations. Every Operation it returns
// refers to an in-scope path.
type Normalizer struct {
	classifier *scope.Classifier
	tracked    Lister
	stat       func(string) (fs.FileInfo, error)
}

// NewNormalizer creates a Normalizer. tracked is consulted when a
// directory disappears so its documents can be deleted; it may be nil.
func NewNormalizer(classifier *scope.Classifier, tracked Lister) *Normalizer {
	return &Normalizer{
		classifier: classifier,
		tracked:    tracked,
		stat:       os.Stat,
	}
}

// Normalize maps one RawEvent to zero or more Operations, in the order
// they must be applied.
func (n *Normalizer) Normalize(ev RawEvent) []Operation {
	var ops []Operation

	switch ev.Kind {
	case Create, RenameTo:
		for _, p := range ev.Paths {
			ops = n.appeared(ops, p)
		}

	case Write:
		for _, p := range ev.Paths {
			ops = n.upsert(ops, p)
		}

	case Remove, RenameFrom:
		for _, p := range ev.Paths {
			ops = n.vanished(ops, p)
		}

	case RenameBoth:
		if len(ev.Paths) != 2 {
			return n.resolve(ev.Paths)
		}

		ops = n.vanished(ops, ev.Paths[0])
		ops = n.appeared(ops, ev.Paths[1])

	case RenameAny:
		return n.resolve(ev.Paths)
	}

	return ops
}

// resolve decides each path by whether it exists on disk right now.
func (n *Normalizer) resolve(paths []string) []Operation {
	var ops []Operation

	for _, p := range paths {
		if _, err := n.stat(p); err == nil {
			ops = n.appeared(ops, p)
		} else {
			ops = n.vanished(ops, p)
		}
	}

	return ops
}

func (n *Normalizer) upsert(ops []Operation, abs string) []Operation {
	rel, ok := n.classifier.Classify(abs)
	if !ok {
		return ops
	}

	return append(ops, Operation{Kind: Upsert, Path: rel, Abs: abs})
}

// appeared handles a path that is new at its location. A directory that
// arrives whole (moved in, or created and filled before its watch was
// added) is walked so its documents are not missed.
func (n *Normalizer) appeared(ops []Operation, abs string) []Operation {
	info, err := n.stat(abs)
	if err != nil || !info.IsDir() {
		return n.upsert(ops, abs)
	}

	if n.classifier.SkipDir(abs) {
		return ops
	}

	_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree. Later events will fill it in.
			if d != nil && d.IsDir() && path != abs {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if path != abs && n.classifier.SkipDir(path) {
				return filepath.SkipDir
			}

			return nil
		}

		ops = n.upsert(ops, path)

		return nil
	})

	return ops
}

// vanished handles a path that no longer exists at its location. When the
// path was a directory, every tracked document below it goes too. A
// directory can carry the tracked extension itself, so both apply.
func (n *Normalizer) vanished(ops []Operation, abs string) []Operation {
	if rel, ok := n.classifier.Classify(abs); ok {
		ops = append(ops, Operation{Kind: Delete, Path: rel, Abs: abs})
	}

	if n.tracked == nil {
		return ops
	}

	rel, ok := n.classifier.Rel(abs)
	if !ok {
		return ops
	}

	for _, p := range n.tracked.ListPrefix(rel) {
		ops = append(ops, Operation{Kind: Delete, Path: p, Abs: n.classifier.Abs(p)})
	}

	return ops
}
