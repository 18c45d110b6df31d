// Package scan performs the one-shot startup walk that seeds the document
// index.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// Renderer turns document source into HTML.
type Renderer interface {
	Render(src []byte) (string, error)
}

// Options tunes a Scan. Zero values select the defaults.
type Options struct {
	// Workers bounds concurrent reads and renders. Defaults to NumCPU.
	Workers  int
	Logger   *slog.Logger
	ReadFile func(string) ([]byte, error)
}

// Scan walks the classifier's root, pruning excluded directories, and
// renders every in-scope document in parallel. Documents that cannot be
// read or rendered are logged and left out. Only a failure to walk the
// root itself, or ctx cancellation, is returned as an error.
func Scan(ctx context.Context, classifier *scope.Classifier, renderer Renderer, opts Options) (map[string]string, error) {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}

	start := time.Now()

	paths, err := discover(classifier, opts.Logger)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		docs = make(map[string]string, len(paths))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for rel, abs := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			src, err := opts.ReadFile(abs)
			if err != nil {
				opts.Logger.Warn("reading document, skipping",
					slog.String("path", rel),
					slog.String("error", err.Error()),
				)

				return nil
			}

			html, err := renderer.Render(src)
			if err != nil {
				opts.Logger.Warn("rendering document, skipping",
					slog.String("path", rel),
					slog.String("error", err.Error()),
				)

				return nil
			}

			mu.Lock()
			docs[rel] = html
			mu.Unlock()

			opts.Logger.Debug("rendered document", slog.String("path", rel))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	opts.Logger.Info("initial scan complete",
		slog.Int("documents", len(docs)),
		slog.Int("workers", opts.Workers),
		slog.Duration("elapsed", time.Since(start)),
	)

	return docs, nil
}

// discover lists in-scope files as TrackedPath -> absolute path.
func discover(classifier *scope.Classifier, logger *slog.Logger) (map[string]string, error) {
	root := classifier.Root()
	paths := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}

			logger.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if classifier.SkipDir(path) {
				return filepath.SkipDir
			}

			return nil
		}

		if rel, ok := classifier.Classify(path); ok {
			paths[rel] = path
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return paths, nil
}
