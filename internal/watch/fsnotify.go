package watch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
	"github.com/alexjbarnes/mdpreview/internal/scope"
)

// fsnotifySource watches every non-excluded directory under the root
// individually, since fsnotify is not recursive. New directories get a
// watch as their create event arrives.
type fsnotifySource struct {
	classifier *scope.Classifier
	logger     *slog.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	once    sync.Once
}

func newFSNotifySource(classifier *scope.Classifier, logger *slog.Logger) *fsnotifySource {
	return &fsnotifySource{
		classifier: classifier,
		logger:     logger.With(slog.String("backend", BackendFSNotify)),
	}
}

func (s *fsnotifySource) Start(emit func(RawEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating fsnotify watcher: %w", apperrors.ErrWatchSetup, err)
	}

	s.watcher = watcher

	if err := s.addRecursive(s.classifier.Root()); err != nil {
		_ = watcher.Close()
		s.watcher = nil

		return fmt.Errorf("%w: watching %s: %w", apperrors.ErrWatchSetup, s.classifier.Root(), err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop(emit)
	}()

	s.logger.Info("watching for changes", slog.String("root", s.classifier.Root()))

	return nil
}

func (s *fsnotifySource) loop(emit func(RawEvent)) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			s.handleEvent(event, emit)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Non-fatal, e.g. queue overflow or too many watches. The
			// index converges on the next event for affected paths.
			s.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (s *fsnotifySource) handleEvent(event fsnotify.Event, emit func(RawEvent)) {
	paths := []string{event.Name}

	if event.Has(fsnotify.Create) {
		// Lstat so symlinked directories outside the root are not followed.
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() && !s.classifier.SkipDir(event.Name) {
			if err := s.addRecursive(event.Name); err != nil {
				s.logger.Warn("watching new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
		}

		emit(RawEvent{Kind: Create, Paths: paths})
	}

	if event.Has(fsnotify.Write) {
		emit(RawEvent{Kind: Write, Paths: paths})
	}

	if event.Has(fsnotify.Remove) {
		// Harmless if the path was not a watched directory.
		_ = s.watcher.Remove(event.Name)
		emit(RawEvent{Kind: Remove, Paths: paths})
	}

	if event.Has(fsnotify.Rename) {
		// fsnotify reports the old name only. The new name arrives as a
		// Create when it lands inside a watched directory.
		_ = s.watcher.Remove(event.Name)
		emit(RawEvent{Kind: RenameAny, Paths: paths})
	}
}

// addRecursive adds a watch for dir and every directory below it that the
// classifier does not prune.
func (s *fsnotifySource) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Subdirectory vanished or is unreadable.
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if s.classifier.SkipDir(path) {
			return filepath.SkipDir
		}

		return s.watcher.Add(path)
	})
}

func (s *fsnotifySource) Close() error {
	var err error

	s.once.Do(func() {
		if s.watcher == nil {
			return
		}

		err = s.watcher.Close()
		s.wg.Wait()
	})

	return err
}
